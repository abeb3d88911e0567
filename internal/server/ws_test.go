package server

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aide/internal/llm"
)

func dialWS(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(env.mux)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWSChatStreamsEvents(t *testing.T) {
	env := newTestEnv(t, Dependencies{Completer: &fakeCompleter{fragments: []llm.Fragment{
		{Text: "Hel"},
		{Text: "lo"},
		{Done: true},
	}}})
	conn := dialWS(t, env)

	require.NoError(t, conn.WriteJSON(wsChatRequest{Message: "hi"}))

	var events []map[string]string
	for {
		var ev map[string]string
		require.NoError(t, conn.ReadJSON(&ev))
		events = append(events, ev)
		if ev["type"] == "end" || ev["type"] == "error" {
			break
		}
	}

	require.Len(t, events, 4)
	assert.Equal(t, "conversation_id", events[0]["type"])
	assert.NotEmpty(t, events[0]["conversationId"])
	assert.Equal(t, "Hel", events[1]["content"])
	assert.Equal(t, "lo", events[2]["content"])
	assert.Equal(t, "end", events[3]["type"])
}

func TestWSChatStreamError(t *testing.T) {
	env := newTestEnv(t, Dependencies{Completer: &fakeCompleter{fragments: []llm.Fragment{
		{Text: "par"},
		{Err: llm.ErrUpstream},
	}}})
	conn := dialWS(t, env)

	require.NoError(t, conn.WriteJSON(wsChatRequest{Message: "hi"}))

	var events []map[string]string
	for {
		var ev map[string]string
		require.NoError(t, conn.ReadJSON(&ev))
		events = append(events, ev)
		if ev["type"] == "end" || ev["type"] == "error" {
			break
		}
	}

	require.Len(t, events, 3)
	assert.Equal(t, "content", events[1]["type"])
	assert.Equal(t, "error", events[2]["type"])
	assert.NotEmpty(t, events[2]["error"])
}

func TestWSChatEmptyMessage(t *testing.T) {
	env := newTestEnv(t, Dependencies{})
	conn := dialWS(t, env)

	require.NoError(t, conn.WriteJSON(wsChatRequest{Message: "   "}))

	var ev map[string]string
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "error", ev["type"])

	// The socket stays usable after a rejected message.
	require.NoError(t, conn.WriteJSON(wsChatRequest{Message: "hi"}))
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "conversation_id", ev["type"])
}
