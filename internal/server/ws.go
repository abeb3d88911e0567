package server

import (
	log "log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
}

// handleWSChat is the socket variant of /chat: one JSON request per
// message, answered by the same event vocabulary the SSE stream uses.
func (s *Server) handleWSChat(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var req wsChatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				log.Debug("ws read failed", "err", err)
			}
			return
		}

		sess := s.session(req.ConversationID)
		events, err := sess.AskStream(r.Context(), req.Message)
		if err != nil {
			_ = conn.WriteJSON(map[string]string{"type": "error", "error": err.Error()})
			continue
		}

		_ = conn.WriteJSON(map[string]string{"type": "conversation_id", "conversationId": sess.ID()})
		for ev := range events {
			switch {
			case ev.Err != nil:
				_ = conn.WriteJSON(map[string]string{"type": "error", "error": ev.Err.Error()})
			case ev.Done:
				_ = conn.WriteJSON(map[string]string{"type": "end"})
			default:
				_ = conn.WriteJSON(map[string]string{"type": "content", "content": ev.Text})
			}
		}
	}
}
