package assistant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aide/internal/convo"
	"aide/internal/llm"
	"aide/internal/persona"
	"aide/internal/tts"
)

type fakeCompleter struct {
	answer    string
	err       error
	fragments []llm.Fragment

	calls   int
	lastEnv llm.Envelope
}

func (f *fakeCompleter) Complete(ctx context.Context, env llm.Envelope) (string, error) {
	f.calls++
	f.lastEnv = env
	return f.answer, f.err
}

func (f *fakeCompleter) Stream(ctx context.Context, env llm.Envelope) <-chan llm.Fragment {
	f.calls++
	f.lastEnv = env
	out := make(chan llm.Fragment)
	go func() {
		defer close(out)
		for _, fr := range f.fragments {
			out <- fr
		}
	}()
	return out
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio []byte, hint string) (string, error) {
	return f.text, f.err
}

// fakeSynth writes real files through the store so Clear has something to
// reclaim.
type fakeSynth struct {
	store *tts.Store
	err   error
}

func (f *fakeSynth) Synthesize(ctx context.Context, text string) (*tts.Artifact, error) {
	if f.err != nil {
		return nil, f.err
	}
	id, file, err := f.store.Create()
	if err != nil {
		return nil, err
	}
	if _, err := file.WriteString("RIFF"); err != nil {
		file.Close()
		return nil, err
	}
	if err := file.Close(); err != nil {
		return nil, err
	}
	path, _ := f.store.Path(id)
	return &tts.Artifact{ID: id, Path: path}, nil
}

func newTestSession(t *testing.T, c llm.Completer, cfg Config) *Session {
	t.Helper()
	return New(Deps{Completer: c, Persona: persona.Default()}, cfg)
}

func TestAskAppendsBothTurns(t *testing.T) {
	c := &fakeCompleter{answer: "hi there"}
	sess := newTestSession(t, c, Config{})

	reply, err := sess.Ask(context.Background(), "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "hello", reply.Question)
	assert.Equal(t, "hi there", reply.Answer)
	assert.Equal(t, sess.ID(), reply.ConversationID)

	turns := sess.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, convo.RoleUser, turns[0].Role)
	assert.Equal(t, "hello", turns[0].Content)
	assert.Equal(t, convo.RoleAssistant, turns[1].Role)
	assert.Equal(t, "hi there", turns[1].Content)
}

func TestEnvelopeCarriesInputExactlyOnce(t *testing.T) {
	c := &fakeCompleter{answer: "a1"}
	sess := newTestSession(t, c, Config{})

	_, err := sess.Ask(context.Background(), "first question")
	require.NoError(t, err)

	// First turn: no history yet, just the new input.
	require.Len(t, c.lastEnv.Messages, 1)
	assert.Equal(t, llm.RoleUser, c.lastEnv.Messages[0].Role)
	assert.Equal(t, "first question", c.lastEnv.Messages[0].Content)
	assert.NotEmpty(t, c.lastEnv.System)

	_, err = sess.Ask(context.Background(), "second question")
	require.NoError(t, err)

	// Second turn: the two prior turns plus the new input, nothing doubled.
	require.Len(t, c.lastEnv.Messages, 3)
	assert.Equal(t, "first question", c.lastEnv.Messages[0].Content)
	assert.Equal(t, "a1", c.lastEnv.Messages[1].Content)
	assert.Equal(t, llm.RoleAssistant, c.lastEnv.Messages[1].Role)
	assert.Equal(t, "second question", c.lastEnv.Messages[2].Content)
}

func TestEnvelopeWindowBound(t *testing.T) {
	c := &fakeCompleter{answer: "ok"}
	sess := newTestSession(t, c, Config{WindowSize: 2})

	for _, q := range []string{"q1", "q2", "q3"} {
		_, err := sess.Ask(context.Background(), q)
		require.NoError(t, err)
	}

	// Last call sees only the newest two turns of history.
	require.Len(t, c.lastEnv.Messages, 3)
	assert.Equal(t, "q2", c.lastEnv.Messages[0].Content)
	assert.Equal(t, "ok", c.lastEnv.Messages[1].Content)
	assert.Equal(t, "q3", c.lastEnv.Messages[2].Content)
}

func TestEmptyInputRejected(t *testing.T) {
	c := &fakeCompleter{answer: "never"}
	sess := newTestSession(t, c, Config{})

	_, err := sess.Ask(context.Background(), "   \n\t ")
	require.ErrorIs(t, err, ErrNoInput)

	assert.Zero(t, c.calls, "no completion call for rejected input")
	assert.Empty(t, sess.Turns())
}

func TestCompletionFailureKeepsUserTurn(t *testing.T) {
	c := &fakeCompleter{err: llm.ErrUpstream}
	sess := newTestSession(t, c, Config{})

	_, err := sess.Ask(context.Background(), "hello")
	require.ErrorIs(t, err, llm.ErrUpstream)

	turns := sess.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, convo.RoleUser, turns[0].Role)
}

func TestStreamAccumulatesIntoTurn(t *testing.T) {
	c := &fakeCompleter{fragments: []llm.Fragment{
		{Text: "Hel"},
		{Text: "lo "},
		{Text: "world"},
		{Done: true},
	}}
	sess := newTestSession(t, c, Config{})

	events, err := sess.AskStream(context.Background(), "greet me")
	require.NoError(t, err)

	var got string
	var done bool
	for ev := range events {
		require.NoError(t, ev.Err)
		if ev.Done {
			done = true
			continue
		}
		got += ev.Text
	}
	require.True(t, done)
	assert.Equal(t, "Hello world", got)

	turns := sess.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, "Hello world", turns[1].Content,
		"stored turn equals the fragment concatenation")
}

func TestStreamErrorForwardsPartialAndAppendsNothing(t *testing.T) {
	c := &fakeCompleter{fragments: []llm.Fragment{
		{Text: "Hel"},
		{Text: "lo"},
		{Err: llm.ErrUpstream},
	}}
	sess := newTestSession(t, c, Config{})

	events, err := sess.AskStream(context.Background(), "greet me")
	require.NoError(t, err)

	var texts []string
	var streamErr error
	for ev := range events {
		if ev.Err != nil {
			streamErr = ev.Err
			continue
		}
		require.False(t, ev.Done)
		texts = append(texts, ev.Text)
	}
	assert.Equal(t, []string{"Hel", "lo"}, texts)
	require.ErrorIs(t, streamErr, llm.ErrUpstream)

	turns := sess.Turns()
	require.Len(t, turns, 1, "failed stream leaves only the user turn")
	assert.Equal(t, convo.RoleUser, turns[0].Role)
}

// endlessCompleter streams fragments until its context is cancelled,
// signalling release of the upstream stream on exit.
type endlessCompleter struct {
	released chan struct{}
}

func (c *endlessCompleter) Complete(ctx context.Context, env llm.Envelope) (string, error) {
	return "", errors.New("not used")
}

func (c *endlessCompleter) Stream(ctx context.Context, env llm.Envelope) <-chan llm.Fragment {
	out := make(chan llm.Fragment)
	go func() {
		defer close(out)
		defer close(c.released)
		for {
			select {
			case out <- llm.Fragment{Text: "x"}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func TestStreamConsumerCancelAppendsNothing(t *testing.T) {
	c := &endlessCompleter{released: make(chan struct{})}
	sess := newTestSession(t, c, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	events, err := sess.AskStream(ctx, "never ending story")
	require.NoError(t, err)

	ev, ok := <-events
	require.True(t, ok)
	require.NotEmpty(t, ev.Text)
	cancel()

	// The channel must close without a terminal element.
	for ev := range events {
		assert.NoError(t, ev.Err)
		assert.False(t, ev.Done)
	}

	select {
	case <-c.released:
	case <-time.After(time.Second):
		t.Fatal("upstream stream was not released after cancel")
	}

	turns := sess.Turns()
	require.Len(t, turns, 1, "cancelled stream leaves only the user turn")
	assert.Equal(t, convo.RoleUser, turns[0].Role)
}

func TestStreamEmptyInputRejected(t *testing.T) {
	c := &fakeCompleter{}
	sess := newTestSession(t, c, Config{})

	_, err := sess.AskStream(context.Background(), "")
	require.ErrorIs(t, err, ErrNoInput)
	assert.Zero(t, c.calls)
}

func TestVoiceEmptyTranscriptRejected(t *testing.T) {
	c := &fakeCompleter{}
	sess := New(Deps{
		Completer:   c,
		Transcriber: &fakeTranscriber{text: "   "},
		Persona:     persona.Default(),
	}, Config{})

	_, err := sess.AskVoice(context.Background(), []byte("fake-audio"), "q.wav")
	require.ErrorIs(t, err, ErrNoInput)
	assert.Zero(t, c.calls)
	assert.Empty(t, sess.Turns())
}

func TestVoiceTurnRecordsModality(t *testing.T) {
	c := &fakeCompleter{answer: "sure"}
	sess := New(Deps{
		Completer:   c,
		Transcriber: &fakeTranscriber{text: "what time is it"},
		Persona:     persona.Default(),
	}, Config{})

	reply, err := sess.AskVoice(context.Background(), []byte("fake-audio"), "q.wav")
	require.NoError(t, err)
	assert.Equal(t, "what time is it", reply.Question)

	turns := sess.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, convo.ModalityVoice, turns[0].Modality)
}

func TestSynthesisFailureDegradesToText(t *testing.T) {
	store, err := tts.NewStore(t.TempDir())
	require.NoError(t, err)

	c := &fakeCompleter{answer: "spoken reply"}
	sess := New(Deps{
		Completer:   c,
		Synthesizer: &fakeSynth{store: store, err: errors.New("speech backend down")},
		Store:       store,
		Persona:     persona.Default(),
	}, Config{Speak: true})

	reply, err := sess.Ask(context.Background(), "say it")
	require.NoError(t, err, "synthesis failure must not fail the turn")
	assert.Empty(t, reply.ArtifactID)

	turns := sess.Turns()
	require.Len(t, turns, 2)
	assert.Empty(t, turns[1].ArtifactID)
}

func TestSpeakAttachesArtifactAndClearReclaims(t *testing.T) {
	store, err := tts.NewStore(t.TempDir())
	require.NoError(t, err)

	c := &fakeCompleter{answer: "spoken reply"}
	sess := New(Deps{
		Completer:   c,
		Synthesizer: &fakeSynth{store: store},
		Store:       store,
		Persona:     persona.Default(),
	}, Config{Speak: true})

	reply, err := sess.Ask(context.Background(), "say it")
	require.NoError(t, err)
	require.NotEmpty(t, reply.ArtifactID)

	turns := sess.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, reply.ArtifactID, turns[1].ArtifactID)
	_, ok := store.Path(reply.ArtifactID)
	assert.True(t, ok)

	sess.Clear()
	assert.Empty(t, sess.Turns())
	_, ok = store.Path(reply.ArtifactID)
	assert.False(t, ok, "clear reclaims session artifacts")
}
