// Package assistant orchestrates one conversation: it accepts a text or
// voice utterance, drives the transcription, completion and synthesis
// adapters in order, and keeps the conversation window consistent.
package assistant

import (
	"context"
	"errors"
	log "log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"aide/internal/convo"
	"aide/internal/llm"
	"aide/internal/persona"
	"aide/internal/stt"
	"aide/internal/tts"
)

// ErrNoInput flags empty or untranscribable input. User-correctable;
// nothing is appended and no upstream call is made.
var ErrNoInput = errors.New("no usable input")

const (
	defaultWindowSize  = 5
	defaultTemperature = 0.7
	defaultMaxTokens   = 1000
)

type Config struct {
	WindowSize  int
	Temperature float64
	MaxTokens   int
	// Speak synthesizes blocking-path replies when a synthesizer is wired.
	Speak bool
}

type Deps struct {
	Completer   llm.Completer
	Synthesizer tts.Synthesizer
	Transcriber stt.Transcriber
	Store       *tts.Store
	Persona     persona.Persona
}

// Reply is the terminal outcome of a successful blocking turn.
type Reply struct {
	ConversationID string `json:"conversationId"`
	Question       string `json:"question"`
	Answer         string `json:"answer"`
	ArtifactID     string `json:"artifactId,omitempty"`
}

// StreamEvent mirrors llm.Fragment at the orchestrator boundary.
type StreamEvent struct {
	Text string
	Err  error
	Done bool
}

// Session owns one conversation window. Turns are processed sequentially;
// the mutex serializes concurrent transport calls for the same session.
type Session struct {
	id   string
	deps Deps
	cfg  Config

	mu        sync.Mutex
	window    *convo.Window
	artifacts []string
}

func New(deps Deps, cfg Config) *Session {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = defaultWindowSize
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	return &Session{
		id:     uuid.NewString(),
		deps:   deps,
		cfg:    cfg,
		window: convo.NewWindow(),
	}
}

func (s *Session) ID() string { return s.id }

// Turns returns the full history for display.
func (s *Session) Turns() []convo.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window.Turns()
}

// Ask runs the blocking path: prompt build, completion, optional speech.
// On completion failure the user turn is retained and no assistant turn
// is appended.
func (s *Session) Ask(ctx context.Context, input string) (*Reply, error) {
	return s.ask(ctx, input, convo.ModalityText)
}

// AskVoice transcribes the audio first; an empty transcript aborts the
// turn with ErrNoInput and no state change.
func (s *Session) AskVoice(ctx context.Context, audio []byte, hint string) (*Reply, error) {
	if s.deps.Transcriber == nil {
		return nil, errors.New("no transcriber configured")
	}
	question, err := s.deps.Transcriber.Transcribe(ctx, audio, hint)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(question) == "" {
		return nil, ErrNoInput
	}
	return s.ask(ctx, question, convo.ModalityVoice)
}

func (s *Session) ask(ctx context.Context, input string, mod convo.Modality) (*Reply, error) {
	text := strings.TrimSpace(input)
	if text == "" {
		return nil, ErrNoInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	env := s.buildEnvelope(text)
	s.window.Append(convo.Turn{Role: convo.RoleUser, Content: text, Modality: mod})

	answer, err := s.deps.Completer.Complete(ctx, env)
	if err != nil {
		return nil, err
	}
	s.window.Append(convo.Turn{Role: convo.RoleAssistant, Content: answer})

	reply := &Reply{
		ConversationID: s.id,
		Question:       text,
		Answer:         answer,
	}
	reply.ArtifactID = s.speak(ctx, answer)
	return reply, nil
}

// AskStream runs the streaming path. Fragments are forwarded to the
// returned channel as they arrive; on the terminal Done the accumulated
// text becomes the assistant turn. On a terminal error, or when the
// consumer's context is cancelled, no assistant turn is appended.
func (s *Session) AskStream(ctx context.Context, input string) (<-chan StreamEvent, error) {
	text := strings.TrimSpace(input)
	if text == "" {
		return nil, ErrNoInput
	}

	s.mu.Lock()
	env := s.buildEnvelope(text)
	s.window.Append(convo.Turn{Role: convo.RoleUser, Content: text, Modality: convo.ModalityText})
	fragments := s.deps.Completer.Stream(ctx, env)

	out := make(chan StreamEvent)
	go func() {
		defer s.mu.Unlock()
		defer close(out)

		emit := func(ev StreamEvent) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var full strings.Builder
		for f := range fragments {
			switch {
			case f.Err != nil:
				// Partial fragments already forwarded stay valid for the
				// consumer; the turn itself is failed.
				emit(StreamEvent{Err: f.Err})
				return
			case f.Done:
				s.window.Append(convo.Turn{Role: convo.RoleAssistant, Content: full.String()})
				emit(StreamEvent{Done: true})
				return
			default:
				full.WriteString(f.Text)
				if !emit(StreamEvent{Text: f.Text}) {
					return
				}
			}
		}
		// Fragment channel closed without a terminal element: the consumer
		// went away mid-stream. Nothing is appended.
	}()
	return out, nil
}

// Clear truncates the window and reclaims every artifact this session owns.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.window.Clear()
	if s.deps.Store != nil {
		for _, id := range s.artifacts {
			if err := s.deps.Store.Remove(id); err != nil {
				log.Warn("failed to reclaim artifact", "id", id, "err", err)
			}
		}
	}
	s.artifacts = nil
}

// buildEnvelope renders the window before the new input is appended, so
// the input appears in the envelope exactly once. Caller holds the lock.
func (s *Session) buildEnvelope(text string) llm.Envelope {
	turns := s.window.Render(s.cfg.WindowSize)
	msgs := make([]llm.Message, 0, len(turns)+1)
	for _, t := range turns {
		msgs = append(msgs, llm.Message{Role: llm.Role(t.Role), Content: t.Content})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: text})

	return llm.Envelope{
		System:      s.deps.Persona.SystemMessages(),
		Messages:    msgs,
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	}
}

// speak synthesizes the answer and attaches the artifact to the turn just
// appended. Failure degrades to a text-only turn, never aborts it.
// Caller holds the lock.
func (s *Session) speak(ctx context.Context, answer string) string {
	if !s.cfg.Speak || s.deps.Synthesizer == nil {
		return ""
	}
	art, err := s.deps.Synthesizer.Synthesize(ctx, answer)
	if err != nil {
		log.Warn("speech synthesis failed, reply stays text-only",
			"session", s.id, "err", err)
		return ""
	}
	if s.window.AttachArtifact(art.ID) {
		s.artifacts = append(s.artifacts, art.ID)
	}
	return art.ID
}
