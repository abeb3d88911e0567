// Package convo holds the per-session conversation log and the bounded
// view of it that is rendered into model context.
package convo

import (
	"sync"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type Modality string

const (
	ModalityText  Modality = "text"
	ModalityVoice Modality = "voice"
)

// Turn is one role-tagged message. Content is fixed at creation;
// the only later mutation is attaching a synthesized-audio artifact id.
type Turn struct {
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	Modality   Modality  `json:"modality,omitempty"`
	ArtifactID string    `json:"artifactId,omitempty"`
	At         time.Time `json:"at"`
}

// Window is an ordered turn log. Rendering takes only the most recent
// turns; older ones stay stored for display until Clear.
type Window struct {
	mu    sync.Mutex
	turns []Turn
}

func NewWindow() *Window {
	return &Window{}
}

func (w *Window) Append(t Turn) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t.At.IsZero() {
		t.At = time.Now()
	}
	w.turns = append(w.turns, t)
}

// AttachArtifact sets the artifact id on the most recent assistant turn.
// Returns false if there is none yet.
func (w *Window) AttachArtifact(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := len(w.turns) - 1; i >= 0; i-- {
		if w.turns[i].Role == RoleAssistant {
			w.turns[i].ArtifactID = id
			return true
		}
	}
	return false
}

// Render returns at most n of the most recent turns, oldest first.
func (w *Window) Render(n int) []Turn {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n <= 0 || len(w.turns) == 0 {
		return nil
	}
	start := len(w.turns) - n
	if start < 0 {
		start = 0
	}
	out := make([]Turn, len(w.turns)-start)
	copy(out, w.turns[start:])
	return out
}

// Turns returns the full history, for display.
func (w *Window) Turns() []Turn {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Turn, len(w.turns))
	copy(out, w.turns)
	return out
}

func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.turns)
}

func (w *Window) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.turns = nil
}
