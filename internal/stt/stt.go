// Package stt converts raw audio input to text. A no-speech result is an
// empty string, not an error; the caller decides how to react.
package stt

import (
	"context"
	"errors"
)

// ErrEngine wraps faults of the underlying transcription engine,
// hosted or local.
var ErrEngine = errors.New("transcription engine failed")

type Transcriber interface {
	// Transcribe converts audio bytes to text. hint is the original
	// filename, used to pick the decode path.
	Transcribe(ctx context.Context, audio []byte, hint string) (string, error)
}
