// Package stt runs a local whisper.cpp model for offline transcription.
// It is the engine behind the voice input path when no hosted API is
// configured.
package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

type Options struct {
	Language      string // e.g. "auto", "en"
	Threads       int    // <=0 => NumCPU()
	InitialPrompt string // optional prefix prompt
}

// Engine wraps one loaded whisper model. A single Engine serves many
// transcriptions; each call runs on a fresh whisper context.
type Engine struct {
	model whisper.Model
}

func NewEngine(modelPath string) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("empty model path")
	}
	m, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load whisper model: %w", err)
	}
	return &Engine{model: m}, nil
}

func (e *Engine) Close() error {
	if e.model == nil {
		return nil
	}
	return e.model.Close()
}

// Transcribe recognizes mono 16 kHz float32 PCM in [-1, 1] and returns the
// joined segment text. No speech yields an empty string.
func (e *Engine) Transcribe(ctx context.Context, pcm []float32, opt Options) (string, error) {
	if e.model == nil {
		return "", errors.New("engine closed")
	}
	if len(pcm) == 0 {
		return "", nil
	}

	wctx, err := e.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("new whisper context: %w", err)
	}

	lang := opt.Language
	if lang == "" {
		lang = "auto"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return "", fmt.Errorf("set language: %w", err)
	}

	threads := opt.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	wctx.SetThreads(uint(threads))

	if opt.InitialPrompt != "" {
		wctx.SetInitialPrompt(opt.InitialPrompt)
	}

	if err := wctx.Process(pcm, nil, nil, nil); err != nil {
		return "", fmt.Errorf("process: %w", err)
	}

	var parts []string
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		seg, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("next segment: %w", err)
		}
		if t := strings.TrimSpace(seg.Text); t != "" {
			parts = append(parts, t)
		}
	}

	return strings.Join(parts, " "), nil
}
