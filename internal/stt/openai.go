package stt

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
)

// OpenAITranscriber sends audio to the hosted Whisper API. The service
// accepts common containers directly, so no local resampling is needed
// on this path.
type OpenAITranscriber struct {
	api     openai.Client
	timeout time.Duration
}

func NewOpenAITranscriber(api openai.Client, timeout time.Duration) *OpenAITranscriber {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAITranscriber{api: api, timeout: timeout}
}

func (t *OpenAITranscriber) Transcribe(ctx context.Context, audio []byte, hint string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	name := filepath.Base(hint)
	if name == "" || name == "." {
		name = "audio.wav"
	}

	resp, err := t.api.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: openai.AudioModelWhisper1,
		File:  openai.File(bytes.NewReader(audio), name, mimeFor(name)),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEngine, err)
	}
	return strings.TrimSpace(resp.Text), nil
}

func mimeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".ogg", ".oga":
		return "audio/ogg"
	case ".webm":
		return "audio/webm"
	case ".m4a":
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}
