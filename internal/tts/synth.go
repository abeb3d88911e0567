// Package tts wraps the hosted text-to-speech service and owns the arena
// of synthesized audio artifacts. Speech is a non-essential enhancement of
// the textual answer: callers treat a synthesis failure as degraded, not
// fatal.
package tts

import (
	"context"
	"fmt"
	"io"
	"time"

	openai "github.com/openai/openai-go/v3"
)

const defaultVoice = "fable"

// Artifact is a playable WAV file held by the Store until reclaimed.
type Artifact struct {
	ID   string
	Path string
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (*Artifact, error)
}

type OpenAIConfig struct {
	Voice   string
	Timeout time.Duration
}

type OpenAISynthesizer struct {
	api     openai.Client
	voice   string
	timeout time.Duration
	store   *Store
}

func NewOpenAISynthesizer(api openai.Client, store *Store, cfg OpenAIConfig) *OpenAISynthesizer {
	if cfg.Voice == "" {
		cfg.Voice = defaultVoice
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &OpenAISynthesizer{
		api:     api,
		voice:   cfg.Voice,
		timeout: cfg.Timeout,
		store:   store,
	}
}

func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text string) (*Artifact, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.api.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          openai.SpeechModelTTS1,
		Voice:          openai.AudioSpeechNewParamsVoice(s.voice),
		Input:          text,
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return nil, fmt.Errorf("speech request: %w", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read speech response: %w", err)
	}

	id, f, err := s.store.Create()
	if err != nil {
		return nil, err
	}
	if err := transcodeMP3ToWAV(data, f); err != nil {
		f.Close()
		_ = s.store.Remove(id)
		return nil, err
	}
	if err := f.Close(); err != nil {
		_ = s.store.Remove(id)
		return nil, fmt.Errorf("close artifact: %w", err)
	}

	path, _ := s.store.Path(id)
	return &Artifact{ID: id, Path: path}, nil
}
