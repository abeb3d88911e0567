package stt

import (
	"context"
	"fmt"

	"aide/pkg/audioconv"
	whisper "aide/pkg/stt"
)

// maxSamples caps engine input at ten minutes of 16 kHz audio.
const maxSamples = 10 * 60 * audioconv.TargetRate

// LocalTranscriber feeds a whisper.cpp engine with normalized PCM.
// Used when no hosted transcription API should be called.
type LocalTranscriber struct {
	engine *whisper.Engine
	opts   whisper.Options
}

func NewLocalTranscriber(engine *whisper.Engine, opts whisper.Options) *LocalTranscriber {
	return &LocalTranscriber{engine: engine, opts: opts}
}

func (t *LocalTranscriber) Transcribe(ctx context.Context, audio []byte, hint string) (string, error) {
	pcm, err := audioconv.Decode(audio, hint, audioconv.Options{MaxSamples: maxSamples})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEngine, err)
	}
	if len(pcm) == 0 {
		return "", nil
	}

	text, err := t.engine.Transcribe(ctx, pcm, t.opts)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEngine, err)
	}
	return text, nil
}

// TranscribePCM bypasses container decoding for audio already captured as
// mono 16 kHz PCM, e.g. from the microphone recorder.
func (t *LocalTranscriber) TranscribePCM(ctx context.Context, pcm []float32) (string, error) {
	text, err := t.engine.Transcribe(ctx, pcm, t.opts)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEngine, err)
	}
	return text, nil
}
