// Package audio captures microphone input for the desktop loop. Capture
// is silence-gated: recording starts on speech and stops after a pause.
package audio

import (
	"errors"
	"math"
	"time"

	"github.com/gordonklaus/portaudio"
)

const (
	sampleRate = 16000
	frameSize  = 320 // 20ms frames

	speechRMS     = 0.015
	trailingPause = 700 * time.Millisecond
	maxUtterance  = 15 * time.Second
)

type Recorder struct{}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Init() error {
	return portaudio.Initialize()
}

func (r *Recorder) Close() {
	portaudio.Terminate()
}

// Record captures one utterance as mono 16 kHz float32 PCM. It waits for
// speech, then returns once the speaker pauses or the length cap is hit.
// Returns an empty slice when nothing above the speech threshold arrived.
func (r *Recorder) Record() ([]float32, error) {
	buf := make([]float32, frameSize)
	out := make([]float32, 0, sampleRate*3)

	stream, err := portaudio.OpenDefaultStream(1, 0, sampleRate, len(buf), buf)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, err
	}
	defer stream.Stop()

	var (
		speaking bool
		silent   time.Duration
	)
	frameDur := time.Duration(frameSize) * time.Second / sampleRate
	maxFrames := int(maxUtterance / frameDur)

	for i := 0; i < maxFrames; i++ {
		if err := stream.Read(); err != nil {
			return nil, err
		}

		if frameRMS(buf) > speechRMS {
			speaking = true
			silent = 0
			out = append(out, buf...)
			continue
		}
		if speaking {
			silent += frameDur
			if silent >= trailingPause {
				break
			}
			out = append(out, buf...)
		}
	}

	if !speaking {
		return nil, errors.New("no speech captured")
	}
	return out, nil
}

func frameRMS(f []float32) float64 {
	var s float64
	for _, x := range f {
		s += float64(x * x)
	}
	return math.Sqrt(s / float64(len(f)))
}
