// Package audioconv normalizes uploaded or recorded audio into the mono
// 16 kHz float32 PCM the transcription engine expects. Supported inputs:
// WAV, MP3, Ogg Vorbis and Ogg Opus.
package audioconv

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	mp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	popus "github.com/pekim/opus"
)

// TargetRate is the sample rate every decode path resamples to.
const TargetRate = 16000

type Options struct {
	// MaxSamples truncates the result, bounding engine work per request.
	MaxSamples int
}

// Decode converts an audio payload to mono 16 kHz PCM. The container is
// sniffed from the payload first; hint (a filename) only breaks ties for
// headerless formats like MP3.
func Decode(data []byte, hint string, opt Options) ([]float32, error) {
	if len(data) == 0 {
		return nil, errors.New("empty audio payload")
	}

	switch sniff(data) {
	case "wav":
		return decodeWAV(data, opt)
	case "ogg":
		return decodeOgg(data, opt)
	}

	switch strings.ToLower(filepath.Ext(hint)) {
	case ".mp3":
		return decodeMP3(data, opt)
	case ".wav":
		return decodeWAV(data, opt)
	case ".ogg", ".oga":
		return decodeOgg(data, opt)
	}

	// Last resort: MP3 frames have no magic worth sniffing.
	if pcm, err := decodeMP3(data, opt); err == nil {
		return pcm, nil
	}
	return nil, fmt.Errorf("unsupported audio format (hint %q)", hint)
}

func sniff(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	switch string(data[:4]) {
	case "RIFF":
		return "wav"
	case "OggS":
		return "ogg"
	}
	return ""
}

func decodeWAV(data []byte, opt Options) ([]float32, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, errors.New("invalid wav")
	}
	pb, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	if pb == nil || len(pb.Data) == 0 {
		return nil, errors.New("empty wav")
	}

	depth := int(dec.BitDepth)
	if depth == 0 {
		depth = 16
	}
	pcm := intToFloat32(pb.Data, depth)

	channels, rate := 1, 44100
	if pb.Format != nil {
		if pb.Format.NumChannels > 0 {
			channels = pb.Format.NumChannels
		}
		if pb.Format.SampleRate > 0 {
			rate = pb.Format.SampleRate
		}
	}
	return finish(pcm, channels, rate, opt), nil
}

func decodeMP3(data []byte, opt Options) ([]float32, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode mp3: %w", err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("read mp3 pcm: %w", err)
	}

	ints := make([]int16, len(raw)/2)
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &ints); err != nil {
		return nil, err
	}
	rate := dec.SampleRate()
	if rate <= 0 {
		rate = 44100
	}
	// go-mp3 always outputs interleaved stereo.
	return finish(int16ToFloat32(ints), 2, rate, opt), nil
}

func decodeOgg(data []byte, opt Options) ([]float32, error) {
	pcm, format, verr := oggvorbis.ReadAll(bytes.NewReader(data))
	if verr == nil && format != nil && format.Channels > 0 && format.SampleRate > 0 {
		return finish(pcm, format.Channels, format.SampleRate, opt), nil
	}
	out, oerr := decodeOggOpus(data, opt)
	if oerr != nil {
		return nil, fmt.Errorf("ogg is neither vorbis (%v) nor opus (%v)", verr, oerr)
	}
	return out, nil
}

func decodeOggOpus(data []byte, opt Options) ([]float32, error) {
	dec, err := popus.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer dec.Destroy()

	channels := dec.ChannelCount()
	if channels <= 0 {
		channels = 1
	}

	// Opus always decodes at 48 kHz.
	var pcm []float32
	buf := make([]int16, 48000*channels/2)
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			pcm = append(pcm, int16ToFloat32(buf[:n*channels])...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if len(pcm) == 0 {
		return nil, errors.New("empty opus stream")
	}
	return finish(pcm, channels, 48000, opt), nil
}

// finish downmixes, resamples to TargetRate and applies MaxSamples.
func finish(pcm []float32, channels, rate int, opt Options) []float32 {
	if channels > 1 {
		pcm = downmix(pcm, channels)
	}
	if rate != TargetRate {
		pcm = resample(pcm, rate, TargetRate)
	}
	if opt.MaxSamples > 0 && len(pcm) > opt.MaxSamples {
		pcm = pcm[:opt.MaxSamples]
	}
	return pcm
}

func intToFloat32(data []int, bitDepth int) []float32 {
	out := make([]float32, len(data))
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))
	for i, v := range data {
		f := float64(v) * scale
		if f > 1 {
			f = 1
		} else if f < -1 {
			f = -1
		}
		out[i] = float32(f)
	}
	return out
}

func int16ToFloat32(data []int16) []float32 {
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = float32(v) / 32768
	}
	return out
}

// downmix averages interleaved channels into mono frames.
func downmix(in []float32, channels int) []float32 {
	frames := len(in) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(in[i*channels+c])
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}

// resample performs linear interpolation between neighbouring samples.
// Good enough for speech fed to a recognizer.
func resample(in []float32, from, to int) []float32 {
	if from == to || len(in) == 0 {
		return in
	}
	ratio := float64(to) / float64(from)
	n := int(math.Ceil(float64(len(in)) * ratio))
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		pos := float64(i) / ratio
		j := int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = in[j]*(1-frac) + in[j+1]*frac
	}
	return out
}
