package tts

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	mp3 "github.com/hajimehoshi/go-mp3"
)

// transcodeMP3ToWAV decodes provider MP3 output and writes a PCM WAV
// container. The speech API hands back compressed audio; WAV decodes
// everywhere downstream without a codec.
func transcodeMP3ToWAV(data []byte, w io.WriteSeeker) error {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode mp3: %w", err)
	}

	// go-mp3 always emits 16-bit little-endian stereo.
	raw, err := io.ReadAll(dec)
	if err != nil {
		return fmt.Errorf("read mp3 pcm: %w", err)
	}
	if len(raw) == 0 {
		return errors.New("empty mp3 payload")
	}

	ints := make([]int, len(raw)/2)
	for i := range ints {
		ints[i] = int(int16(binary.LittleEndian.Uint16(raw[2*i:])))
	}

	sr := dec.SampleRate()
	enc := wav.NewEncoder(w, sr, 16, 2, 1)
	if err := enc.Write(&audio.IntBuffer{
		Data:           ints,
		Format:         &audio.Format{NumChannels: 2, SampleRate: sr},
		SourceBitDepth: 16,
	}); err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	return enc.Close()
}
