// Package encoder packs captured 16 kHz mono PCM into the upload formats the
// voice endpoint accepts.
package encoder

import (
	"fmt"
	"time"

	"carebridge/audio"
)

const (
	SampleRate    = audio.SampleRate
	Channels      = audio.Channels
	BitsPerSample = 16
	BlockSize     = 4096

	FormatFLAC = "flac"
	FormatWAV  = "wav"
)

type Encoder interface {
	EncodeBlock(block []int16) error
	Close() error
	Bytes() []byte
	TotalFrames() uint64
	AddEncodeTime(d time.Duration)
	EncodeTime() time.Duration
	// Format is the file extension sent with the upload.
	Format() string
}

func New(format string) (Encoder, error) {
	switch format {
	case FormatFLAC, "":
		return NewFlac()
	case FormatWAV:
		return NewWAV(), nil
	}
	return nil, fmt.Errorf("encoder: unknown format %q", format)
}

// Encode runs a whole recording through a fresh encoder in BlockSize chunks.
func Encode(format string, samples []int16) ([]byte, error) {
	enc, err := New(format)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	for i := 0; i < len(samples); i += BlockSize {
		if err := enc.EncodeBlock(samples[i:min(i+BlockSize, len(samples))]); err != nil {
			return nil, err
		}
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	enc.AddEncodeTime(time.Since(start))
	return enc.Bytes(), nil
}
