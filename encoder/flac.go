package encoder

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

// FlacEncoder writes one verbatim mono subframe per block and lets the
// library's prediction analysis pick a tighter coding.
type FlacEncoder struct {
	mu          sync.Mutex
	buf         bytes.Buffer
	enc         *flac.Encoder
	totalFrames uint64
	encodeTime  time.Duration
	closed      bool
}

func NewFlac() (*FlacEncoder, error) {
	e := &FlacEncoder{}
	info := &meta.StreamInfo{
		BlockSizeMin:  BlockSize,
		BlockSizeMax:  BlockSize,
		SampleRate:    SampleRate,
		NChannels:     Channels,
		BitsPerSample: BitsPerSample,
	}
	enc, err := flac.NewEncoder(&e.buf, info)
	if err != nil {
		return nil, fmt.Errorf("creating flac encoder: %w", err)
	}
	enc.EnablePredictionAnalysis(true)
	e.enc = enc
	return e, nil
}

func (e *FlacEncoder) EncodeBlock(block []int16) error {
	if len(block) == 0 {
		return nil
	}
	if len(block) > BlockSize {
		return fmt.Errorf("flac block of %d samples exceeds %d", len(block), BlockSize)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("flac encoder closed")
	}

	// the encoder may keep the slice, so each frame gets its own copy
	samples := make([]int32, len(block))
	for i, s := range block {
		samples[i] = int32(s)
	}
	f := &frame.Frame{
		Header: frame.Header{
			BlockSize:     uint16(len(block)),
			SampleRate:    SampleRate,
			Channels:      frame.ChannelsMono,
			BitsPerSample: BitsPerSample,
		},
		Subframes: []*frame.Subframe{{
			SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
			Samples:   samples,
			NSamples:  len(block),
		}},
	}
	if err := e.enc.WriteFrame(f); err != nil {
		return fmt.Errorf("writing flac frame: %w", err)
	}
	e.totalFrames += uint64(len(block))
	return nil
}

func (e *FlacEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.enc.Close()
}

func (e *FlacEncoder) Bytes() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buf.Bytes()
}

func (e *FlacEncoder) TotalFrames() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalFrames
}

func (e *FlacEncoder) AddEncodeTime(d time.Duration) {
	e.mu.Lock()
	e.encodeTime += d
	e.mu.Unlock()
}

func (e *FlacEncoder) EncodeTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.encodeTime
}

func (e *FlacEncoder) Format() string { return FormatFLAC }
