package encoder

import (
	"encoding/binary"
	"sync"
	"time"

	"carebridge/audio"
)

// WAVEncoder buffers raw samples and writes the header on Close.
type WAVEncoder struct {
	mu         sync.Mutex
	pcm        []byte
	out        []byte
	encodeTime time.Duration
}

func NewWAV() *WAVEncoder { return &WAVEncoder{} }

func (e *WAVEncoder) EncodeBlock(block []int16) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range block {
		e.pcm = binary.LittleEndian.AppendUint16(e.pcm, uint16(s))
	}
	return nil
}

func (e *WAVEncoder) Close() error {
	e.mu.Lock()
	e.out = audio.EncodeWAV(e.pcm, SampleRate, Channels)
	e.mu.Unlock()
	return nil
}

func (e *WAVEncoder) Bytes() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.out
}

func (e *WAVEncoder) TotalFrames() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return uint64(len(e.pcm) / 2)
}

func (e *WAVEncoder) AddEncodeTime(d time.Duration) {
	e.mu.Lock()
	e.encodeTime += d
	e.mu.Unlock()
}

func (e *WAVEncoder) EncodeTime() time.Duration { return e.encodeTime }

func (e *WAVEncoder) Format() string { return FormatWAV }
