package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

var ErrEmptyAudio = errors.New("audio: empty payload")

// Decode turns a speech payload into PCM. WAV (16-bit PCM) is recognized by
// its RIFF header; anything else is treated as MP3.
func Decode(data []byte) (PCM, error) {
	if len(data) == 0 {
		return PCM{}, ErrEmptyAudio
	}
	if bytes.HasPrefix(data, []byte("RIFF")) {
		return DecodeWAV(data)
	}
	return DecodeMP3(data)
}

// DecodeMP3 decodes to 16-bit stereo PCM at the stream's sample rate.
func DecodeMP3(data []byte) (PCM, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return PCM{}, fmt.Errorf("mp3 decode: %w", err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return PCM{}, fmt.Errorf("mp3 decode: %w", err)
	}
	return PCM{
		Samples:    bytesToInt16(raw),
		SampleRate: dec.SampleRate(),
		Channels:   2,
	}, nil
}

// DecodeWAV reads a canonical PCM WAV, walking chunks until "data".
func DecodeWAV(data []byte) (PCM, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return PCM{}, errors.New("wav decode: not a RIFF/WAVE file")
	}
	var channels, bits int
	var rate int
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4:]))
		body := pos + 8
		if body+size > len(data) {
			size = len(data) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return PCM{}, errors.New("wav decode: short fmt chunk")
			}
			if format := binary.LittleEndian.Uint16(data[body:]); format != 1 {
				return PCM{}, fmt.Errorf("wav decode: unsupported format %d", format)
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			rate = int(binary.LittleEndian.Uint32(data[body+4:]))
			bits = int(binary.LittleEndian.Uint16(data[body+14:]))
		case "data":
			if bits != 16 || channels == 0 {
				return PCM{}, fmt.Errorf("wav decode: need 16-bit fmt before data, got %d-bit", bits)
			}
			return PCM{
				Samples:    bytesToInt16(data[body : body+size]),
				SampleRate: rate,
				Channels:   channels,
			}, nil
		}
		pos = body + size + size%2
	}
	return PCM{}, errors.New("wav decode: no data chunk")
}

// EncodeWAV wraps 16-bit little-endian PCM in a 44-byte WAV header.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	out := make([]byte, WAVHeaderSize+len(pcm))
	copy(out[0:], "RIFF")
	binary.LittleEndian.PutUint32(out[4:], uint32(36+len(pcm)))
	copy(out[8:], "WAVE")
	copy(out[12:], "fmt ")
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 1)
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(sampleRate*channels*2))
	binary.LittleEndian.PutUint16(out[32:], uint16(channels*2))
	binary.LittleEndian.PutUint16(out[34:], 16)
	copy(out[36:], "data")
	binary.LittleEndian.PutUint32(out[40:], uint32(len(pcm)))
	copy(out[WAVHeaderSize:], pcm)
	return out
}

func bytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// Speaker decodes speech payloads and plays them on an output context.
type Speaker struct {
	ctx Context
}

func NewSpeaker(ctx Context) *Speaker {
	return &Speaker{ctx: ctx}
}

func (s *Speaker) Play(data []byte) (Playback, error) {
	pcm, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if len(pcm.Samples) == 0 {
		return nil, ErrEmptyAudio
	}
	return s.ctx.NewPlayback(pcm)
}
