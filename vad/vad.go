// Package vad classifies microphone audio as speech or silence and turns
// that into warnings and automatic stops while recording.
package vad

import (
	"sync"
	"time"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"carebridge/audio"
)

const (
	Mode       = 3
	FrameMs    = 20
	FrameBytes = audio.SampleRate * FrameMs / 1000 * 2 // 640 bytes
	debounce   = 3                                     // consecutive speech frames to confirm voice
)

// Processor runs WebRTC VAD over 16 kHz mono PCM in 20 ms frames. Process
// may be called from the capture callback while the session reads ticks.
type Processor struct {
	vad *webrtcvad.VAD

	mu            sync.Mutex
	buf           []byte
	voiceDetected bool
	lastVoiceTime time.Time
	speechRun     int
	totalFrames   int
	speechFrames  int
	tickTotal     int
	tickSpeech    int
}

func NewProcessor() (*Processor, error) {
	v, err := webrtcvad.New()
	if err != nil {
		return nil, err
	}
	if err := v.SetMode(Mode); err != nil {
		return nil, err
	}
	return &Processor{vad: v}, nil
}

func (p *Processor) Process(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf = append(p.buf, data...)
	for len(p.buf) >= FrameBytes {
		frame := p.buf[:FrameBytes]
		p.buf = p.buf[FrameBytes:]

		active, err := p.vad.Process(audio.SampleRate, frame)
		if err != nil {
			continue
		}
		p.totalFrames++
		if active {
			p.speechFrames++
			p.speechRun++
			if p.voiceDetected {
				p.lastVoiceTime = time.Now()
			} else if p.speechRun >= debounce {
				p.voiceDetected = true
				p.lastVoiceTime = time.Now()
			}
		} else {
			p.speechRun = 0
		}
	}
}

func (p *Processor) VoiceDetected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.voiceDetected
}

func (p *Processor) LastVoiceTime() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastVoiceTime
}

func (p *Processor) Stats() (total, speech int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalFrames, p.speechFrames
}

const speechThreshold = 0.10 // share of frames in a tick that must be speech

// HasSpeechTick reports whether enough frames since the previous call were
// speech. It is meant to be polled once per TickInterval.
func (p *Processor) HasSpeechTick() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.totalFrames - p.tickTotal
	s := p.speechFrames - p.tickSpeech
	p.tickTotal, p.tickSpeech = p.totalFrames, p.speechFrames
	if t == 0 {
		return false
	}
	return float64(s)/float64(t) >= speechThreshold
}

func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf = p.buf[:0]
	p.voiceDetected = false
	p.lastVoiceTime = time.Time{}
	p.speechRun = 0
	p.tickTotal, p.tickSpeech = p.totalFrames, p.speechFrames
}
