// Package beep plays the short cue tones around a recording.
package beep

import (
	"math"
	"sync"

	"carebridge/audio"
	"carebridge/log"
)

const (
	sampleRate = 44100

	// start: high pitch, short
	startFreq   = 1200
	startVolume = 0.5
	startDecay  = 60

	// end: medium pitch, slightly longer
	endFreq   = 900
	endVolume = 0.5
	endDecay  = 40

	// error: low pitch double beep
	errorFreq   = 350
	errorVolume = 0.6
	errorDecay  = 30

	// silence warning: soft mid tone
	warnFreq   = 660
	warnVolume = 0.3
	warnDecay  = 20
)

// Kind selects a cue.
type Kind int

const (
	Start Kind = iota
	End
	Error
	Warn
)

var (
	cues     map[Kind]audio.PCM
	cuesOnce sync.Once
)

func initCues() {
	cues = map[Kind]audio.PCM{
		// 200ms tails leave room for the sink to fill its buffer
		Start: tone(generateTick(startFreq, 0.2, startVolume, startDecay)),
		End:   tone(generateTick(endFreq, 0.2, endVolume, endDecay)),
		Error: tone(generateDoubleBeep(errorFreq, 0.08, 0.05, errorVolume, errorDecay)),
		Warn:  tone(generateTick(warnFreq, 0.25, warnVolume, warnDecay)),
	}
}

func tone(samples []int16) audio.PCM {
	return audio.PCM{Samples: samples, SampleRate: sampleRate, Channels: 2}
}

// generateTick returns interleaved stereo samples of a decaying sine.
func generateTick(freq, duration, volume, decay float64) []int16 {
	n := int(float64(sampleRate) * duration)
	samples := make([]int16, n*2)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(sampleRate)
		envelope := math.Exp(-t * decay)
		s := int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
		samples[i*2] = s
		samples[i*2+1] = s
	}
	return samples
}

func generateDoubleBeep(freq, beepDur, gapDur, volume, decay float64) []int16 {
	beep := generateTick(freq, beepDur, volume, decay)
	gap := make([]int16, int(float64(sampleRate)*gapDur)*2)
	result := make([]int16, 0, len(beep)*2+len(gap))
	result = append(result, beep...)
	result = append(result, gap...)
	result = append(result, beep...)
	return result
}

// Cue returns the samples of a cue, or a zero PCM for an unknown kind.
func Cue(k Kind) audio.PCM {
	cuesOnce.Do(initCues)
	return cues[k]
}

// Player plays cues on an output context. A nil or disabled Player is silent.
type Player struct {
	ctx audio.Context

	mu      sync.Mutex
	current audio.Playback
}

func New(ctx audio.Context, enabled bool) *Player {
	if !enabled || ctx == nil {
		return nil
	}
	cuesOnce.Do(initCues)
	return &Player{ctx: ctx}
}

// Play starts a cue without waiting for it. A cue still playing is cut off.
func (p *Player) Play(k Kind) {
	if p == nil {
		return
	}
	pcm, ok := cues[k]
	if !ok {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		p.current.Stop()
		p.current = nil
	}
	pb, err := p.ctx.NewPlayback(pcm)
	if err != nil {
		log.Warnf("beep: %v", err)
		return
	}
	p.current = pb
}

// Stop silences any cue still playing.
func (p *Player) Stop() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		p.current.Stop()
		p.current = nil
	}
}
