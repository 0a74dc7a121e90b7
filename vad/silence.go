package vad

import "time"

const (
	TickInterval     = 100 * time.Millisecond
	silenceWarnEvery = 8 * time.Second
	silenceStopAfter = 30 * time.Second
	endOfSpeechAfter = 1500 * time.Millisecond
	speechMinRatio   = 0.10
	speechClearRatio = 0.25 // higher threshold to clear a warning (hysteresis)
)

type Event int

const (
	None        Event = iota
	Warn              // nothing said for a while
	WarnClear         // speech resumed after a warning
	Repeat            // still quiet, remind again
	EndOfSpeech       // user spoke and then paused
	AutoStop          // long stretch without speech
)

func (e Event) String() string {
	switch e {
	case Warn:
		return "warn"
	case WarnClear:
		return "warn_clear"
	case Repeat:
		return "repeat"
	case EndOfSpeech:
		return "end_of_speech"
	case AutoStop:
		return "auto_stop"
	}
	return "none"
}

// Monitor is fed one speech/no-speech sample per tick. Warnings are always
// produced. EndOfSpeech, Repeat and AutoStop only come when autoStop is on.
type Monitor struct {
	warnAt   int
	windowSz int
	endAt    int
	autoStop bool

	ticks       int
	window      []bool
	speechCount int
	warned      bool
	lastBeep    int
	heard       bool
	quietRun    int
	ended       bool
}

func NewMonitor(autoStop bool) *Monitor {
	windowSz := int(silenceStopAfter / TickInterval)
	return &Monitor{
		warnAt:   int(silenceWarnEvery / TickInterval),
		windowSz: windowSz,
		endAt:    int(endOfSpeechAfter / TickInterval),
		autoStop: autoStop,
		window:   make([]bool, windowSz),
	}
}

func (m *Monitor) ratio(n int) float64 {
	if m.ticks < n {
		n = m.ticks
	}
	if n == 0 {
		return 1.0
	}
	count := 0
	for i := 0; i < n; i++ {
		if m.window[(m.ticks-1-i+m.windowSz)%m.windowSz] {
			count++
		}
	}
	return float64(count) / float64(n)
}

func (m *Monitor) Tick(hasSpeech bool) Event {
	idx := m.ticks % m.windowSz
	if m.ticks >= m.windowSz && m.window[idx] {
		m.speechCount--
	}
	m.window[idx] = hasSpeech
	if hasSpeech {
		m.speechCount++
		m.heard = true
		m.quietRun = 0
	} else {
		m.quietRun++
	}
	m.ticks++

	if m.autoStop && m.heard && !m.ended && m.quietRun >= m.endAt {
		m.ended = true
		return EndOfSpeech
	}

	r := m.ratio(m.warnAt)
	if m.ticks >= m.warnAt && r < speechMinRatio && !m.warned {
		m.warned = true
		m.lastBeep = m.ticks
		return Warn
	}
	if m.warned && r >= speechClearRatio {
		m.warned = false
		return WarnClear
	}

	if !m.autoStop {
		return None
	}

	// checked before Repeat so a long silence ends the recording
	if m.ticks >= m.windowSz && float64(m.speechCount)/float64(m.windowSz) < speechMinRatio {
		return AutoStop
	}
	if m.warned && m.ticks-m.lastBeep >= m.warnAt {
		m.lastBeep = m.ticks
		return Repeat
	}
	return None
}
