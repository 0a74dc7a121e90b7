package audio

import (
	"errors"
	"strings"
	"time"
)

const (
	WAVHeaderSize = 44

	// Capture format sent to the transcription service.
	SampleRate = 16000
	Channels   = 1
)

// ErrNoDevice is returned when no capture device exists or access is denied.
var ErrNoDevice = errors.New("audio: no capture device available")

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"tozo", "anker soundcore", "skullcandy",
	"bluetooth", " bt ", " bt)", " bt]",
}

// IsBluetooth guesses from the device name whether the microphone is a
// headset, which usually means narrowband audio.
func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

type DataCallback func(data []byte, frameCount uint32)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

// PCM is interleaved signed 16-bit audio.
type PCM struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

func (p PCM) Duration() time.Duration {
	if p.SampleRate == 0 || p.Channels == 0 {
		return 0
	}
	frames := len(p.Samples) / p.Channels
	return time.Duration(frames) * time.Second / time.Duration(p.SampleRate)
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	NewPlayback(pcm PCM) (Playback, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
}

// Playback is one sound being played. It starts on creation.
type Playback interface {
	// Done is closed when the sound has finished or was stopped.
	Done() <-chan struct{}
	// Stop silences output and releases the device before returning.
	// Safe to call more than once and after Done.
	Stop()
}
