package audio

import (
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const (
	fakeFrameSize     = 1024
	fakeBytesPerFrame = 2 // 16-bit mono
)

// FakeContext replays fixed PCM as microphone input and records playback
// instead of producing sound.
type FakeContext struct {
	pcm      []byte
	realtime bool

	// CaptureErr, when set, is returned by NewCapture.
	CaptureErr error
	// HoldPlayback keeps every playback running until Stop or Finish.
	HoldPlayback bool

	mu        sync.Mutex
	captures  []*FakeCapture
	playbacks []*FakePlayback
}

func NewFakeContext(wavPath string, realtime bool) (*FakeContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	if len(data) > WAVHeaderSize {
		data = data[WAVHeaderSize:]
	}
	return NewFakeContextPCM(data, realtime), nil
}

// NewFakeContextPCM uses raw 16-bit mono PCM as the microphone signal.
func NewFakeContextPCM(pcm []byte, realtime bool) *FakeContext {
	return &FakeContext{pcm: pcm, realtime: realtime}
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake", Name: "Fake Microphone"}}, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	if f.CaptureErr != nil {
		return nil, f.CaptureErr
	}
	c := &FakeCapture{pcm: f.pcm, realtime: f.realtime, audioDone: make(chan struct{})}
	f.mu.Lock()
	f.captures = append(f.captures, c)
	f.mu.Unlock()
	return c, nil
}

// Captures returns every capture device handed out so far.
func (f *FakeContext) Captures() []*FakeCapture {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeCapture(nil), f.captures...)
}

func (f *FakeContext) NewPlayback(pcm PCM) (Playback, error) {
	p := &FakePlayback{PCM: pcm, done: make(chan struct{})}
	f.mu.Lock()
	f.playbacks = append(f.playbacks, p)
	hold := f.HoldPlayback
	f.mu.Unlock()
	if !hold {
		// Play back ten times faster than real time.
		d := pcm.Duration() / 10
		go func() {
			select {
			case <-time.After(d):
				p.Finish()
			case <-p.done:
			}
		}()
	}
	return p, nil
}

func (f *FakeContext) Playbacks() []*FakePlayback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakePlayback(nil), f.playbacks...)
}

type FakeCapture struct {
	pcm       []byte
	realtime  bool
	audioDone chan struct{}

	mu       sync.Mutex
	cb       DataCallback
	stopCh   chan struct{}
	feedDone chan struct{}
	doneOnce sync.Once
	closes   atomic.Int32
}

func (f *FakeCapture) AudioDone() <-chan struct{} { return f.audioDone }

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return "fake" }

// Closes reports how many times Close was called.
func (f *FakeCapture) Closes() int { return int(f.closes.Load()) }

func (f *FakeCapture) callback() DataCallback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb
}

func (f *FakeCapture) feedChunk(cb DataCallback, pos, chunkBytes int) int {
	end := min(pos+chunkBytes, len(f.pcm))
	chunk := make([]byte, end-pos)
	copy(chunk, f.pcm[pos:end])
	cb(chunk, uint32(len(chunk)/fakeBytesPerFrame))
	return end
}

// Start delivers the whole signal synchronously unless realtime is set, in
// which case it is paced at the capture sample rate. Once the signal is
// exhausted nothing more is delivered and AudioDone is closed.
func (f *FakeCapture) Start() error {
	f.mu.Lock()
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})
	f.mu.Unlock()

	chunkBytes := fakeFrameSize * fakeBytesPerFrame

	if !f.realtime {
		if cb := f.callback(); cb != nil {
			for pos := 0; pos < len(f.pcm); {
				pos = f.feedChunk(cb, pos, chunkBytes)
			}
		}
		f.doneOnce.Do(func() { close(f.audioDone) })
		close(f.feedDone)
		return nil
	}

	interval := time.Duration(fakeFrameSize) * time.Second / time.Duration(SampleRate)
	go func() {
		defer close(f.feedDone)
		pos := 0
		for pos < len(f.pcm) {
			select {
			case <-f.stopCh:
				return
			default:
			}
			cb := f.callback()
			if cb == nil {
				time.Sleep(time.Millisecond)
				continue
			}
			pos = f.feedChunk(cb, pos, chunkBytes)

			select {
			case <-f.stopCh:
				return
			case <-time.After(interval):
			}
		}
		f.doneOnce.Do(func() { close(f.audioDone) })
	}()
	return nil
}

func (f *FakeCapture) Stop() {
	f.mu.Lock()
	stopCh, feedDone := f.stopCh, f.feedDone
	f.mu.Unlock()
	if stopCh == nil {
		return
	}
	select {
	case <-stopCh:
	default:
		close(stopCh)
	}
	<-feedDone
}

func (f *FakeCapture) Close() {
	f.closes.Add(1)
}

// FakePlayback is a sound that never reaches a speaker.
type FakePlayback struct {
	PCM PCM

	once    sync.Once
	done    chan struct{}
	stopped atomic.Bool
}

func (p *FakePlayback) Done() <-chan struct{} { return p.done }

func (p *FakePlayback) Stop() {
	p.stopped.Store(true)
	p.once.Do(func() { close(p.done) })
}

// Finish ends the playback as if the sound had played to the end.
func (p *FakePlayback) Finish() {
	p.once.Do(func() { close(p.done) })
}

// Stopped reports whether Stop was called.
func (p *FakePlayback) Stopped() bool { return p.stopped.Load() }
