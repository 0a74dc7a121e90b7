//go:build !linux

package audio

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

type malgoContext struct {
	ctx *malgo.AllocatedContext
}

func NewContext() (Context, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}
	return &malgoContext{ctx: ctx}, nil
}

func (m *malgoContext) Devices() ([]DeviceInfo, error) {
	devices, err := m.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("malgo devices: %w", err)
	}
	var result []DeviceInfo
	for _, d := range devices {
		result = append(result, DeviceInfo{
			ID:   hex.EncodeToString(d.ID.Pointer()[:]),
			Name: d.Name(),
		})
	}
	return result, nil
}

func (m *malgoContext) NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = config.Channels
	deviceConfig.SampleRate = config.SampleRate

	if device != nil {
		idBytes, err := hex.DecodeString(device.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid device ID: %w", err)
		}
		var devID malgo.DeviceID
		copy(devID[:], idBytes)
		deviceConfig.Capture.DeviceID = devID.Pointer()
	}

	c := &malgoCapture{}
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, data []byte, frameCount uint32) {
			if cb := c.callback.Load(); cb != nil {
				buf := make([]byte, len(data))
				copy(buf, data)
				(*cb)(buf, frameCount)
			}
		},
	}

	dev, err := malgo.InitDevice(m.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, err
	}
	c.device = dev
	return c, nil
}

func (m *malgoContext) Close() {
	m.ctx.Uninit()
	m.ctx.Free()
}

type malgoCapture struct {
	device   *malgo.Device
	callback atomic.Pointer[DataCallback]
	closed   sync.Once
}

func (c *malgoCapture) Start() error {
	return c.device.Start()
}

func (c *malgoCapture) Stop() {
	c.device.Stop()
}

func (c *malgoCapture) Close() {
	c.closed.Do(c.device.Uninit)
}

func (c *malgoCapture) SetCallback(cb DataCallback) {
	c.callback.Store(&cb)
}

func (c *malgoCapture) ClearCallback() {
	c.callback.Store(nil)
}

type malgoPlayback struct {
	device *malgo.Device
	pcm    []byte
	pos    atomic.Int64
	ended  chan struct{}
	endOne sync.Once
	once   sync.Once
	done   chan struct{}
}

func (m *malgoContext) NewPlayback(pcm PCM) (Playback, error) {
	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.Playback.Format = malgo.FormatS16
	config.Playback.Channels = uint32(pcm.Channels)
	config.SampleRate = uint32(pcm.SampleRate)

	raw := make([]byte, len(pcm.Samples)*2)
	for i, s := range pcm.Samples {
		binary.LittleEndian.PutUint16(raw[i*2:], uint16(s))
	}
	pb := &malgoPlayback{pcm: raw, ended: make(chan struct{}), done: make(chan struct{})}
	frameBytes := int64(pcm.Channels * 2)

	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frameCount uint32) {
			pos := pb.pos.Load()
			n := int64(frameCount) * frameBytes
			remaining := int64(len(pb.pcm)) - pos
			if n > remaining {
				n = remaining
			}
			if n > 0 {
				copy(out[:n], pb.pcm[pos:pos+n])
				pb.pos.Store(pos + n)
			}
			for i := n; i < int64(len(out)); i++ {
				out[i] = 0
			}
			if pos+n >= int64(len(pb.pcm)) {
				pb.endOne.Do(func() { close(pb.ended) })
			}
		},
	}

	dev, err := malgo.InitDevice(m.ctx.Context, config, callbacks)
	if err != nil {
		return nil, fmt.Errorf("malgo playback: %w", err)
	}
	pb.device = dev
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("malgo playback: %w", err)
	}

	// Uninit must not run on the audio callback thread.
	go func() {
		select {
		case <-pb.ended:
			pb.release()
		case <-pb.done:
		}
	}()
	return pb, nil
}

func (pb *malgoPlayback) release() {
	pb.once.Do(func() {
		pb.device.Stop()
		pb.device.Uninit()
		close(pb.done)
	})
}

func (pb *malgoPlayback) Done() <-chan struct{} { return pb.done }

func (pb *malgoPlayback) Stop() { pb.release() }
