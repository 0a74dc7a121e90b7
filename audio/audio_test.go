package audio

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"
)

func pcmBytes(samples ...int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
	}
	return b
}

func TestIsBluetooth(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"AirPods Pro", true},
		{"Galaxy Buds2", true},
		{"Headset (BT)", false}, // " bt)" needs the leading space
		{"Jabra Evolve 65", true},
		{"Built-in Microphone", false},
		{"alsa_input.pci-0000_00_1f.3.analog-stereo", false},
	}
	for _, tt := range tests {
		if got := IsBluetooth(tt.name); got != tt.want {
			t.Errorf("IsBluetooth(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestPCMDuration(t *testing.T) {
	p := PCM{Samples: make([]int16, 32000), SampleRate: 16000, Channels: 2}
	if got := p.Duration(); got != time.Second {
		t.Errorf("Duration() = %v, want 1s", got)
	}
	if (PCM{}).Duration() != 0 {
		t.Error("zero PCM should have zero duration")
	}
}

func TestWAVRoundTrip(t *testing.T) {
	raw := pcmBytes(0, 1000, -1000, 32767, -32768, 7)
	wav := EncodeWAV(raw, 22050, 1)
	if len(wav) != WAVHeaderSize+len(raw) {
		t.Fatalf("wav len = %d", len(wav))
	}

	pcm, err := Decode(wav)
	if err != nil {
		t.Fatal(err)
	}
	if pcm.SampleRate != 22050 || pcm.Channels != 1 {
		t.Errorf("format = %d Hz / %d ch", pcm.SampleRate, pcm.Channels)
	}
	want := []int16{0, 1000, -1000, 32767, -32768, 7}
	if len(pcm.Samples) != len(want) {
		t.Fatalf("samples = %v", pcm.Samples)
	}
	for i := range want {
		if pcm.Samples[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, pcm.Samples[i], want[i])
		}
	}
}

func TestDecodeWAVSkipsExtraChunks(t *testing.T) {
	base := EncodeWAV(pcmBytes(5, 6), 16000, 1)
	// insert a LIST chunk between fmt and data
	list := append([]byte("LIST"), 0, 0, 0, 0)
	binary.LittleEndian.PutUint32(list[4:], 3)
	list = append(list, 'a', 'b', 'c', 0) // odd size is padded
	wav := append([]byte{}, base[:36]...)
	wav = append(wav, list...)
	wav = append(wav, base[36:]...)

	pcm, err := DecodeWAV(wav)
	if err != nil {
		t.Fatal(err)
	}
	if len(pcm.Samples) != 2 || pcm.Samples[0] != 5 || pcm.Samples[1] != 6 {
		t.Errorf("samples = %v", pcm.Samples)
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := Decode(nil); !errors.Is(err, ErrEmptyAudio) {
		t.Errorf("empty: err = %v", err)
	}
	if _, err := DecodeWAV([]byte("RIFF\x00\x00\x00\x00WAVEjunk")); err == nil {
		t.Error("wav without data chunk should fail")
	}
	if _, err := Decode([]byte("definitely not audio")); err == nil {
		t.Error("garbage should fail mp3 decode")
	}
}

func TestFakeCaptureDeliversSignal(t *testing.T) {
	signal := pcmBytes(make([]int16, 3000)...)
	ctx := NewFakeContextPCM(signal, false)

	dev, err := ctx.NewCapture(nil, CaptureConfig{SampleRate: SampleRate, Channels: Channels})
	if err != nil {
		t.Fatal(err)
	}
	var got int
	dev.SetCallback(func(data []byte, frames uint32) {
		got += len(data)
		if int(frames)*2 != len(data) {
			t.Errorf("frames = %d for %d bytes", frames, len(data))
		}
	})
	if err := dev.Start(); err != nil {
		t.Fatal(err)
	}
	dev.Stop()
	dev.ClearCallback()
	dev.Close()

	if got != len(signal) {
		t.Errorf("delivered %d bytes, want %d", got, len(signal))
	}
	fc := ctx.Captures()[0]
	if fc.Closes() != 1 {
		t.Errorf("closes = %d", fc.Closes())
	}
	select {
	case <-fc.AudioDone():
	default:
		t.Error("AudioDone not closed")
	}
}

func TestFakeCaptureRealtimeStop(t *testing.T) {
	signal := pcmBytes(make([]int16, SampleRate*5)...) // 5s
	ctx := NewFakeContextPCM(signal, true)
	dev, _ := ctx.NewCapture(nil, CaptureConfig{})
	dev.SetCallback(func([]byte, uint32) {})
	dev.Start()

	done := make(chan struct{})
	go func() {
		dev.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
	dev.Stop() // idempotent
}

func TestFakeCaptureError(t *testing.T) {
	ctx := NewFakeContextPCM(nil, false)
	ctx.CaptureErr = ErrNoDevice
	if _, err := ctx.NewCapture(nil, CaptureConfig{}); !errors.Is(err, ErrNoDevice) {
		t.Errorf("err = %v", err)
	}
}

func TestSpeakerPlaysAndFinishes(t *testing.T) {
	ctx := NewFakeContextPCM(nil, false)
	sp := NewSpeaker(ctx)

	pb, err := sp.Play(EncodeWAV(pcmBytes(make([]int16, 1600)...), 16000, 1)) // 100ms
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-pb.Done():
	case <-time.After(time.Second):
		t.Fatal("playback never finished")
	}
	if ctx.Playbacks()[0].Stopped() {
		t.Error("natural end should not count as stopped")
	}
}

func TestSpeakerStop(t *testing.T) {
	ctx := NewFakeContextPCM(nil, false)
	ctx.HoldPlayback = true
	sp := NewSpeaker(ctx)

	pb, err := sp.Play(EncodeWAV(pcmBytes(1, 2, 3, 4), 16000, 1))
	if err != nil {
		t.Fatal(err)
	}
	pb.Stop()
	pb.Stop()
	select {
	case <-pb.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
	if !ctx.Playbacks()[0].Stopped() {
		t.Error("expected Stopped")
	}
}

func TestSpeakerRejectsEmpty(t *testing.T) {
	sp := NewSpeaker(NewFakeContextPCM(nil, false))
	if _, err := sp.Play(nil); !errors.Is(err, ErrEmptyAudio) {
		t.Errorf("err = %v", err)
	}
	if _, err := sp.Play(EncodeWAV(nil, 16000, 1)); !errors.Is(err, ErrEmptyAudio) {
		t.Errorf("zero-sample wav: err = %v", err)
	}
}
