// Package doctor runs interactive diagnostics against the configured backend,
// the preference store and the local audio devices.
package doctor

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"carebridge/audio"
	"carebridge/beep"
	"carebridge/clipboard"
	"carebridge/config"
	"carebridge/gateway"
	"carebridge/settings"
	"carebridge/vad"
	"carebridge/welfare"
)

// Backend is the part of the gateway the checks call.
type Backend interface {
	Health(ctx context.Context) (*gateway.HealthStatus, error)
	ListCategories(ctx context.Context) ([]string, error)
}

type Options struct {
	Config   *config.Config
	Backend  Backend          // nil builds a gateway client from Config
	Audio    audio.Context    // nil opens the system audio context
	Device   *audio.DeviceInfo
	Settings settings.Backend // nil opens the sqlite file from Config

	In        io.Reader // defaults to os.Stdin
	Out       io.Writer // defaults to os.Stdout
	RecordFor time.Duration
}

type result int

const (
	pass result = iota
	warn
	fail
)

type check struct {
	name string
	run  func(ctx context.Context) result
}

type runner struct {
	opts Options
	in   *bufio.Reader
	out  io.Writer
}

// Run executes every check and returns an exit code (0=no failures, 1=any fail).
// Warnings are reported but do not fail the run.
func Run(ctx context.Context, opts Options) int {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.RecordFor <= 0 {
		opts.RecordFor = 3 * time.Second
	}
	r := &runner{opts: opts, in: bufio.NewReader(opts.In), out: opts.Out}

	r.printf("carebridge doctor - system diagnostics\n")
	r.printf("======================================\n")

	checks := []check{
		{"Configuration", r.checkConfig},
		{"Backend health", r.checkHealth},
		{"Welfare categories", r.checkCategories},
		{"Preference store", r.checkSettings},
		{"Microphone", r.checkMicrophone},
		{"Speaker", r.checkSpeaker},
		{"Clipboard", r.checkClipboard},
	}

	failed := false
	for i, c := range checks {
		if ctx.Err() != nil {
			r.printf("\nInterrupted\n")
			return 1
		}
		r.printf("\n[%d/%d] %s\n", i+1, len(checks), c.name)
		if c.run(ctx) == fail {
			failed = true
		}
	}

	r.printf("\n")
	if failed {
		r.printf("Some checks failed. See details above.\n")
		return 1
	}
	r.printf("All checks passed!\n")
	return 0
}

func (r *runner) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}

func (r *runner) pass(format string, args ...any) result {
	r.printf("  PASS: "+format+"\n", args...)
	return pass
}

func (r *runner) warn(format string, args ...any) result {
	r.printf("  WARN: "+format+"\n", args...)
	return warn
}

func (r *runner) fail(format string, args ...any) result {
	r.printf("  FAIL: "+format+"\n", args...)
	return fail
}

func (r *runner) confirm(prompt string) bool {
	r.printf("%s [y/n]: ", prompt)
	answer, _ := r.in.ReadString('\n')
	answer = strings.TrimSpace(strings.ToLower(answer))
	return answer == "y" || answer == "yes"
}

func (r *runner) checkConfig(context.Context) result {
	cfg := r.opts.Config
	if cfg == nil {
		return r.fail("no configuration loaded")
	}
	if err := cfg.Validate(); err != nil {
		return r.fail("%v", err)
	}
	r.printf("  api: %s (user %s, timeout %s)\n", cfg.API.URL, cfg.API.UserID, cfg.API.Timeout.Duration)
	r.printf("  data: %s\n", cfg.Storage.DataDir)
	return r.pass("configuration is valid")
}

func (r *runner) backend() (Backend, error) {
	if r.opts.Backend != nil {
		return r.opts.Backend, nil
	}
	if r.opts.Config == nil {
		return nil, errors.New("no configuration loaded")
	}
	c, err := gateway.New(gateway.Options{
		BaseURL: r.opts.Config.API.URL,
		UserID:  r.opts.Config.API.UserID,
		Timeout: r.opts.Config.API.Timeout.Duration,
	})
	if err != nil {
		return nil, err
	}
	r.opts.Backend = c
	return c, nil
}

func describe(err error) string {
	var se *gateway.ServiceError
	switch {
	case gateway.IsTimeout(err):
		return "backend did not answer in time: " + err.Error()
	case errors.As(err, &se):
		return fmt.Sprintf("backend returned HTTP %d", se.StatusCode)
	}
	return err.Error()
}

func (r *runner) checkHealth(ctx context.Context) result {
	b, err := r.backend()
	if err != nil {
		return r.fail("%v", err)
	}
	h, err := b.Health(ctx)
	if err != nil {
		r.printf("  Replies will come from the local fallback rules.\n")
		return r.fail("%s", describe(err))
	}
	if h.Status != "healthy" && h.Status != "ok" {
		return r.warn("backend reports status %q", h.Status)
	}
	return r.pass("%s is %s", h.Service, h.Status)
}

func (r *runner) checkCategories(ctx context.Context) result {
	b, err := r.backend()
	if err != nil {
		return r.fail("%v", err)
	}
	cats, err := b.ListCategories(ctx)
	if err != nil {
		return r.warn("%s (the %d built-in categories will be used)", describe(err), len(welfare.SeedCategories()))
	}
	if len(cats) == 0 {
		return r.warn("backend returned no categories")
	}
	return r.pass("%d categories: %s", len(cats), strings.Join(cats, ", "))
}

func (r *runner) checkSettings(ctx context.Context) result {
	backend := r.opts.Settings
	if backend == nil {
		if r.opts.Config == nil {
			return r.fail("no configuration loaded")
		}
		path := r.opts.Config.SettingsPath()
		b, err := settings.OpenSQLite(path)
		if err != nil {
			return r.fail("%v", err)
		}
		defer b.Close()
		r.printf("  file: %s\n", path)
		backend = b
	}

	store, err := settings.Open(ctx, backend)
	switch {
	case store == nil:
		return r.fail("%v", err)
	case errors.Is(err, settings.ErrUnsupportedSchema):
		return r.warn("saved preferences come from a newer version; defaults are in use and will not be saved")
	case err != nil:
		return r.warn("saved preferences are unreadable (%v); defaults are in use", err)
	}
	p := store.Get()
	r.printf("  voice %s, speed %s, font %s, dark mode %s\n",
		onOff(p.VoiceEnabled), p.VoiceSpeed, p.FontSize, onOff(p.DarkMode))
	return r.pass("preferences loaded")
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func (r *runner) audioContext() (audio.Context, error) {
	if r.opts.Audio != nil {
		return r.opts.Audio, nil
	}
	ctx, err := audio.NewContext()
	if err != nil {
		return nil, err
	}
	r.opts.Audio = ctx
	return ctx, nil
}

func (r *runner) checkMicrophone(ctx context.Context) result {
	actx, err := r.audioContext()
	if err != nil {
		return r.fail("cannot connect to audio: %v", err)
	}

	name := "system default"
	if r.opts.Device != nil {
		name = r.opts.Device.Name
	}
	r.printf("  Using device: %s\n", name)
	if audio.IsBluetooth(name) {
		r.printf("  Note: bluetooth microphones record at reduced quality.\n")
	}

	r.printf("  Speak for %.0f seconds", r.opts.RecordFor.Seconds())
	rec, err := record(ctx, actx, r.opts.Device, r.opts.RecordFor, func() { r.printf(".") })
	r.printf("\n")
	if err != nil {
		return r.fail("recording error: %v", err)
	}
	if rec.bytes == 0 {
		return r.fail("no audio captured")
	}

	r.printf("  Recorded %.1f KB, peak level %.2f\n", float64(rec.bytes)/1024, rec.peak)
	if !rec.voice {
		return r.warn("no voice detected; check the microphone volume")
	}
	return r.pass("voice detected")
}

type recordResult struct {
	bytes int
	peak  float64
	voice bool
}

func record(ctx context.Context, actx audio.Context, device *audio.DeviceInfo, d time.Duration, progress func()) (recordResult, error) {
	var (
		mu  sync.Mutex
		res recordResult
	)
	proc, _ := vad.NewProcessor() // nil falls back to the level threshold

	dev, err := actx.NewCapture(device, audio.CaptureConfig{
		SampleRate: audio.SampleRate,
		Channels:   audio.Channels,
	})
	if err != nil {
		return res, err
	}
	defer dev.Close()

	dev.SetCallback(func(data []byte, _ uint32) {
		mu.Lock()
		defer mu.Unlock()
		res.bytes += len(data)
		res.peak = max(res.peak, rms(data))
		if proc != nil {
			proc.Process(data)
		}
	})
	if err := dev.Start(); err != nil {
		return res, err
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(d)
wait:
	for {
		select {
		case <-ctx.Done():
			break wait
		case <-deadline:
			break wait
		case <-ticker.C:
			progress()
		}
	}
	dev.Stop()
	dev.ClearCallback()

	mu.Lock()
	defer mu.Unlock()
	if proc != nil {
		res.voice = proc.VoiceDetected()
	} else {
		res.voice = res.peak > 0.02
	}
	return res, ctx.Err()
}

func rms(data []byte) float64 {
	n := len(data) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(data[i*2:]))) / 32768
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

func (r *runner) checkSpeaker(ctx context.Context) result {
	actx, err := r.audioContext()
	if err != nil {
		return r.fail("cannot connect to audio: %v", err)
	}
	r.printf("  Playing a test tone...\n")
	pb, err := actx.NewPlayback(beep.Cue(beep.Start))
	if err != nil {
		return r.fail("cannot open output: %v", err)
	}
	select {
	case <-pb.Done():
	case <-ctx.Done():
		pb.Stop()
		return r.fail("interrupted")
	case <-time.After(3 * time.Second):
		pb.Stop()
		return r.fail("playback did not finish")
	}
	if !r.confirm("  Did you hear a tone?") {
		return r.fail("tone not confirmed")
	}
	return r.pass("speaker verified by user")
}

func (r *runner) checkClipboard(context.Context) result {
	if !clipboard.Available() {
		return r.warn("no clipboard tool found; copying replies is disabled")
	}
	return r.pass("clipboard available")
}
