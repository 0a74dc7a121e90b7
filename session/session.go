// Package session runs one voice conversation: recording, transcription,
// the assistant reply and speech playback, one turn at a time.
//
// All session state is owned by a single goroutine. Public methods hand it
// commands and wait for the answer; remote calls run on worker goroutines and
// post their results back tagged with the turn generation, so results from
// an abandoned turn or a closed controller are dropped on arrival.
package session

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"carebridge/audio"
	"carebridge/beep"
	"carebridge/encoder"
	"carebridge/fallback"
	"carebridge/gateway"
	"carebridge/log"
	"carebridge/settings"
	"carebridge/telemetry"
	"carebridge/vad"
)

// Gateway is the part of the backend the controller talks to.
type Gateway interface {
	Transcribe(ctx context.Context, audio []byte, format string) (*gateway.Transcription, error)
	Converse(ctx context.Context, message string) (*gateway.Reply, error)
	// SynthesizeSpeech returns nil when there is nothing to play.
	SynthesizeSpeech(ctx context.Context, text, emotion string) []byte
}

type Microphone interface {
	NewCapture(device *audio.DeviceInfo, config audio.CaptureConfig) (audio.CaptureDevice, error)
}

type Player interface {
	Play(data []byte) (audio.Playback, error)
}

type Preferences interface {
	Get() settings.Preferences
}

type Cues interface {
	Play(k beep.Kind)
}

type Options struct {
	Gateway     Gateway
	Microphone  Microphone
	Device      *audio.DeviceInfo // nil selects the system default
	Player      Player
	Preferences Preferences
	Fallback    fallback.Responder
	Cues        Cues
	Observer    Observer
	Messages    Messages

	Format   string // upload format, "flac" or "wav"
	Emotion  string // speech emotion when the reply carries none
	Greeting string // appended by Greet; empty disables it
	AutoStop bool   // end the recording on a pause after speech
}

type Controller struct {
	opts Options

	inbox     chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	ctx       context.Context
	stopCtx   context.CancelFunc

	mu    sync.RWMutex
	snap  Snapshot
	turns []Turn

	// owned by the loop goroutine
	gen        uint64
	source     string
	turnCtx    context.Context
	turnCancel context.CancelFunc
	span       trace.Span
	capture    audio.CaptureDevice
	rec        *recording
	playback   audio.Playback
}

func New(opts Options) (*Controller, error) {
	switch {
	case opts.Gateway == nil:
		return nil, errors.New("session: gateway is required")
	case opts.Microphone == nil:
		return nil, errors.New("session: microphone is required")
	case opts.Player == nil:
		return nil, errors.New("session: player is required")
	case opts.Preferences == nil:
		return nil, errors.New("session: preferences are required")
	}
	if opts.Fallback == nil {
		opts.Fallback = fallback.Korean()
	}
	if opts.Messages == (Messages{}) {
		opts.Messages = MessagesFor("ko")
	}
	if opts.Format == "" {
		opts.Format = encoder.FormatFLAC
	}
	if opts.Emotion == "" {
		opts.Emotion = "comfort"
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		opts:    opts,
		inbox:   make(chan func()),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		ctx:     ctx,
		stopCtx: cancel,
		turnCtx: ctx,
	}
	go c.run()
	return c, nil
}

func (c *Controller) run() {
	defer close(c.done)
	for {
		select {
		case <-c.quit:
			c.teardown()
			return
		default:
		}
		select {
		case fn := <-c.inbox:
			fn()
		case <-c.quit:
			c.teardown()
			return
		}
	}
}

// call runs fn on the loop goroutine and returns its result.
func (c *Controller) call(fn func() error) error {
	reply := make(chan error, 1)
	select {
	case c.inbox <- func() { reply <- fn() }:
	case <-c.done:
		return ErrClosed
	}
	return <-reply
}

// post hands a worker result to the loop. It is dropped after Close.
func (c *Controller) post(fn func()) {
	select {
	case c.inbox <- fn:
	case <-c.done:
	}
}

// Start opens the microphone and begins a voice turn.
func (c *Controller) Start() error { return c.call(c.start) }

// Stop ends the recording and sends it for transcription. It does nothing
// unless a recording is in progress.
func (c *Controller) Stop() error { return c.call(c.stop) }

// SubmitText begins a typed turn.
func (c *Controller) SubmitText(text string) error {
	return c.call(func() error { return c.submit(text) })
}

func (c *Controller) SetDraft(text string) error {
	return c.call(func() error {
		c.mu.Lock()
		c.snap.Draft = text
		c.mu.Unlock()
		return nil
	})
}

// SubmitDraft submits the current draft and clears it on success.
func (c *Controller) SubmitDraft() error {
	return c.call(func() error { return c.submit(c.snap.Draft) })
}

// Cancel abandons the current turn. Playback stops before it returns.
func (c *Controller) Cancel() error { return c.call(c.cancel) }

// Acknowledge dismisses an error and returns to Idle.
func (c *Controller) Acknowledge() error {
	return c.call(func() error {
		c.acknowledge()
		return nil
	})
}

// Greet appends the configured greeting as the first assistant turn. It is
// not spoken.
func (c *Controller) Greet() error {
	return c.call(func() error {
		if c.opts.Greeting != "" && len(c.turns) == 0 {
			c.appendTurn(RoleAssistant, c.opts.Greeting)
		}
		return nil
	})
}

// Close stops playback, releases the microphone and waits for the loop to
// exit. Results still in flight are discarded.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() { close(c.quit) })
	<-c.done
	return nil
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

func (c *Controller) State() State { return c.Snapshot().State }

func (c *Controller) Transcript() []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Turn(nil), c.turns...)
}

// ready allows a new turn from Idle, or from Error after dismissing it.
func (c *Controller) ready() error {
	switch c.snap.State {
	case Idle:
		return nil
	case Error:
		c.acknowledge()
		return nil
	}
	return ErrBusy
}

func (c *Controller) start() error {
	if err := c.ready(); err != nil {
		return err
	}
	c.beginTurn("voice")

	dev, err := c.opts.Microphone.NewCapture(c.opts.Device, audio.CaptureConfig{
		SampleRate: audio.SampleRate,
		Channels:   audio.Channels,
	})
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		c.fail(err, c.opts.Messages.DeviceUnavailable)
		return err
	}

	rec := &recording{started: time.Now(), stop: make(chan struct{})}
	if vp, err := vad.NewProcessor(); err != nil {
		log.Warnf("vad unavailable: %v", err)
	} else {
		rec.vad = vp
	}
	dev.SetCallback(rec.feed)
	if err := dev.Start(); err != nil {
		dev.ClearCallback()
		dev.Close()
		err = fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		c.fail(err, c.opts.Messages.DeviceUnavailable)
		return err
	}

	c.capture, c.rec = dev, rec
	c.setState(Recording)
	c.cue(beep.Start)
	go c.monitor(c.gen, rec)
	return nil
}

func (c *Controller) stop() error {
	if c.snap.State != Recording {
		return nil
	}
	rec := c.rec
	c.releaseCapture()
	c.cue(beep.End)

	samples := rec.take()
	if len(samples) == 0 {
		c.endTurn(nil)
		c.setState(Idle)
		return nil
	}
	c.setState(Transcribing)

	gen, ctx, format := c.gen, c.turnCtx, c.opts.Format
	go func() {
		data, err := encoder.Encode(format, samples)
		var tr *gateway.Transcription
		if err == nil {
			tr, err = c.opts.Gateway.Transcribe(ctx, data, format)
		}
		c.post(func() { c.transcribed(gen, tr, err) })
	}()
	return nil
}

func (c *Controller) transcribed(gen uint64, tr *gateway.Transcription, err error) {
	if gen != c.gen {
		return
	}
	if err != nil {
		c.fail(fmt.Errorf("%w: %v", ErrTranscriptionFailed, err), c.opts.Messages.TranscriptionFailed)
		return
	}
	text := strings.TrimSpace(tr.Text)
	if text == "" {
		log.Info("no_speech")
		c.endTurn(nil)
		c.setState(Idle)
		return
	}
	log.Confidence(tr.Confidence)
	c.appendTurn(RoleUser, text)
	c.converse(text)
}

func (c *Controller) submit(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrBlankText
	}
	if err := c.ready(); err != nil {
		return err
	}
	c.beginTurn("text")
	c.mu.Lock()
	c.snap.Draft = ""
	c.mu.Unlock()
	c.appendTurn(RoleUser, text)
	c.converse(text)
	return nil
}

func (c *Controller) converse(text string) {
	c.setState(AwaitingReply)
	gen, ctx := c.gen, c.turnCtx
	go func() {
		r, err := c.opts.Gateway.Converse(ctx, text)
		c.post(func() { c.replied(gen, text, r, err) })
	}()
}

func (c *Controller) replied(gen uint64, text string, r *gateway.Reply, err error) {
	if gen != c.gen {
		return
	}
	reply, emotion := "", c.opts.Emotion
	if err != nil || r == nil {
		reply = c.opts.Fallback.Respond(text)
		log.FallbackUsed("reply", err)
		telemetry.FallbackUsed(c.turnCtx, "reply")
	} else {
		reply = r.Text
		if r.Emotion != "" {
			emotion = r.Emotion
		}
	}
	c.appendTurn(RoleAssistant, reply)
	telemetry.TurnCompleted(c.turnCtx, c.source)

	if !c.opts.Preferences.Get().VoiceEnabled {
		c.endTurn(nil)
		c.setState(Idle)
		return
	}
	c.setState(Speaking)
	ctx := c.turnCtx
	go func() {
		data := c.opts.Gateway.SynthesizeSpeech(ctx, reply, emotion)
		c.post(func() { c.synthesized(gen, data) })
	}()
}

func (c *Controller) synthesized(gen uint64, data []byte) {
	if gen != c.gen {
		return
	}
	if len(data) == 0 {
		c.endTurn(nil)
		c.setState(Idle)
		return
	}
	pb, err := c.opts.Player.Play(data)
	if err != nil {
		log.FallbackUsed("speech", err)
		telemetry.FallbackUsed(c.turnCtx, "speech")
		c.endTurn(nil)
		c.setState(Idle)
		return
	}
	c.playback = pb
	go func() {
		<-pb.Done()
		c.post(func() { c.playbackEnded(pb) })
	}()
}

func (c *Controller) playbackEnded(pb audio.Playback) {
	if c.playback != pb {
		return
	}
	c.playback = nil
	c.endTurn(nil)
	c.setState(Idle)
}

func (c *Controller) cancel() error {
	switch c.snap.State {
	case Idle:
		return nil
	case Error:
		c.acknowledge()
		return nil
	}
	c.stopPlayback()
	c.releaseCapture()
	c.invalidate()
	log.Info("turn_cancelled")
	c.setState(Idle)
	return nil
}

func (c *Controller) acknowledge() {
	if c.snap.State == Error {
		c.setState(Idle)
	}
}

func (c *Controller) teardown() {
	c.invalidate()
	c.stopPlayback()
	c.releaseCapture()
	c.stopCtx()
	log.SessionEnd(len(c.turns))
}

// releaseCapture closes the microphone if this session holds it.
func (c *Controller) releaseCapture() {
	if c.capture == nil {
		return
	}
	c.capture.Stop()
	c.capture.ClearCallback()
	c.capture.Close()
	c.capture = nil
	close(c.rec.stop)
	c.rec = nil
}

func (c *Controller) stopPlayback() {
	if c.playback == nil {
		return
	}
	c.playback.Stop()
	c.playback = nil
}

func (c *Controller) beginTurn(source string) {
	c.gen++
	c.source = source
	ctx, cancel := context.WithCancel(c.ctx)
	c.turnCtx, c.span = telemetry.Tracer().Start(ctx, "session.turn",
		trace.WithAttributes(attribute.String("source", source)))
	c.turnCancel = cancel
}

func (c *Controller) endTurn(err error) {
	if c.span != nil {
		if err != nil {
			c.span.RecordError(err)
			c.span.SetStatus(codes.Error, err.Error())
		}
		c.span.End()
		c.span = nil
	}
	if c.turnCancel != nil {
		c.turnCancel()
		c.turnCancel = nil
	}
}

// invalidate makes every result still in flight stale.
func (c *Controller) invalidate() {
	c.gen++
	c.endTurn(nil)
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	from := c.snap.State
	c.snap.State = s
	if s != Error {
		c.snap.Err, c.snap.Message = nil, ""
	}
	if s != Recording {
		c.snap.Recorded, c.snap.Level = 0, 0
	}
	snap := c.snap
	c.mu.Unlock()

	if from != s {
		log.StateChange(from.String(), s.String())
	}
	c.emit(Event{Kind: StateChanged, Snapshot: snap})
}

func (c *Controller) fail(err error, message string) {
	c.endTurn(err)
	c.mu.Lock()
	from := c.snap.State
	c.snap.State = Error
	c.snap.Err, c.snap.Message = err, message
	c.snap.Recorded, c.snap.Level = 0, 0
	snap := c.snap
	c.mu.Unlock()

	log.StateChange(from.String(), Error.String())
	log.Errorf("%v", err)
	c.cue(beep.Error)
	c.emit(Event{Kind: Failed, Snapshot: snap})
}

func (c *Controller) appendTurn(role Role, text string) {
	t := Turn{ID: uuid.NewString(), Role: role, Text: text, CreatedAt: time.Now()}
	c.mu.Lock()
	c.turns = append(c.turns, t)
	c.snap.Turns = len(c.turns)
	snap := c.snap
	c.mu.Unlock()

	log.Turn(string(role), text)
	c.emit(Event{Kind: TurnAppended, Snapshot: snap, Turn: &t})
}

func (c *Controller) emit(e Event) {
	if c.opts.Observer != nil {
		c.opts.Observer.SessionEvent(e)
	}
}

func (c *Controller) cue(k beep.Kind) {
	if c.opts.Cues != nil {
		c.opts.Cues.Play(k)
	}
}

// monitor reports level and duration while recording and applies the
// silence policy.
func (c *Controller) monitor(gen uint64, rec *recording) {
	mon := vad.NewMonitor(c.opts.AutoStop)
	ticker := time.NewTicker(vad.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rec.stop:
			return
		case <-ticker.C:
		}
		ev := vad.None
		if rec.vad != nil {
			ev = mon.Tick(rec.vad.HasSpeechTick())
		}
		level := rec.currentLevel()
		elapsed := time.Since(rec.started)
		c.post(func() { c.recordingTick(gen, rec, level, elapsed, ev) })
	}
}

func (c *Controller) recordingTick(gen uint64, rec *recording, level float64, elapsed time.Duration, ev vad.Event) {
	if gen != c.gen || c.rec != rec {
		return
	}
	c.mu.Lock()
	c.snap.Level, c.snap.Recorded = level, elapsed
	snap := c.snap
	c.mu.Unlock()
	c.emit(Event{Kind: LevelChanged, Snapshot: snap})

	switch ev {
	case vad.Warn, vad.Repeat:
		log.Info("no_voice_warning")
		c.cue(beep.Warn)
		c.emit(Event{Kind: SilenceWarning, Snapshot: snap})
	case vad.WarnClear:
		c.emit(Event{Kind: SilenceCleared, Snapshot: snap})
	case vad.EndOfSpeech, vad.AutoStop:
		log.Info("silence_" + ev.String())
		c.stop()
	}
}

// recording is the capture buffer. feed runs on the audio thread.
type recording struct {
	mu      sync.Mutex
	samples []int16
	level   float64

	started time.Time
	vad     *vad.Processor
	stop    chan struct{}
}

func (r *recording) feed(data []byte, _ uint32) {
	n := len(data) / 2
	if n == 0 {
		return
	}
	var sumSquares float64
	r.mu.Lock()
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(data[i*2:]))
		r.samples = append(r.samples, s)
		f := float64(s) / 32768.0
		sumSquares += f * f
	}
	r.level = math.Sqrt(sumSquares / float64(n))
	r.mu.Unlock()
	if r.vad != nil {
		r.vad.Process(data)
	}
}

func (r *recording) currentLevel() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.level
}

// take hands the buffer over to the caller.
func (r *recording) take() []int16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.samples
	r.samples = nil
	return s
}
