package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/spf13/pflag"

	"carebridge/audio"
	"carebridge/config"
	"carebridge/doctor"
	"carebridge/fallback"
	"carebridge/gateway"
	"carebridge/log"
	"carebridge/session"
	"carebridge/settings"
	"carebridge/shutdown"
	"carebridge/telemetry"
)

var version = "dev"

type flags struct {
	configPath   string
	envPath      string
	logPath      string
	apiURL       string
	userID       string
	timeout      time.Duration
	format       string
	locale       string
	rules        string
	device       string
	selectDevice bool
	noBeep       bool
	greeting     bool
	autoStop     bool
	doctor       bool
	test         bool
	version      bool
}

func newFlagSet() (*pflag.FlagSet, *flags) {
	f := &flags{}
	fs := pflag.NewFlagSet("carebridge", pflag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "", "config file (default "+config.DefaultPath()+")")
	fs.StringVar(&f.envPath, "env", ".env", "dotenv file with CAREBRIDGE_* variables")
	fs.StringVar(&f.logPath, "logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	fs.StringVar(&f.apiURL, "api-url", "", "backend base URL")
	fs.StringVar(&f.userID, "user-id", "", "user id sent with chat messages")
	fs.DurationVar(&f.timeout, "timeout", 0, "per-request timeout (e.g. 45s)")
	fs.StringVar(&f.format, "format", "", "upload format: flac or wav")
	fs.StringVar(&f.locale, "locale", "", "assistant language: ko or en")
	fs.StringVar(&f.rules, "rules", "", "YAML file with offline reply rules")
	fs.StringVarP(&f.device, "device", "d", "", "use the microphone whose name contains this text")
	fs.BoolVar(&f.selectDevice, "select-device", false, "pick the microphone interactively")
	fs.BoolVar(&f.noBeep, "no-beep", false, "disable recording cue tones")
	fs.BoolVar(&f.greeting, "greeting", false, "show the assistant greeting on open")
	fs.BoolVar(&f.autoStop, "auto-stop", false, "end the recording automatically on a pause")
	fs.BoolVar(&f.doctor, "doctor", false, "run system diagnostics and exit")
	fs.BoolVar(&f.test, "test", false, "headless stdin-driven mode (args: [wav-file])")
	fs.BoolVarP(&f.version, "version", "v", false, "print version and exit")
	return fs, f
}

// apply copies the flags the user set onto cfg; flags win over every other source.
func (f *flags) apply(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("api-url") {
		cfg.API.URL = f.apiURL
	}
	if fs.Changed("user-id") {
		cfg.API.UserID = f.userID
	}
	if fs.Changed("timeout") {
		cfg.API.Timeout = config.Duration{Duration: f.timeout}
	}
	if fs.Changed("format") {
		cfg.Voice.Format = f.format
	}
	if fs.Changed("locale") {
		cfg.Assistant.Locale = f.locale
	}
	if fs.Changed("rules") {
		cfg.Assistant.RulesFile = f.rules
	}
	if fs.Changed("no-beep") {
		cfg.Voice.Beep = !f.noBeep
	}
	if fs.Changed("greeting") {
		cfg.Assistant.Greeting = f.greeting
	}
	if fs.Changed("auto-stop") {
		cfg.Voice.AutoStop = f.autoStop
	}
}

func loadConfig(fs *pflag.FlagSet, f *flags) (*config.Config, error) {
	if err := config.LoadDotEnv(f.envPath); err != nil {
		return nil, err
	}
	path, required := f.configPath, true
	if path == "" {
		path, required = config.DefaultPath(), false
	}
	cfg, err := config.Load(path, required)
	if err != nil {
		return nil, err
	}
	f.apply(fs, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func initCrashLog() {
	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	debug.SetCrashOutput(crashFile, debug.CrashOptions{})
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs, f := newFlagSet()
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	if f.version {
		fmt.Printf("carebridge %s\n", version)
		return 0
	}

	logPath, err := log.ResolveDir(f.logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		return 1
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}
	initCrashLog()

	cfg, err := loadConfig(fs, f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx, stop := shutdown.Context(context.Background())
	defer stop()

	if f.doctor {
		return runDoctor(ctx, cfg, f.device)
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	stopTelemetry, err := telemetry.Init(ctx, telemetry.Options{Dir: log.Dir(), Version: version})
	if err != nil {
		log.Warnf("telemetry disabled: %v", err)
	} else {
		defer stopTelemetry()
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		log.Errorf("startup: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer a.close()

	if f.test {
		return runTestMode(ctx, a, fs.Args(), os.Stdin, os.Stdout)
	}
	return runTUI(ctx, a, f)
}

func runDoctor(ctx context.Context, cfg *config.Config, deviceName string) int {
	opts := doctor.Options{Config: cfg}
	actx, err := audio.NewContext()
	if err == nil {
		defer actx.Close()
		opts.Audio = actx
		if deviceName != "" {
			if dev, err := audio.FindDevice(actx, deviceName); err == nil {
				opts.Device = dev
			} else {
				fmt.Printf("Warning: %v, using the default device\n", err)
			}
		}
	}
	return doctor.Run(ctx, opts)
}

// app holds what every front end shares: configuration, the backend client,
// saved preferences and the offline reply rules.
type app struct {
	cfg      *config.Config
	gw       *gateway.Client
	prefs    *settings.Store
	fallback fallback.Responder
	messages session.Messages
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	var responder fallback.Responder
	var err error
	if cfg.Assistant.RulesFile != "" {
		responder, err = fallback.Load(cfg.Assistant.RulesFile)
	} else {
		responder, err = fallback.ForLocale(cfg.Assistant.Locale)
	}
	if err != nil {
		return nil, err
	}

	gw, err := gateway.New(gateway.Options{
		BaseURL: cfg.API.URL,
		UserID:  cfg.API.UserID,
		Timeout: cfg.API.Timeout.Duration,
	})
	if err != nil {
		return nil, err
	}
	go gw.Warm()

	backend, err := settings.OpenSQLite(cfg.SettingsPath())
	if err != nil {
		return nil, err
	}
	prefs, err := settings.Open(ctx, backend)
	if prefs == nil {
		backend.Close()
		return nil, err
	}
	if err != nil {
		log.Warnf("using default preferences: %v", err)
	}

	return &app{
		cfg:      cfg,
		gw:       gw,
		prefs:    prefs,
		fallback: responder,
		messages: session.MessagesFor(cfg.Assistant.Locale),
	}, nil
}

func (a *app) newController(mic session.Microphone, device *audio.DeviceInfo, player session.Player, cues session.Cues, obs session.Observer) (*session.Controller, error) {
	greeting := ""
	if a.cfg.Assistant.Greeting {
		greeting = a.messages.Greeting
	}
	ctrl, err := session.New(session.Options{
		Gateway:     a.gw,
		Microphone:  mic,
		Device:      device,
		Player:      player,
		Preferences: a.prefs,
		Fallback:    a.fallback,
		Cues:        cues,
		Observer:    obs,
		Messages:    a.messages,
		Format:      a.cfg.Voice.Format,
		Emotion:     a.cfg.Voice.Emotion,
		Greeting:    greeting,
		AutoStop:    a.cfg.Voice.AutoStop,
	})
	if err != nil {
		return nil, err
	}
	log.SessionStart(a.gw.BaseURL(), a.cfg.Assistant.Locale, a.cfg.Voice.Format)
	return ctrl, nil
}

func (a *app) close() {
	if a.prefs.Dirty() {
		log.Info("unsaved preference changes discarded")
	}
	a.prefs.Close()
}

// noAudio stands in for the sound system when it cannot be opened, so typed
// conversation still works.
type noAudio struct{}

func (noAudio) NewCapture(*audio.DeviceInfo, audio.CaptureConfig) (audio.CaptureDevice, error) {
	return nil, audio.ErrNoDevice
}

func (noAudio) Play([]byte) (audio.Playback, error) {
	return nil, audio.ErrEmptyAudio
}
