package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	diagName         = "diagnostics_log.txt"
	conversationName = "conversation_log.txt"
)

var (
	diagLog  zerolog.Logger
	diagFile *lumberjack.Logger
	convFile *lumberjack.Logger
	logMu    sync.Mutex
	logReady bool
	pid      int
	dir      string
)

// GatewayMetrics describes one remote call for the diagnostics log.
type GatewayMetrics struct {
	Op         string
	Status     int
	RequestKB  float64
	ResponseKB float64
	DNSTimeMs  float64
	TLSTimeMs  float64
	TTFBMs     float64
	TotalMs    float64
	ConnReused bool
}

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: --logpath flag
	if flagPath != "" {
		return absolute(flagPath)
	}

	// Priority 2: CAREBRIDGE_LOG_PATH environment variable
	if envPath := os.Getenv("CAREBRIDGE_LOG_PATH"); envPath != "" {
		return absolute(envPath)
	}

	// Priority 3: Default OS-specific location
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("log dir: %w", err)
	}
	return platformDir(home, os.Getenv), nil
}

func absolute(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func rotating(name string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   filepath.Join(dir, name),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	diagFile = rotating(diagName)
	convFile = rotating(conversationName)

	// lumberjack opens lazily; touch both files so a bad directory fails here.
	for _, w := range []io.Writer{diagFile, convFile} {
		if _, err := w.Write(nil); err != nil {
			closeLocked()
			return err
		}
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func closeLocked() {
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if convFile != nil {
		convFile.Close()
		convFile = nil
	}
	logReady = false
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	closeLocked()
}

// Logger returns the diagnostics logger for packages that want structured fields.
// Before Init it is a no-op logger.
func Logger() zerolog.Logger {
	if !logReady {
		return zerolog.Nop()
	}
	return diagLog
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func GatewayCall(m GatewayMetrics, err error) {
	if !logReady {
		return
	}

	connStatus := "new"
	if m.ConnReused {
		connStatus = "reused"
	}

	ev := diagLog.Info()
	if err != nil {
		ev = diagLog.Warn().Err(err)
	}
	ev.Str("op", m.Op).
		Int("status", m.Status).
		Str("conn", connStatus).
		Float64("req_kb", m.RequestKB).
		Float64("resp_kb", m.ResponseKB).
		Float64("dns_ms", m.DNSTimeMs).
		Float64("tls_ms", m.TLSTimeMs).
		Float64("ttfb_ms", m.TTFBMs).
		Float64("total_ms", m.TotalMs).
		Msg("gateway_call")
}

// Turn appends one line to the conversation log: time, pid, role, text.
func Turn(role, text string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	text = strings.ReplaceAll(text, "\n", " ")
	line := fmt.Sprintf("%s\t[%d]\t%s\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, role, text)
	convFile.Write([]byte(line))
}

func Confidence(confidence float64) {
	if !logReady {
		return
	}
	if confidence > 0 {
		diagLog.Info().Float64("confidence", confidence).Msg("stt_confidence")
	}
}

func StateChange(from, to string) {
	if !logReady {
		return
	}
	diagLog.Info().Str("from", from).Str("to", to).Msg("state")
}

func FallbackUsed(kind string, cause error) {
	if !logReady {
		return
	}
	diagLog.Warn().Str("kind", kind).AnErr("cause", cause).Msg("fallback")
}

func SessionStart(apiURL, locale, format string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("api", apiURL).
		Str("locale", locale).
		Str("format", format).
		Msg("session_start")
}

func SessionEnd(turns int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("turns", turns).
		Msg("session_end")
}
