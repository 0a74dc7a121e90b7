//go:build integration

package test_test

import (
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

var testBinary string

func TestMain(m *testing.M) {
	testBinary = os.Getenv("CAREBRIDGE_TEST_BIN")
	if testBinary == "" {
		fmt.Fprintln(os.Stderr, "CAREBRIDGE_TEST_BIN not set; build the binary and point the variable at it")
		os.Exit(1)
	}
	os.Exit(m.Run())
}

func writeToneWAV(t *testing.T, sampleRate int, durationS float64, amplitude int16) string {
	t.Helper()
	const headerSize = 44
	numSamples := int(float64(sampleRate) * durationS)
	dataSize := numSamples * 2

	buf := make([]byte, headerSize+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(headerSize-8+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:34], 2)  // block align
	binary.LittleEndian.PutUint16(buf[34:36], 16) // bits per sample
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	for i := 0; i < numSamples; i++ {
		s := amplitude
		if i%40 >= 20 { // 400 Hz square wave
			s = -amplitude
		}
		binary.LittleEndian.PutUint16(buf[headerSize+i*2:], uint16(s))
	}

	path := filepath.Join(t.TempDir(), "input.wav")
	if err := os.WriteFile(path, buf, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func backend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/voice/conversation":
			io.WriteString(w, `{"session_id":"it","user_text":"오늘 날씨 어때요","confidence":0.9}`)
		case "/api/chat/send":
			io.WriteString(w, `{"response":"맑고 따뜻해요","session_id":"it","emotion":"happy"}`)
		default:
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func cmds(parts ...string) string {
	return strings.Join(parts, "\n") + "\n"
}

// runCareBridge runs the binary in test mode and returns its output and log dir.
func runCareBridge(t *testing.T, stdin string, args ...string) (out, logDir string) {
	t.Helper()
	logDir = t.TempDir()
	cmdArgs := append([]string{"--logpath", logDir, "--env", "", "--test"}, args...)

	cmd := exec.Command(testBinary, cmdArgs...)
	cmd.Stdin = strings.NewReader(stdin)
	cmd.Env = append(os.Environ(), "CAREBRIDGE_DATA_DIR="+t.TempDir())

	b, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("carebridge exited with error: %v\noutput: %s", err, b)
	}
	return string(b), logDir
}

func readLog(t *testing.T, logDir, filename string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(logDir, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return ""
		}
		t.Fatalf("failed to read %s: %v", filename, err)
	}
	return string(data)
}

func TestVersion(t *testing.T) {
	out, err := exec.Command(testBinary, "--version").CombinedOutput()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(out), "carebridge ") {
		t.Errorf("version output = %q", out)
	}
}

func TestVoiceTurn(t *testing.T) {
	srv := backend(t)
	wav := writeToneWAV(t, 16000, 1.0, 8000)
	out, logDir := runCareBridge(t, cmds("START", "SLEEP 500", "STOP", "WAIT", "QUIT"),
		"--api-url", srv.URL, wav)

	if !strings.Contains(out, "turn user 오늘 날씨 어때요") || !strings.Contains(out, "turn assistant 맑고 따뜻해요") {
		t.Errorf("output:\n%s", out)
	}
	conv := readLog(t, logDir, "conversation_log.txt")
	if strings.Count(conv, "\n") != 2 {
		t.Errorf("conversation log should hold two turns:\n%s", conv)
	}
	diag := readLog(t, logDir, "diagnostics_log.txt")
	for _, want := range []string{"session_start", "gateway_call", "session_end"} {
		if !strings.Contains(diag, want) {
			t.Errorf("diagnostics missing %q", want)
		}
	}
}

func TestWAVUpload(t *testing.T) {
	srv := backend(t)
	wav := writeToneWAV(t, 16000, 1.0, 8000)
	out, _ := runCareBridge(t, cmds("START", "SLEEP 300", "STOP", "WAIT", "QUIT"),
		"--api-url", srv.URL, "--format", "wav", wav)
	if !strings.Contains(out, "turn user 오늘 날씨 어때요") {
		t.Errorf("output:\n%s", out)
	}
}

func TestOfflineFallback(t *testing.T) {
	srv := backend(t)
	offline := srv.URL
	srv.Close()

	out, logDir := runCareBridge(t, cmds("SAY 고마워요", "WAIT", "QUIT"), "--api-url", offline)
	if !strings.Contains(out, "turn assistant 천만에요!") {
		t.Errorf("expected the gratitude fallback:\n%s", out)
	}
	if !strings.Contains(readLog(t, logDir, "diagnostics_log.txt"), "fallback") {
		t.Error("fallback should be logged")
	}
}

func TestGreeting(t *testing.T) {
	srv := backend(t)
	out, _ := runCareBridge(t, cmds("QUIT"), "--api-url", srv.URL, "--greeting")
	if !strings.Contains(out, "turn assistant 안녕하세요! 저는 케어브릿지 AI 도우미예요.") {
		t.Errorf("output:\n%s", out)
	}
}

func TestSilenceAutoStop(t *testing.T) {
	srv := backend(t)
	wav := writeToneWAV(t, 16000, 35.0, 0)
	out, _ := runCareBridge(t, cmds("START", "WAIT", "QUIT"), "--api-url", srv.URL, "--auto-stop", wav)
	if !strings.Contains(out, "warning silence") {
		t.Errorf("expected a silence warning:\n%s", out)
	}
	if !strings.Contains(out, "state transcribing") {
		t.Errorf("expected the recording to stop by itself:\n%s", out)
	}
}
