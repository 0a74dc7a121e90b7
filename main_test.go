package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"carebridge/audio"
	"carebridge/config"
	"carebridge/session"
	"carebridge/settings"
)

// backendStub answers like the CareBridge API. Speech synthesis and search
// fail so the silent and local paths are taken.
func backendStub(t *testing.T) (*httptest.Server, *sync.Map) {
	t.Helper()
	hits := &sync.Map{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, _ := hits.LoadOrStore(r.URL.Path, new(atomic.Int64))
		n.(*atomic.Int64).Add(1)
		switch r.URL.Path {
		case "/api/voice/conversation":
			io.WriteString(w, `{"session_id":"s1","user_text":"안녕하세요","assistant_text":"","confidence":0.93}`)
		case "/api/chat/send":
			io.WriteString(w, `{"message":{"content":"반가워요"},"session_id":"s1"}`)
		case "/api/welfare/rag/categories":
			io.WriteString(w, `{"categories":["노인복지","건강"]}`)
		case "/health":
			io.WriteString(w, `{"status":"healthy","service":"stub"}`)
		default:
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, hits
}

func hitCount(hits *sync.Map, path string) int {
	n, ok := hits.Load(path)
	if !ok {
		return 0
	}
	return int(n.(*atomic.Int64).Load())
}

func testApp(t *testing.T, apiURL string) *app {
	t.Helper()
	cfg := config.Default()
	cfg.API.URL = apiURL
	cfg.API.Timeout = config.Duration{Duration: 5 * time.Second}
	cfg.Storage.DataDir = t.TempDir()
	a, err := newApp(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(a.close)
	return a
}

func speechWAV(t *testing.T) string {
	t.Helper()
	n := audio.SampleRate / 2
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		s := int16(math.Sin(2*math.Pi*300*float64(i)/audio.SampleRate) * 10000)
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	path := filepath.Join(t.TempDir(), "speech.wav")
	if err := os.WriteFile(path, audio.EncodeWAV(pcm, audio.SampleRate, 1), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func script(lines ...string) io.Reader {
	return strings.NewReader(strings.Join(lines, "\n") + "\n")
}

func TestTestModeTypedTurn(t *testing.T) {
	srv, hits := backendStub(t)
	a := testApp(t, srv.URL)

	var out bytes.Buffer
	code := runTestMode(context.Background(), a, nil, script("SAY 안녕", "WAIT", "QUIT"), &out)
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	got := out.String()
	for _, want := range []string{"turn user 안녕\n", "turn assistant 반가워요\n", "state idle\n"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Index(got, "turn user") > strings.Index(got, "turn assistant") {
		t.Errorf("user turn should come first:\n%s", got)
	}
	if hitCount(hits, "/api/voice/tts/senior") != 1 {
		t.Errorf("tts calls = %d, want 1", hitCount(hits, "/api/voice/tts/senior"))
	}
}

func TestTestModeVoiceTurn(t *testing.T) {
	srv, hits := backendStub(t)
	a := testApp(t, srv.URL)

	var out bytes.Buffer
	runTestMode(context.Background(), a, []string{speechWAV(t)},
		script("START", "SLEEP 300", "STOP", "WAIT", "QUIT"), &out)

	got := out.String()
	for _, want := range []string{"state recording\n", "state transcribing\n", "turn user 안녕하세요\n", "turn assistant 반가워요\n"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if hitCount(hits, "/api/voice/conversation") != 1 {
		t.Errorf("transcribe calls = %d", hitCount(hits, "/api/voice/conversation"))
	}
}

func TestTestModeVoiceDisabled(t *testing.T) {
	srv, hits := backendStub(t)
	a := testApp(t, srv.URL)

	var out bytes.Buffer
	runTestMode(context.Background(), a, nil, script("VOICE off", "SAY 안녕", "WAIT", "QUIT"), &out)
	if !strings.Contains(out.String(), "turn assistant 반가워요") {
		t.Fatalf("no reply:\n%s", out.String())
	}
	if n := hitCount(hits, "/api/voice/tts/senior"); n != 0 {
		t.Errorf("tts calls = %d, want 0", n)
	}
	if !a.prefs.Dirty() {
		t.Error("VOICE should change preferences in memory only")
	}
}

func TestTestModeOffline(t *testing.T) {
	srv, _ := backendStub(t)
	url := srv.URL
	srv.Close()
	a := testApp(t, url)

	var out bytes.Buffer
	runTestMode(context.Background(), a, nil,
		script("SAY 복지 혜택 알려줘", "WAIT", "SEARCH", "CATEGORIES", "QUIT"), &out)
	got := out.String()
	if !strings.Contains(got, "turn assistant 복지 정보를 찾아드릴게요.") {
		t.Errorf("expected welfare fallback:\n%s", got)
	}
	if strings.Contains(got, "error ") {
		t.Errorf("fallback must not surface an error:\n%s", got)
	}
	for _, want := range []string{"program welfare_001 기초연금", "search local"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestTestModeSearchAndCategories(t *testing.T) {
	srv, _ := backendStub(t)
	a := testApp(t, srv.URL)

	var out bytes.Buffer
	runTestMode(context.Background(), a, nil, script("SEARCH 치매", "CATEGORIES", "QUIT"), &out)
	got := out.String()
	for _, want := range []string{"program welfare_006", "search local", "categories 노인복지,건강"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestTestModeRefusals(t *testing.T) {
	srv, _ := backendStub(t)
	a := testApp(t, srv.URL)

	var out bytes.Buffer
	runTestMode(context.Background(), a, nil, script("SAY    ", "STOP", "BOGUS", "QUIT"), &out)
	got := out.String()
	if !strings.Contains(got, "refused "+session.ErrBlankText.Error()) {
		t.Errorf("blank text not refused:\n%s", got)
	}
	if !strings.Contains(got, `error unknown command "BOGUS"`) {
		t.Errorf("unknown command not reported:\n%s", got)
	}
}

func TestTestModeSave(t *testing.T) {
	srv, _ := backendStub(t)
	a := testApp(t, srv.URL)
	runTestMode(context.Background(), a, nil, script("VOICE off", "SAVE", "QUIT"), io.Discard)

	backend, err := settings.OpenSQLite(a.cfg.SettingsPath())
	if err != nil {
		t.Fatal(err)
	}
	defer backend.Close()
	store, err := settings.Open(context.Background(), backend)
	if err != nil {
		t.Fatal(err)
	}
	if store.Get().VoiceEnabled {
		t.Error("saved voiceEnabled should be false")
	}
}

func TestFlagsOverrideConfig(t *testing.T) {
	fs, f := newFlagSet()
	if err := fs.Parse([]string{"--api-url", "https://api.example.org", "--format", "wav", "--no-beep", "--auto-stop", "--timeout", "5s"}); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Assistant.Locale = "en"
	f.apply(fs, cfg)

	if cfg.API.URL != "https://api.example.org" || cfg.Voice.Format != "wav" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Voice.Beep || !cfg.Voice.AutoStop {
		t.Errorf("voice = %+v", cfg.Voice)
	}
	if cfg.API.Timeout.Duration != 5*time.Second {
		t.Errorf("timeout = %v", cfg.API.Timeout)
	}
	if cfg.Assistant.Locale != "en" {
		t.Error("unset flags must not touch the config")
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	for _, k := range []string{"CAREBRIDGE_API_URL", "CAREBRIDGE_USER_ID", "CAREBRIDGE_TIMEOUT", "CAREBRIDGE_DATA_DIR", "CAREBRIDGE_LOCALE"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	dir := t.TempDir()
	tomlPath := filepath.Join(dir, "config.toml")
	os.WriteFile(tomlPath, []byte("[api]\nurl = \"http://file:1\"\nuser_id = \"from-file\"\n"), 0644)
	envPath := filepath.Join(dir, ".env")
	os.WriteFile(envPath, []byte("CAREBRIDGE_USER_ID=from-env\n"), 0644)
	t.Cleanup(func() { os.Unsetenv("CAREBRIDGE_USER_ID") })

	fs, f := newFlagSet()
	fs.Parse([]string{"--config", tomlPath, "--env", envPath, "--api-url", "http://flag:2"})
	cfg, err := loadConfig(fs, f)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.API.URL != "http://flag:2" {
		t.Errorf("url = %q, want the flag value", cfg.API.URL)
	}
	if cfg.API.UserID != "from-env" {
		t.Errorf("user id = %q, want the .env value", cfg.API.UserID)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	fs, f := newFlagSet()
	fs.Parse([]string{"--env", "", "--config", filepath.Join(t.TempDir(), "missing.toml")})
	if _, err := loadConfig(fs, f); err == nil {
		t.Error("an explicit missing config file should fail")
	}

	fs, f = newFlagSet()
	fs.Parse([]string{"--env", "", "--locale", "fr"})
	if _, err := loadConfig(fs, f); err == nil {
		t.Error("unknown locale should fail validation")
	}
}

func TestEventQueueOrderAndLevelCoalescing(t *testing.T) {
	q := newEventQueue()
	q.SessionEvent(session.Event{Kind: session.StateChanged})
	q.SessionEvent(session.Event{Kind: session.LevelChanged, Snapshot: session.Snapshot{Level: 0.1}})
	q.SessionEvent(session.Event{Kind: session.LevelChanged, Snapshot: session.Snapshot{Level: 0.2}})
	q.SessionEvent(session.Event{Kind: session.TurnAppended})
	q.close()
	q.SessionEvent(session.Event{Kind: session.Failed}) // after close: dropped

	var got []session.Event
	q.run(func(e session.Event) { got = append(got, e) })

	kinds := []session.EventKind{session.StateChanged, session.LevelChanged, session.TurnAppended}
	if len(got) != len(kinds) {
		t.Fatalf("got %d events: %+v", len(got), got)
	}
	for i, k := range kinds {
		if got[i].Kind != k {
			t.Errorf("event %d kind = %v, want %v", i, got[i].Kind, k)
		}
	}
	if got[1].Snapshot.Level != 0.2 {
		t.Errorf("level = %v, want the latest reading", got[1].Snapshot.Level)
	}
}

func TestEventQueueNeverBlocks(t *testing.T) {
	q := newEventQueue()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			q.SessionEvent(session.Event{Kind: session.TurnAppended})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("SessionEvent blocked without a consumer")
	}
}

func TestEventLine(t *testing.T) {
	turn := &session.Turn{Role: session.RoleUser, Text: "hi"}
	tests := []struct {
		e    session.Event
		want string
	}{
		{session.Event{Kind: session.StateChanged, Snapshot: session.Snapshot{State: session.Speaking}}, "state speaking"},
		{session.Event{Kind: session.TurnAppended, Turn: turn}, "turn user hi"},
		{session.Event{Kind: session.Failed, Snapshot: session.Snapshot{Message: "oops"}}, "error oops"},
		{session.Event{Kind: session.SilenceWarning}, "warning silence"},
		{session.Event{Kind: session.LevelChanged}, ""},
	}
	for _, tt := range tests {
		if got := eventLine(tt.e); got != tt.want {
			t.Errorf("eventLine(%v) = %q, want %q", tt.e.Kind, got, tt.want)
		}
	}
}

func TestRenderLevel(t *testing.T) {
	if got := renderLevel(0, 5); got != "[     ]" {
		t.Errorf("silent meter = %q", got)
	}
	full := renderLevel(1, 5)
	if strings.Count(full, "█") != 5 {
		t.Errorf("full meter = %q", full)
	}
	if strings.Count(renderLevel(0.05, 10), "█") != 2 {
		t.Errorf("0.05 should fill 2 of 10 cells: %q", renderLevel(0.05, 10))
	}
}

func TestLabelsFallBackToKorean(t *testing.T) {
	if labelsFor("fr").title != "케어브릿지" {
		t.Error("unknown locale should use Korean labels")
	}
	if labelsFor("en").title != "CareBridge" {
		t.Error("en labels")
	}
}

func TestTUIModelTranscriptAndPrefs(t *testing.T) {
	srv, _ := backendStub(t)
	a := testApp(t, srv.URL)
	ctrl, err := a.newController(noAudio{}, nil, noAudio{}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ctrl.Close()

	var m tea.Model = newTUIModel(context.Background(), ctrl, a, nil)
	m, _ = m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})

	turn := &session.Turn{ID: "1", Role: session.RoleAssistant, Text: "안녕하세요 어르신", CreatedAt: time.Now()}
	m, _ = m.Update(sessionMsg{Kind: session.TurnAppended, Turn: turn})
	if !strings.Contains(m.View(), "안녕하세요 어르신") {
		t.Errorf("view is missing the turn:\n%s", m.View())
	}

	m, _ = m.Update(sessionMsg{Kind: session.Failed, Snapshot: session.Snapshot{State: session.Error, Message: "마이크 오류"}})
	if !strings.Contains(m.View(), "마이크 오류") {
		t.Error("error message not shown")
	}

	before := a.prefs.Get().VoiceEnabled
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlT})
	if a.prefs.Get().VoiceEnabled == before {
		t.Error("ctrl+t should toggle voice")
	}
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlF})
	if a.prefs.Get().FontSize != settings.FontXLarge {
		t.Errorf("font = %q, want xlarge after large", a.prefs.Get().FontSize)
	}
}
