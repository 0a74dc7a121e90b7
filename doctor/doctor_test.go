package doctor

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"carebridge/audio"
	"carebridge/config"
	"carebridge/gateway"
	"carebridge/settings"
)

func tone(seconds float64) []byte {
	n := int(seconds * audio.SampleRate)
	b := make([]byte, n*2)
	for i := 0; i < n; i++ {
		s := int16(math.Sin(2*math.Pi*220*float64(i)/audio.SampleRate) * 12000)
		binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
	}
	return b
}

func backend(t *testing.T, healthStatus int) gateway.Options {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(healthStatus)
			io.WriteString(w, `{"status":"healthy","service":"carebridge-api"}`)
		case "/api/welfare/rag/categories":
			io.WriteString(w, `{"categories":["노인복지","건강"]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return gateway.Options{BaseURL: srv.URL, Timeout: 2 * time.Second}
}

func options(t *testing.T, gw gateway.Options, in string) (Options, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default()
	cfg.API.URL = gw.BaseURL
	cfg.Storage.DataDir = t.TempDir()

	client, err := gateway.New(gw)
	if err != nil {
		t.Fatal(err)
	}
	out := &bytes.Buffer{}
	return Options{
		Config:    cfg,
		Backend:   client,
		Audio:     audio.NewFakeContextPCM(tone(0.5), false),
		Settings:  settings.NewMemoryBackend(),
		In:        strings.NewReader(in),
		Out:       out,
		RecordFor: 50 * time.Millisecond,
	}, out
}

func TestAllChecksPass(t *testing.T) {
	opts, out := options(t, backend(t, http.StatusOK), "y\n")
	if code := Run(context.Background(), opts); code != 0 {
		t.Fatalf("exit code = %d\n%s", code, out)
	}
	for _, want := range []string{
		"PASS: configuration is valid",
		"PASS: carebridge-api is healthy",
		"PASS: 2 categories",
		"PASS: preferences loaded",
		"PASS: speaker verified by user",
		"All checks passed!",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
}

func TestBackendDown(t *testing.T) {
	opts, out := options(t, backend(t, http.StatusServiceUnavailable), "y\n")
	if code := Run(context.Background(), opts); code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(out.String(), "FAIL: backend returned HTTP 503") {
		t.Errorf("output:\n%s", out)
	}
}

func TestInvalidConfig(t *testing.T) {
	opts, out := options(t, backend(t, http.StatusOK), "y\n")
	opts.Config.Voice.Format = "ogg"
	if code := Run(context.Background(), opts); code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(out.String(), `unknown audio format "ogg"`) {
		t.Errorf("output:\n%s", out)
	}
}

func TestMicrophoneUnavailable(t *testing.T) {
	opts, out := options(t, backend(t, http.StatusOK), "y\n")
	fake := audio.NewFakeContextPCM(nil, false)
	fake.CaptureErr = audio.ErrNoDevice
	opts.Audio = fake
	if code := Run(context.Background(), opts); code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(out.String(), "FAIL: recording error") {
		t.Errorf("output:\n%s", out)
	}
}

func TestSpeakerNotConfirmed(t *testing.T) {
	opts, out := options(t, backend(t, http.StatusOK), "n\n")
	if code := Run(context.Background(), opts); code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(out.String(), "FAIL: tone not confirmed") {
		t.Errorf("output:\n%s", out)
	}
}

func TestNewerSchemaWarns(t *testing.T) {
	opts, out := options(t, backend(t, http.StatusOK), "y\n")
	mem := settings.NewMemoryBackend()
	mem.Put(context.Background(), settings.Key, []byte(`{"schemaVersion":99}`))
	opts.Settings = mem
	if code := Run(context.Background(), opts); code != 0 {
		t.Fatalf("exit code = %d\n%s", code, out)
	}
	if !strings.Contains(out.String(), "WARN: saved preferences come from a newer version") {
		t.Errorf("output:\n%s", out)
	}
}

func TestInterrupted(t *testing.T) {
	opts, out := options(t, backend(t, http.StatusOK), "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if code := Run(ctx, opts); code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(out.String(), "Interrupted") {
		t.Errorf("output:\n%s", out)
	}
}

func TestRMS(t *testing.T) {
	if rms(nil) != 0 {
		t.Error("empty input should be 0")
	}
	b := make([]byte, 4)
	minSample := int16(-32768)
	binary.LittleEndian.PutUint16(b, uint16(minSample))
	binary.LittleEndian.PutUint16(b[2:], uint16(minSample))
	if got := rms(b); math.Abs(got-1) > 1e-9 {
		t.Errorf("rms = %v, want 1", got)
	}
}
