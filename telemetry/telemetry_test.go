package telemetry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestHelpersBeforeInit(t *testing.T) {
	ctx := context.Background()
	// must not panic without providers
	TurnCompleted(ctx, "text")
	FallbackUsed(ctx, "reply")
	GatewayCall(ctx, "converse", 10*time.Millisecond, errors.New("x"))
	_, span := Tracer().Start(ctx, "noop")
	span.End()
}

func TestInitWritesTracesAndMetrics(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	shutdown, err := Init(ctx, Options{Dir: dir, Version: "test", MetricInterval: time.Hour})
	if err != nil {
		t.Fatal(err)
	}

	_, span := Tracer().Start(ctx, "gateway.converse")
	span.End()
	FallbackUsed(ctx, "reply")
	GatewayCall(ctx, "converse", 12*time.Millisecond, nil)

	shutdown()

	traces, err := os.ReadFile(filepath.Join(dir, "traces.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(traces), "gateway.converse") {
		t.Errorf("traces missing span name:\n%s", traces)
	}

	metrics, err := os.ReadFile(filepath.Join(dir, "metrics.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(metrics), "carebridge.fallbacks") {
		t.Errorf("metrics missing fallback counter:\n%s", metrics)
	}
}
