// Package telemetry exports traces and metrics to rotating files in the log
// directory. Until Init is called every helper is a no-op.
package telemetry

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/natefinch/lumberjack.v2"
)

const scope = "carebridge"

type Options struct {
	Dir            string
	Version        string
	MetricInterval time.Duration
}

// Init installs global tracer and meter providers writing to
// traces.jsonl and metrics.jsonl under opts.Dir. The returned func flushes
// and closes both.
func Init(ctx context.Context, opts Options) (func(), error) {
	if opts.MetricInterval <= 0 {
		opts.MetricInterval = 30 * time.Second
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("carebridge"),
			semconv.ServiceVersion(opts.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceFile := rotating(filepath.Join(opts.Dir, "traces.jsonl"))
	traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(traceFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)

	metricFile := rotating(filepath.Join(opts.Dir, "metrics.jsonl"))
	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(metricFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter,
			sdkmetric.WithInterval(opts.MetricInterval))),
		sdkmetric.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tp.Shutdown(ctx)
		mp.Shutdown(ctx)
		traceFile.Close()
		metricFile.Close()
	}
	return shutdown, nil
}

func rotating(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
}

func Tracer() trace.Tracer {
	return otel.Tracer(scope)
}

type instruments struct {
	turns     metric.Int64Counter
	fallbacks metric.Int64Counter
	errors    metric.Int64Counter
	latency   metric.Float64Histogram
}

var (
	instOnce sync.Once
	inst     instruments
)

// The global meter delegates to whatever provider Init installs later, so
// instruments can be created on first use.
func get() *instruments {
	instOnce.Do(func() {
		m := otel.Meter(scope)
		inst.turns, _ = m.Int64Counter("carebridge.turns",
			metric.WithDescription("Completed conversation turns"))
		inst.fallbacks, _ = m.Int64Counter("carebridge.fallbacks",
			metric.WithDescription("Local substitutes served after a remote failure"))
		inst.errors, _ = m.Int64Counter("carebridge.gateway.errors",
			metric.WithDescription("Failed gateway calls"))
		inst.latency, _ = m.Float64Histogram("carebridge.gateway.duration",
			metric.WithDescription("Gateway call duration in milliseconds"),
			metric.WithUnit("ms"))
	})
	return &inst
}

// TurnCompleted counts a finished turn. source is "voice" or "text".
func TurnCompleted(ctx context.Context, source string) {
	if c := get().turns; c != nil {
		c.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
	}
}

// FallbackUsed counts a silently substituted result, labelled by kind
// (reply, speech, search, categories).
func FallbackUsed(ctx context.Context, kind string) {
	if c := get().fallbacks; c != nil {
		c.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
}

func GatewayCall(ctx context.Context, op string, d time.Duration, err error) {
	i := get()
	attrs := metric.WithAttributes(attribute.String("op", op))
	if i.latency != nil {
		i.latency.Record(ctx, float64(d.Microseconds())/1000, attrs)
	}
	if err != nil && i.errors != nil {
		i.errors.Add(ctx, 1, attrs)
	}
}
