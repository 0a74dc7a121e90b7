// Package gateway is the HTTP client for the CareBridge backend: speech to
// text, chat, text to speech and welfare search. Every call is bounded by a
// single timeout and fails with a NetworkError, ServiceError or TimeoutError.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"carebridge/log"
	"carebridge/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultTimeout = 60 * time.Second
	DefaultUserID  = "demo_user"
	DefaultEmotion = "comfort"
)

type Options struct {
	BaseURL   string
	UserID    string
	Timeout   time.Duration
	Transport http.RoundTripper // nil uses a pooled default
}

type Client struct {
	base    *url.URL
	userID  string
	timeout time.Duration
	http    *TracedClient
}

func New(opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("gateway: invalid base url %q", opts.BaseURL)
	}
	if opts.UserID == "" {
		opts.UserID = DefaultUserID
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Client{
		base:    u,
		userID:  opts.UserID,
		timeout: opts.Timeout,
		http:    NewTracedClient(opts.Transport),
	}, nil
}

func (c *Client) BaseURL() string { return c.base.String() }

// Warm pre-opens a connection to the backend.
func (c *Client) Warm() {
	c.http.Warm(c.endpoint("/health"))
}

func (c *Client) endpoint(path string) string {
	return c.base.String() + path
}

type request struct {
	op          string
	method      string
	path        string
	body        []byte
	contentType string
	accept      string
}

// do runs one bounded request and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := telemetry.Tracer().Start(ctx, "gateway."+r.op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", r.method),
			attribute.String("http.path", r.path),
			attribute.Int("http.request_size", len(r.body)),
		))
	defer span.End()

	start := time.Now()
	body, status, metrics, err := c.send(ctx, r)
	elapsed := time.Since(start)

	telemetry.GatewayCall(ctx, r.op, elapsed, err)
	m := log.GatewayMetrics{
		Op:        r.op,
		Status:    status,
		RequestKB: float64(len(r.body)) / 1024,
		TotalMs:   float64(elapsed.Microseconds()) / 1000,
	}
	if metrics != nil {
		m.ResponseKB = float64(len(body)) / 1024
		m.DNSTimeMs = float64(metrics.DNS.Microseconds()) / 1000
		m.TLSTimeMs = float64(metrics.TLS.Microseconds()) / 1000
		m.TTFBMs = float64(metrics.TTFB.Microseconds()) / 1000
		m.ConnReused = metrics.ConnReused
	}
	log.GatewayCall(m, err)

	span.SetAttributes(attribute.Int("http.status_code", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return body, nil
}

func (c *Client) send(ctx context.Context, r request) ([]byte, int, *NetworkMetrics, error) {
	var rd io.Reader
	if r.body != nil {
		rd = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, c.endpoint(r.path), rd)
	if err != nil {
		return nil, 0, nil, &NetworkError{Op: r.op, Err: err}
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if r.accept != "" {
		req.Header.Set("Accept", r.accept)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// StatusCode is set when headers arrived but the body did not.
		return nil, resp.StatusCode, resp.Metrics, classify(r.op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.Body, resp.StatusCode, resp.Metrics, &ServiceError{
			Op:         r.op,
			StatusCode: resp.StatusCode,
			Body:       string(resp.Body),
		}
	}
	return resp.Body, resp.StatusCode, resp.Metrics, nil
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	var body []byte
	ctype := ""
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		ctype = "application/json"
	}
	data, err := c.do(ctx, request{
		op:          op,
		method:      method,
		path:        path,
		body:        body,
		contentType: ctype,
		accept:      "application/json",
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &ServiceError{Op: op, StatusCode: http.StatusOK, Body: string(data), Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
