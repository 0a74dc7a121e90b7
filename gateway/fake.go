package gateway

import (
	"context"
	"errors"
	"sync"

	"carebridge/welfare"
)

// Fake is an in-process stand-in for Client. Each operation delegates to the
// matching func field; nil fields use canned defaults. Calls are recorded in
// order.
type Fake struct {
	TranscribeFunc func(ctx context.Context, audio []byte, format string) (*Transcription, error)
	ConverseFunc   func(ctx context.Context, message string) (*Reply, error)
	SynthesizeFunc func(ctx context.Context, text, emotion string) ([]byte, error)
	SearchFunc     func(ctx context.Context, query string, n int) ([]welfare.Program, error)

	mu    sync.Mutex
	calls []Call
}

type Call struct {
	Op  string
	Arg string
}

var errOffline = errors.New("connection refused")

func NewFake() *Fake {
	return &Fake{}
}

// NewOfflineFake fails every call with a NetworkError.
func NewOfflineFake() *Fake {
	return &Fake{
		TranscribeFunc: func(context.Context, []byte, string) (*Transcription, error) {
			return nil, &NetworkError{Op: "transcribe", Err: errOffline}
		},
		ConverseFunc: func(context.Context, string) (*Reply, error) {
			return nil, &NetworkError{Op: "converse", Err: errOffline}
		},
		SynthesizeFunc: func(context.Context, string, string) ([]byte, error) {
			return nil, &NetworkError{Op: "synthesize", Err: errOffline}
		},
		SearchFunc: func(context.Context, string, int) ([]welfare.Program, error) {
			return nil, &NetworkError{Op: "search", Err: errOffline}
		},
	}
}

func (f *Fake) record(op, arg string) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Op: op, Arg: arg})
	f.mu.Unlock()
}

// Calls returns the recorded calls in order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

func (f *Fake) Count(op string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Op == op {
			n++
		}
	}
	return n
}

func (f *Fake) Transcribe(ctx context.Context, audio []byte, format string) (*Transcription, error) {
	f.record("transcribe", format)
	if f.TranscribeFunc != nil {
		return f.TranscribeFunc(ctx, audio, format)
	}
	return &Transcription{SessionID: "fake", Text: "안녕하세요", Confidence: 0.9}, nil
}

func (f *Fake) Converse(ctx context.Context, message string) (*Reply, error) {
	f.record("converse", message)
	if f.ConverseFunc != nil {
		return f.ConverseFunc(ctx, message)
	}
	return &Reply{Text: "네, " + message, SessionID: "fake", Emotion: "comfort"}, nil
}

func (f *Fake) SynthesizeSpeech(ctx context.Context, text, emotion string) []byte {
	f.record("synthesize", text)
	if f.SynthesizeFunc != nil {
		audio, err := f.SynthesizeFunc(ctx, text, emotion)
		if err != nil {
			return nil
		}
		return audio
	}
	return []byte("fake-mp3")
}

func (f *Fake) SearchPrograms(ctx context.Context, query string, n int) ([]welfare.Program, error) {
	f.record("search", query)
	if f.SearchFunc != nil {
		return f.SearchFunc(ctx, query, n)
	}
	return nil, nil
}

func (f *Fake) ListCategories(context.Context) ([]string, error) {
	f.record("categories", "")
	return nil, nil
}

func (f *Fake) Health(context.Context) (*HealthStatus, error) {
	f.record("health", "")
	return &HealthStatus{Status: "healthy", Service: "fake"}, nil
}
