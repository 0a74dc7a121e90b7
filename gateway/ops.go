package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"carebridge/log"
	"carebridge/telemetry"
	"carebridge/welfare"
)

// Transcription is the speech-to-text result. The service also drafts an
// assistant reply; callers may ignore it.
type Transcription struct {
	SessionID     string  `json:"session_id"`
	Text          string  `json:"user_text"`
	AssistantText string  `json:"assistant_text"`
	Confidence    float64 `json:"confidence"`
}

// Transcribe uploads one recording. format is the file extension of audio
// ("flac", "wav").
func (c *Client) Transcribe(ctx context.Context, audio []byte, format string) (*Transcription, error) {
	const op = "transcribe"

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("audio", "recording."+format)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, err
	}
	writer.Close()

	data, err := c.do(ctx, request{
		op:          op,
		method:      http.MethodPost,
		path:        "/api/voice/conversation",
		body:        body.Bytes(),
		contentType: writer.FormDataContentType(),
		accept:      "application/json",
	})
	if err != nil {
		return nil, err
	}

	var t Transcription
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, &ServiceError{Op: op, StatusCode: http.StatusOK, Body: string(data), Err: fmt.Errorf("decode response: %w", err)}
	}
	t.Text = strings.TrimSpace(t.Text)
	return &t, nil
}

type Reply struct {
	Text      string
	SessionID string
	Emotion   string
}

type chatRequest struct {
	Message string `json:"message"`
	UserID  string `json:"user_id"`
}

type chatResponse struct {
	Message *struct {
		Content string `json:"content"`
	} `json:"message"`
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
	Emotion   string `json:"emotion"`
}

// Converse sends one user message. A success response without any reply
// text is reported as a ServiceError.
func (c *Client) Converse(ctx context.Context, message string) (*Reply, error) {
	const op = "converse"
	var resp chatResponse
	if err := c.doJSON(ctx, op, http.MethodPost, "/api/chat/send",
		chatRequest{Message: message, UserID: c.userID}, &resp); err != nil {
		return nil, err
	}

	text := resp.Response
	if resp.Message != nil && resp.Message.Content != "" {
		text = resp.Message.Content
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &ServiceError{Op: op, StatusCode: http.StatusOK, Err: fmt.Errorf("empty reply")}
	}
	return &Reply{Text: text, SessionID: resp.SessionID, Emotion: resp.Emotion}, nil
}

// SynthesizeSpeech returns the spoken form of text as audio/mpeg. It never
// fails: any error yields an empty payload. Use Synthesize to see the error.
func (c *Client) SynthesizeSpeech(ctx context.Context, text, emotion string) []byte {
	audio, err := c.Synthesize(ctx, text, emotion)
	if err != nil {
		log.FallbackUsed("speech", err)
		telemetry.FallbackUsed(ctx, "speech")
		return nil
	}
	return audio
}

func (c *Client) Synthesize(ctx context.Context, text, emotion string) ([]byte, error) {
	if emotion == "" {
		emotion = DefaultEmotion
	}
	form := url.Values{}
	form.Set("text", text)
	form.Set("emotion", emotion)

	return c.do(ctx, request{
		op:          "synthesize",
		method:      http.MethodPost,
		path:        "/api/voice/tts/senior",
		body:        []byte(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
		accept:      "audio/mpeg",
	})
}

type searchRequest struct {
	Query    string `json:"query"`
	NResults int    `json:"n_results"`
}

type SearchResult struct {
	Query   string            `json:"query"`
	Results []welfare.Program `json:"results"`
	Total   int               `json:"total"`
}

// SearchPrograms runs the ranked search. It satisfies welfare.Searcher; the
// never-empty policy lives in welfare.Search.
func (c *Client) SearchPrograms(ctx context.Context, query string, maxResults int) ([]welfare.Program, error) {
	if maxResults <= 0 {
		maxResults = 3
	}
	var resp SearchResult
	if err := c.doJSON(ctx, "search", http.MethodPost, "/api/welfare/rag/search",
		searchRequest{Query: query, NResults: maxResults}, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (c *Client) ListCategories(ctx context.Context) ([]string, error) {
	var resp struct {
		Categories []string `json:"categories"`
	}
	if err := c.doJSON(ctx, "categories", http.MethodGet, "/api/welfare/rag/categories", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Categories, nil
}

type HealthStatus struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var h HealthStatus
	if err := c.doJSON(ctx, "health", http.MethodGet, "/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}
