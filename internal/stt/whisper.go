package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/minhalawais/FOS-Survey-Call-Agent/internal/remote"
)

// Client talks to the local Whisper transcription service.
type Client struct {
	baseURL string
	caller  *remote.Caller
}

// NewClient constructs a whisper client for the given base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		caller:  remote.NewCaller("whisper", timeout),
	}
}

type transcribeResponse struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Transcribe posts audio to the whisper service and returns the transcript
// with its confidence. When the service reports no confidence, 1.0 is assumed.
func (c *Client) Transcribe(ctx context.Context, audio []byte) (string, float64, error) {
	body, err := c.caller.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("audio", "audio.wav")
		if err != nil {
			return nil, fmt.Errorf("create form file: %w", err)
		}
		if _, err := fw.Write(audio); err != nil {
			return nil, fmt.Errorf("write audio: %w", err)
		}
		if err := mw.Close(); err != nil {
			return nil, fmt.Errorf("close multipart writer: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", &buf)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return req, nil
	})
	if err != nil {
		return "", 0, err
	}

	var tr transcribeResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", 0, &remote.StatusError{Service: "whisper", Code: http.StatusOK, Body: "malformed json reply"}
	}
	text := strings.TrimSpace(tr.Text)
	conf := 1.0
	if tr.Confidence != nil {
		conf = *tr.Confidence
	}
	if len(text) > 50 {
		log.Printf("whisper: transcribed %q...", text[:50])
	} else {
		log.Printf("whisper: transcribed %q", text)
	}
	return text, conf, nil
}

// Health probes the service's /health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.caller.Health(ctx, c.baseURL+"/health")
}
