package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/minhalawais/FOS-Survey-Call-Agent/internal/remote"
)

// Client talks to the local Piper/Edge synthesis service.
type Client struct {
	baseURL string
	voice   string
	caller  *remote.Caller
}

// NewClient constructs a synthesis client. voice may be empty to use the
// service's default Urdu voice.
func NewClient(baseURL, voice string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		voice:   voice,
		caller:  remote.NewCaller("piper", timeout),
	}
}

type synthesizeRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

// Synthesize converts text to speech and returns the encoded audio bytes.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("piper: empty text")
	}
	payload, err := json.Marshal(synthesizeRequest{Text: text, Voice: c.voice})
	if err != nil {
		return nil, err
	}
	audio, err := c.caller.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/synthesize/urdu", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		return nil, &remote.StatusError{Service: "piper", Code: http.StatusOK, Body: "empty audio reply"}
	}
	return audio, nil
}

// Health probes the service's /health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.caller.Health(ctx, c.baseURL+"/health")
}
