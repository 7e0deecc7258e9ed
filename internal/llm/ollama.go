package llm

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

// Client talks to a local Ollama runtime.
type Client struct {
	baseURL string
	model   string
	caller  *remote.Caller
}

// NewClient constructs an Ollama client for the given base URL and model.
func NewClient(baseURL, model string, timeout time.Duration) *Client {
	if model == "" {
		model = "llama3.1:8b"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		caller:  remote.NewCaller("ollama", timeout),
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate returns a single completion for the prompt.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, prompt, "")
}

// Verdict is the structured interpretation the model is asked to produce.
type Verdict struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Interpret asks the model to map a respondent utterance onto a normalized
// answer for the question, returning the value and a model-reported
// confidence in [0,1].
func (c *Client) Interpret(ctx context.Context, prompt string) (Verdict, error) {
	raw, err := c.generate(ctx, prompt, "json")
	if err != nil {
		return Verdict{}, err
	}
	var v Verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return Verdict{}, &remote.StatusError{Service: "ollama", Code: http.StatusOK, Body: "malformed verdict: " + raw}
	}
	if v.Confidence < 0 {
		v.Confidence = 0
	}
	if v.Confidence > 1 {
		v.Confidence = 1
	}
	v.Value = strings.TrimSpace(v.Value)
	return v, nil
}

func (c *Client) generate(ctx context.Context, prompt, format string) (string, error) {
	payload, err := json.Marshal(generateRequest{Model: c.model, Prompt: prompt, Stream: false, Format: format})
	if err != nil {
		return "", err
	}
	body, err := c.caller.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return "", err
	}
	var gr generateResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return "", &remote.StatusError{Service: "ollama", Code: http.StatusOK, Body: "malformed json reply"}
	}
	out := strings.TrimSpace(gr.Response)
	if out == "" {
		return "", fmt.Errorf("ollama: empty response")
	}
	return out, nil
}

// Health probes the runtime root endpoint (Ollama answers 200 there).
func (c *Client) Health(ctx context.Context) error {
	return c.caller.Health(ctx, c.baseURL+"/")
}
