package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/minhalawais/FOS-Survey-Call-Agent/internal/remote"
)

func newFakeOllama(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var req struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
			Stream bool   `json:"stream"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Model == "" || req.Stream {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"model": req.Model, "response": reply, "done": true})
	}))
}

func TestGenerate(t *testing.T) {
	srv := newFakeOllama(t, "  جی، شکریہ۔  ")
	defer srv.Close()

	c := NewClient(srv.URL, "qwen2.5:7b", time.Second)
	out, err := c.Generate(context.Background(), "say thanks")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != "جی، شکریہ۔" {
		t.Fatalf("expected trimmed reply, got %q", out)
	}
}

func TestInterpret(t *testing.T) {
	srv := newFakeOllama(t, `{"value":"yes","confidence":0.85}`)
	defer srv.Close()

	c := NewClient(srv.URL, "qwen2.5:7b", time.Second)
	v, err := c.Interpret(context.Background(), "is this a yes?")
	if err != nil {
		t.Fatalf("interpret: %v", err)
	}
	if v.Value != "yes" || v.Confidence != 0.85 {
		t.Fatalf("unexpected verdict %+v", v)
	}
}

func TestInterpret_ClampsConfidence(t *testing.T) {
	srv := newFakeOllama(t, `{"value":"7","confidence":3.2}`)
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	v, err := c.Interpret(context.Background(), "how many?")
	if err != nil {
		t.Fatalf("interpret: %v", err)
	}
	if v.Confidence != 1 {
		t.Fatalf("expected clamped confidence 1, got %g", v.Confidence)
	}
}

func TestInterpret_MalformedVerdict(t *testing.T) {
	srv := newFakeOllama(t, "not json at all")
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	_, err := c.Interpret(context.Background(), "question")
	if _, ok := err.(*remote.StatusError); !ok {
		t.Fatalf("expected StatusError for malformed verdict, got %v", err)
	}
}

func TestGenerate_Unavailable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "", 200*time.Millisecond)
	_, err := c.Generate(context.Background(), "hello")
	if !remote.IsUnavailable(err) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
