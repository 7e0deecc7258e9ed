// Package remote holds the HTTP plumbing shared by the STT, TTS and LLM
// clients: request timeouts, failure classification and the single
// retry-with-backoff applied to transient failures.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// ErrUnavailable marks a transient failure (connection refused, timeout).
// Callers get it after the built-in retry has already been spent.
var ErrUnavailable = errors.New("service unavailable")

// StatusError is a non-2xx reply from a service. It is never retried.
type StatusError struct {
	Service string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status=%d body=%s", e.Service, e.Code, e.Body)
}

// IsUnavailable reports whether err is a transient service failure.
func IsUnavailable(err error) bool { return errors.Is(err, ErrUnavailable) }

// retryBackoff is the pause before the single retry of a transient failure.
const retryBackoff = 500 * time.Millisecond

// Caller performs classified HTTP requests against one named service.
type Caller struct {
	Service string
	Client  *http.Client
}

// NewCaller builds a Caller with the given per-request timeout.
func NewCaller(service string, timeout time.Duration) *Caller {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Caller{Service: service, Client: &http.Client{Timeout: timeout}}
}

// Do executes the request built by build, retrying once after a backoff when
// the failure is transient. The body of a successful response is returned in
// full. build is called per attempt so the request body can be re-created.
func (c *Caller) Do(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) ([]byte, error) {
	body, err := c.attempt(ctx, build)
	if err == nil || !IsUnavailable(err) {
		return body, err
	}

	log.Printf("%s: transient failure, retrying once: %v", c.Service, err)
	select {
	case <-time.After(retryBackoff):
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w: %v", c.Service, ErrUnavailable, ctx.Err())
	}
	return c.attempt(ctx, build)
}

func (c *Caller) attempt(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) ([]byte, error) {
	req, err := build(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		// Connection errors and client timeouts are transient by contract.
		return nil, fmt.Errorf("%s: %w: %v", c.Service, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: read body: %v", c.Service, ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Service: c.Service, Code: resp.StatusCode, Body: truncate(string(body), 256)}
	}
	return body, nil
}

// Health issues a plain GET against url and reports reachability. Used for
// lazy readiness checks: collaborators may come up after this process does.
func (c *Caller) Health(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", c.Service, ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Service: c.Service, Code: resp.StatusCode}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
