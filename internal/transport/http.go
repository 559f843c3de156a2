package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// Request is the protocol-agnostic shape of a replayed write: whatever HTTP
// request the caller originally wanted to make.
type Request struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    []byte
}

type Result struct {
	StatusCode int
}

func (r *Result) Success() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *Result) Conflict() bool {
	return r != nil && r.StatusCode == http.StatusConflict
}

// Sender dispatches one captured request. A non-2xx result and a returned
// error are both normalized to "failure" by the queue core; the core reads
// the status code only to distinguish conflicts.
type Sender interface {
	Send(ctx context.Context, req Request) (*Result, error)
}

type HTTPSender struct {
	client *http.Client
}

// NewHTTPSender builds the default sender. The client carries no timeout of
// its own; the per-request execution budget is enforced by the queue core.
func NewHTTPSender() *HTTPSender {
	return &HTTPSender{client: &http.Client{}}
}

func (s *HTTPSender) Send(ctx context.Context, req Request) (*Result, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return &Result{StatusCode: resp.StatusCode}, nil
}
