package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RequestSpec is a fully-resolved single request: method, URL, merged
// headers, and an optional JSON-serialized body.
type RequestSpec struct {
	Method  string
	URL     string
	Headers http.Header
	Body    []byte
}

// Response is what a RequestExecutor returns for a completed (or failed)
// dispatch. Status is 0 and Err is non-nil on a transport failure; the
// Worker never receives a Go error from Execute that isn't already folded
// into this struct, keeping the per-request control flow error-free.
type Response struct {
	Status    int
	Body      []byte
	LatencyMs float64
	Err       error
}

// RequestExecutor is the HTTP collaborator boundary (spec §1 OUT OF SCOPE:
// "An HTTP client ... is assumed as a collaborator; only the capabilities
// the core consumes are specified"). DefaultExecutor implements it with
// net/http; tests substitute a fake.
type RequestExecutor interface {
	Execute(ctx context.Context, spec RequestSpec) Response
}

// DefaultExecutorOptions configures the connection pool backing
// DefaultExecutor (spec §5, shared HTTP connection pool).
type DefaultExecutorOptions struct {
	MaxConnsPerHost int
	HeadersTimeout  time.Duration
	BodyTimeout     time.Duration
}

// DefaultDefaultExecutorOptions returns spec §5's documented pool defaults.
func DefaultDefaultExecutorOptions() DefaultExecutorOptions {
	return DefaultExecutorOptions{
		MaxConnsPerHost: 1024,
		HeadersTimeout:  30 * time.Second,
		BodyTimeout:     30 * time.Second,
	}
}

// DefaultExecutor dispatches requests with net/http, pooling connections
// per origin via http.Transport's own keyed connection cache.
type DefaultExecutor struct {
	client *http.Client
}

// NewDefaultExecutor builds an executor whose transport is tuned per opts.
func NewDefaultExecutor(opts DefaultExecutorOptions) *DefaultExecutor {
	transport := &http.Transport{
		MaxConnsPerHost:       opts.MaxConnsPerHost,
		MaxIdleConnsPerHost:   opts.MaxConnsPerHost,
		ResponseHeaderTimeout: opts.HeadersTimeout,
		IdleConnTimeout:       90 * time.Second,
	}
	return &DefaultExecutor{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.HeadersTimeout + opts.BodyTimeout,
		},
	}
}

// Execute performs one HTTP round trip, measuring wall-clock latency from
// just before the request is sent to just after the body is fully read.
func (e *DefaultExecutor) Execute(ctx context.Context, spec RequestSpec) Response {
	start := time.Now()

	var bodyReader io.Reader
	if len(spec.Body) > 0 {
		bodyReader = bytes.NewReader(spec.Body)
	}

	req, err := http.NewRequestWithContext(ctx, spec.Method, spec.URL, bodyReader)
	if err != nil {
		return Response{Err: fmt.Errorf("build request: %w", err), LatencyMs: elapsedMs(start)}
	}
	req.Header = spec.Headers

	resp, err := e.client.Do(req)
	if err != nil {
		return Response{Err: err, LatencyMs: elapsedMs(start)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	latency := elapsedMs(start)
	if err != nil {
		return Response{Err: fmt.Errorf("read body: %w", err), LatencyMs: latency}
	}

	return Response{Status: resp.StatusCode, Body: body, LatencyMs: latency}
}

// CloseIdleConnections releases pooled connections (spec §4.7 Shutdown:
// "close idle connections held by the HTTP collaborator").
func (e *DefaultExecutor) CloseIdleConnections() {
	e.client.CloseIdleConnections()
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}

// buildRequestSpec merges global and per-template headers (per-request
// wins, case-insensitively) and serializes the template's payload, if any.
func buildRequestSpec(globalHeaders map[string]string, t RequestTemplate) (RequestSpec, error) {
	method := strings.ToUpper(t.Method)
	if method == "" {
		method = http.MethodGet
	}

	headers := make(http.Header)
	for k, v := range globalHeaders {
		headers.Set(k, v)
	}
	for k, v := range t.Headers {
		headers.Set(k, v)
	}

	var body []byte
	if t.Payload != nil {
		b, err := json.Marshal(t.Payload)
		if err != nil {
			return RequestSpec{}, fmt.Errorf("marshal payload for %s %s: %w", method, t.URL, err)
		}
		body = b
		if headers.Get("Content-Type") == "" {
			headers.Set("Content-Type", "application/json")
		}
	}

	return RequestSpec{Method: method, URL: t.URL, Headers: headers, Body: body}, nil
}
