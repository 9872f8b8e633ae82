package compute

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrStatus is wrapped when the service answers with a non-2xx status.
	ErrStatus = errors.New("compute service returned error status")
	// ErrEmptyResult is returned when a successful response has no chart_config.
	ErrEmptyResult = errors.New("compute service returned no chart config")
)

const maxErrorBody = 512

// HTTPClient posts requests as JSON to a compute endpoint.
type HTTPClient struct {
	endpoint string
	client   *http.Client
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) {
		if c != nil {
			h.client = c
		}
	}
}

// NewHTTPClient returns a client for endpoint with the given per-call timeout.
func NewHTTPClient(endpoint string, timeout time.Duration, opts ...HTTPOption) *HTTPClient {
	h := &HTTPClient{endpoint: endpoint, client: &http.Client{Timeout: timeout}}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Compute implements Client.
func (h *HTTPClient) Compute(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("post %s: %w", h.endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Response{}, fmt.Errorf("%w: %d %s", ErrStatus, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	if out.ChartConfig == nil {
		return Response{}, ErrEmptyResult
	}
	return out, nil
}
