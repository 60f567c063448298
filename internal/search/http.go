package search

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

const (
	queryPath      = "/v1/query"
	defaultTimeout = 30 * time.Second
	// maxErrorBody bounds how much of an error response we read back.
	maxErrorBody = 4 << 10
)

// HTTPClient queries a retrieval service over JSON/HTTP.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPDoer replaces the underlying http.Client, mainly for tests.
func WithHTTPDoer(c *http.Client) HTTPOption {
	return func(h *HTTPClient) { h.client = c }
}

// NewHTTPClient returns a client for the backend at baseURL.
func NewHTTPClient(baseURL string, opts ...HTTPOption) *HTTPClient {
	h := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type queryRequest struct {
	Query              string  `json:"query"`
	ResultLimit        int     `json:"result_limit"`
	RelevanceThreshold float64 `json:"relevance_threshold"`
	Rewrite            bool    `json:"rewrite"`
}

// Query implements Querier.
func (h *HTTPClient) Query(ctx context.Context, text string, opts Options) (*Answer, error) {
	body, err := json.Marshal(queryRequest{
		Query:              text,
		ResultLimit:        opts.ResultLimit,
		RelevanceThreshold: opts.RelevanceThreshold,
		Rewrite:            opts.Rewrite,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+queryPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search backend request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrNotProvisioned
	case http.StatusConflict, http.StatusTooEarly:
		return nil, ErrIndexing
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("search backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var answer Answer
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return nil, fmt.Errorf("failed to decode backend response: %w", err)
	}
	return &answer, nil
}
