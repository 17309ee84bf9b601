// Package client provides an HTTP client for the advisor API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/asesorlab/advisor/internal/conversation"
	"github.com/asesorlab/advisor/internal/pipeline"
	"github.com/asesorlab/advisor/internal/trace"
)

// Client is an HTTP client for the advisor API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Config configures the client.
type Config struct {
	// BaseURL is the base URL of the API server.
	BaseURL string

	// APIKey is sent as X-API-Key on every request. Required for the
	// admin trace endpoints when the server has a key configured.
	APIKey string

	// Timeout is the request timeout.
	Timeout time.Duration

	// MaxIdleConns controls the maximum number of idle (keep-alive)
	// connections across all hosts. Zero means no limit.
	MaxIdleConns int

	// MaxConnsPerHost limits the total number of connections per host.
	// Zero means no limit.
	MaxConnsPerHost int

	// IdleConnTimeout is the maximum amount of time an idle (keep-alive)
	// connection will remain idle before closing itself.
	IdleConnTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:         "http://localhost:8080",
		Timeout:         60 * time.Second,
		MaxIdleConns:    100,
		MaxConnsPerHost: 100,
		IdleConnTimeout: 90 * time.Second,
	}
}

// New creates a new API client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 100
	}
	if cfg.MaxConnsPerHost == 0 {
		cfg.MaxConnsPerHost = 100
	}
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = 90 * time.Second
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConns,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
	}

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
	}
}

// Ask submits a question and returns the full pipeline response.
func (c *Client) Ask(ctx context.Context, req pipeline.Request) (pipeline.Response, error) {
	var resp pipeline.Response
	if err := c.post(ctx, "/v1/ask", req, &resp); err != nil {
		return pipeline.Response{}, err
	}
	return resp, nil
}

// ConversationHistory is the wire shape of GET /v1/conversations/{id}.
type ConversationHistory struct {
	ConversationID string              `json:"conversation_id"`
	Turns          []conversation.Turn `json:"turns"`
	Count          int                 `json:"count"`
}

// Conversation fetches the stored turns of a conversation.
// A limit of 0 uses the server default.
func (c *Client) Conversation(ctx context.Context, id string, limit int) (ConversationHistory, error) {
	path := "/v1/conversations/" + id
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	var resp ConversationHistory
	if err := c.get(ctx, path, &resp); err != nil {
		return ConversationHistory{}, err
	}
	return resp, nil
}

// HealthResponse is the wire shape of GET /healthz and /readyz.
type HealthResponse struct {
	Status string `json:"status"`
}

// Health checks the server liveness endpoint.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var resp HealthResponse
	if err := c.get(ctx, "/healthz", &resp); err != nil {
		return HealthResponse{}, err
	}
	return resp, nil
}

// Ready checks the server readiness endpoint.
func (c *Client) Ready(ctx context.Context) (HealthResponse, error) {
	var resp HealthResponse
	if err := c.get(ctx, "/readyz", &resp); err != nil {
		return HealthResponse{}, err
	}
	return resp, nil
}

// TraceList is the wire shape of GET /v1/rag/traces.
type TraceList struct {
	Traces []trace.Record `json:"traces"`
	Count  int            `json:"count"`
}

// Traces fetches the most recent answer traces. Requires the admin API key.
func (c *Client) Traces(ctx context.Context, limit int) (TraceList, error) {
	path := "/v1/rag/traces"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	var resp TraceList
	if err := c.get(ctx, path, &resp); err != nil {
		return TraceList{}, err
	}
	return resp, nil
}

// TraceSummary fetches aggregate statistics over recent traces.
func (c *Client) TraceSummary(ctx context.Context, limit int) (trace.Summary, error) {
	path := "/v1/rag/traces/summary"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	var resp trace.Summary
	if err := c.get(ctx, path, &resp); err != nil {
		return trace.Summary{}, err
	}
	return resp, nil
}

// get executes a GET request.
func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	url := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.do(req, result)
}

// post executes a POST request with a JSON body.
func (c *Client) post(ctx context.Context, path string, body, result interface{}) error {
	url := c.baseURL + path

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, result)
}

// do executes a request.
func (c *Client) do(req *http.Request, result interface{}) error {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr APIError
		if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Code == "" {
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
		}
		return &apiErr
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}

// APIError is an error response from the API.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
