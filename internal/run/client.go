package run

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultRequestTimeout = 30 * time.Second

// ErrNotConfigured indicates no run-service endpoint was supplied.
var ErrNotConfigured = errors.New("run: service url not configured")

// Request describes one code execution.
type Request struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Stdin    string `json:"stdin,omitempty"`
}

// Result is the captured outcome of one execution.
type Result struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
}

// Service executes code out of process. Request/response only, no streaming.
type Service interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// HTTPClient talks JSON to an external run service.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// HTTPClientConfig configures the run-service client.
type HTTPClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

// NewHTTPClient constructs a client for the configured run service.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Execute posts the request to the run service and decodes the captured result.
func (c *HTTPClient) Execute(ctx context.Context, req Request) (Result, error) {
	if c.baseURL == "" {
		return Result{}, ErrNotConfigured
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("run: service returned status %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("run: malformed response: %w", err)
	}
	return result, nil
}
