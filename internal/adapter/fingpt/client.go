// Package fingpt provides the HTTP client for the FinGPT sentiment analysis
// backend.
package fingpt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/coreflow360/core/internal/config"
	"github.com/coreflow360/core/internal/port/aibackend"
)

// BackendID identifies this backend in the capability catalog.
const BackendID = "fingpt"

// Client talks to the FinGPT analysis API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a FinGPT client from config. The API key is resolved
// from the configured environment variable at construction; the config only
// ever holds the reference.
func NewClient(cfg config.Backend) *Client {
	return &Client{
		baseURL: cfg.URL,
		apiKey:  os.Getenv(cfg.APIKeyEnv),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// ID returns the backend identifier.
func (c *Client) ID() string { return BackendID }

type analyzeRequest struct {
	TenantID string          `json:"tenant_id"`
	Task     string          `json:"task"`
	Input    json.RawMessage `json:"input"`
}

type analyzeResponse struct {
	Result     json.RawMessage `json:"result"`
	TokensUsed int64           `json:"tokens_used"`
}

// Invoke runs a sentiment analysis task. The backend reports token usage,
// which feeds token-metered cost accounting.
func (c *Client) Invoke(ctx context.Context, req aibackend.Request) (*aibackend.Response, error) {
	body, err := json.Marshal(analyzeRequest{
		TenantID: req.TenantID,
		Task:     req.CapabilityID,
		Input:    req.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal analyze request: %w", err)
	}

	start := time.Now()
	data, err := c.doRequest(ctx, http.MethodPost, "/api/v1/analyze", body)
	if err != nil {
		return nil, err
	}

	var resp analyzeResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal analyze response: %w", err)
	}

	return &aibackend.Response{
		Output:  resp.Result,
		Units:   resp.TokensUsed,
		Latency: time.Since(start),
	}, nil
}

// Health checks the FinGPT API liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodGet, "/health", nil)
	return err
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fingpt API error %d: %s", resp.StatusCode, string(data))
	}

	return data, nil
}
