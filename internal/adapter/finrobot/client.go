// Package finrobot provides the HTTP client for the FinRobot forecasting
// and risk analysis backend.
package finrobot

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
const BackendID = "finrobot"

// Client talks to the FinRobot agent API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a FinRobot client from config.
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

type executeRequest struct {
	TenantID   string          `json:"tenant_id"`
	Agent      string          `json:"agent"`
	Parameters json.RawMessage `json:"parameters"`
}

type executeResponse struct {
	Output     json.RawMessage `json:"output"`
	TokensUsed int64           `json:"tokens_used"`
	Confidence float64         `json:"confidence"`
}

// Invoke dispatches a capability to the matching FinRobot agent. The
// capability identifier doubles as the agent name on the remote side.
func (c *Client) Invoke(ctx context.Context, req aibackend.Request) (*aibackend.Response, error) {
	body, err := json.Marshal(executeRequest{
		TenantID:   req.TenantID,
		Agent:      req.CapabilityID,
		Parameters: req.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal execute request: %w", err)
	}

	start := time.Now()
	data, err := c.doRequest(ctx, http.MethodPost, "/api/v1/agents/execute", body)
	if err != nil {
		return nil, err
	}

	var resp executeResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal execute response: %w", err)
	}

	return &aibackend.Response{
		Output:  resp.Output,
		Units:   resp.TokensUsed,
		Latency: time.Since(start),
	}, nil
}

// Health checks the FinRobot API liveness endpoint.
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
		return nil, fmt.Errorf("finrobot API error %d: %s", resp.StatusCode, string(data))
	}

	return data, nil
}
