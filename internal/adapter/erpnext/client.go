// Package erpnext provides the HTTP client for the ERPNext backend, which
// handles HR, payroll, and manufacturing workflows.
package erpnext

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
const BackendID = "erpnext"

// Client talks to an ERPNext instance via its REST method API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates an ERPNext client from config. The configured env var
// holds a "key:secret" API token pair as issued by ERPNext.
func NewClient(cfg config.Backend) *Client {
	return &Client{
		baseURL: cfg.URL,
		token:   os.Getenv(cfg.APIKeyEnv),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// ID returns the backend identifier.
func (c *Client) ID() string { return BackendID }

type methodRequest struct {
	TenantID string          `json:"tenant_id"`
	Workflow string          `json:"workflow"`
	Args     json.RawMessage `json:"args"`
}

type methodResponse struct {
	Message json.RawMessage `json:"message"`
}

// Invoke triggers an ERPNext workflow. ERPNext operations are billed per
// call, so usage is always a single unit regardless of payload size.
func (c *Client) Invoke(ctx context.Context, req aibackend.Request) (*aibackend.Response, error) {
	body, err := json.Marshal(methodRequest{
		TenantID: req.TenantID,
		Workflow: req.CapabilityID,
		Args:     req.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal workflow request: %w", err)
	}

	start := time.Now()
	data, err := c.doRequest(ctx, http.MethodPost, "/api/method/coreflow.api.run_workflow", body)
	if err != nil {
		return nil, err
	}

	var resp methodResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal workflow response: %w", err)
	}

	return &aibackend.Response{
		Output:  resp.Message,
		Units:   1,
		Latency: time.Since(start),
	}, nil
}

// Health pings the ERPNext instance.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodGet, "/api/method/ping", nil)
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
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
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
		return nil, fmt.Errorf("erpnext API error %d: %s", resp.StatusCode, string(data))
	}

	return data, nil
}
