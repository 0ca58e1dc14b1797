// Package aibackend defines the uniform port over heterogeneous external
// AI/service backends.
package aibackend

import (
	"context"
	"encoding/json"
	"time"
)

// Request is the uniform request shape sent to any backend adapter.
type Request struct {
	CapabilityID string          `json:"capability_id"`
	TenantID     string          `json:"tenant_id"`
	Payload      json.RawMessage `json:"payload"`
}

// Response is the uniform success shape returned by any backend adapter.
// Units is the billable quantity the backend reports (1 for per-call
// capabilities, token count for token-metered ones).
type Response struct {
	Output  json.RawMessage `json:"output"`
	Units   int64           `json:"units"`
	Latency time.Duration   `json:"latency"`
}

// Invoker is implemented by each backend adapter. Invoke must honor ctx
// deadlines; Health is a lightweight liveness probe used by the gateway's
// health-check loop.
type Invoker interface {
	ID() string
	Invoke(ctx context.Context, req Request) (*Response, error)
	Health(ctx context.Context) error
}
