// Package orchestration defines the request lifecycle types returned by the
// orchestrator facade.
package orchestration

import (
	"encoding/json"
	"time"
)

// Stage tracks how far a request progressed. A request never reaches
// StageInvoked without passing StageReserved, and never reaches
// StageCommitted unless the backend call succeeded.
type Stage string

const (
	StagePending   Stage = "pending"
	StageEntitled  Stage = "entitled"
	StageReserved  Stage = "reserved"
	StageInvoked   Stage = "invoked"
	StageCommitted Stage = "committed"
	StageReleased  Stage = "released"
)

// Result is a successful capability invocation. Stage is StageCommitted when
// the usage counter settled, StageInvoked when settlement is still pending
// reconciliation.
type Result struct {
	CapabilityID string          `json:"capability_id"`
	BackendID    string          `json:"backend_id"`
	Output       json.RawMessage `json:"output"`
	Units        int64           `json:"units"`
	CostCents    int64           `json:"cost_cents"`
	Latency      time.Duration   `json:"latency_ms"`
	Stage        Stage           `json:"stage"`
}
