// Package usage defines the metering domain model: per-period counters,
// quota reservations, cost records, and admin adjustments.
package usage

import "time"

// MetricKind identifies what a usage counter measures.
type MetricKind string

const (
	MetricAPICall     MetricKind = "api_call"
	MetricAIOperation MetricKind = "ai_operation"
	MetricStorageByte MetricKind = "storage_byte"
)

// Valid reports whether k is a known metric kind.
func (k MetricKind) Valid() bool {
	switch k {
	case MetricAPICall, MetricAIOperation, MetricStorageByte:
		return true
	}
	return false
}

// Unlimited is the ceiling value meaning "no limit".
const Unlimited int64 = -1

// Metric is one tenant's counter for one metric kind in one billing period.
// Ceiling is a snapshot taken at period start; a mid-period upgrade may raise
// it, a downgrade never lowers it until the next rollover.
type Metric struct {
	TenantID    string     `json:"tenant_id"`
	Kind        MetricKind `json:"kind"`
	PeriodStart time.Time  `json:"period_start"`
	PeriodEnd   time.Time  `json:"period_end"`
	Consumed    int64      `json:"consumed"`
	Reserved    int64      `json:"reserved"`
	Ceiling     int64      `json:"ceiling"`
}

// Remaining returns how much quota is left, accounting for outstanding
// reservations. Returns Unlimited when the ceiling is unlimited.
func (m *Metric) Remaining() int64 {
	if m.Ceiling == Unlimited {
		return Unlimited
	}
	r := m.Ceiling - m.Consumed - m.Reserved
	if r < 0 {
		return 0
	}
	return r
}

// Reservation is a provisional quota debit made before a costed operation
// executes. It is committed on success or released on failure; it must never
// be left outstanding.
type Reservation struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id"`
	Kind        MetricKind `json:"kind"`
	PeriodStart time.Time  `json:"period_start"`
	Amount      int64      `json:"amount"`
	CreatedAt   time.Time  `json:"created_at"`
}

// CostRecord is one billed capability invocation, kept for reconciliation
// against invoices.
type CostRecord struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	CapabilityID string    `json:"capability_id"`
	BackendID    string    `json:"backend_id"`
	Units        int64     `json:"units"`
	CostCents    int64     `json:"cost_cents"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// Adjustment is an explicit administrative correction to a usage counter.
// It bypasses ceilings and is separately audited.
type Adjustment struct {
	ID        string     `json:"id"`
	TenantID  string     `json:"tenant_id"`
	Kind      MetricKind `json:"kind"`
	Delta     int64      `json:"delta"`
	Reason    string     `json:"reason"`
	AppliedBy string     `json:"applied_by"`
	AppliedAt time.Time  `json:"applied_at"`
}
