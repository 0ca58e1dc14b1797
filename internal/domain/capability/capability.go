// Package capability defines the static catalog entry for an AI capability.
package capability

// CostUnit declares how invocations of a capability are priced.
type CostUnit string

const (
	// PerCall bills a flat rate for each invocation.
	PerCall CostUnit = "per_call"
	// Per1KTokens bills proportionally to tokens processed.
	Per1KTokens CostUnit = "per_1k_tokens"
)

// Valid reports whether u is a known cost unit.
func (u CostUnit) Valid() bool {
	return u == PerCall || u == Per1KTokens
}

// Capability is an immutable catalog entry describing one AI/service function.
// Entries are created at load time and never mutated at runtime.
type Capability struct {
	ID             string   `json:"id" yaml:"id"`
	Name           string   `json:"name" yaml:"name"`
	MinTier        int      `json:"min_tier" yaml:"min_tier"`
	BackendID      string   `json:"backend" yaml:"backend"`
	CostUnit       CostUnit `json:"cost_unit" yaml:"cost_unit"`
	UnitPriceCents int64    `json:"unit_price_cents" yaml:"unit_price_cents"`

	// Idempotent capabilities may be retried automatically by the gateway.
	// Side-effecting workflow triggers (ERPNext payroll runs and the like)
	// must set this false and are never auto-retried.
	Idempotent bool `json:"idempotent" yaml:"idempotent"`
}
