// Package bundle defines subscription bundles (tiers) and their usage ceilings.
package bundle

// Ceilings are the per-period usage limits a bundle grants.
// A value of -1 means unlimited.
type Ceilings struct {
	MaxSeats            int   `json:"max_seats" yaml:"max_seats"`
	AIOpsPerMonth       int64 `json:"ai_ops_per_month" yaml:"ai_ops_per_month"`
	APICallsPerMonth    int64 `json:"api_calls_per_month" yaml:"api_calls_per_month"`
	StorageBytes        int64 `json:"storage_bytes" yaml:"storage_bytes"`
}

// Bundle is a named subscription tier granting a fixed set of capabilities.
// TierRank is an explicit ordering field: higher ranks must be capability
// supersets of lower ranks unless Exclusive is set on the carved-out bundle.
type Bundle struct {
	ID             string   `json:"id" yaml:"id"`
	Name           string   `json:"name" yaml:"name"`
	TierRank       int      `json:"tier_rank" yaml:"tier_rank"`
	SeatPriceCents int64    `json:"seat_price_cents" yaml:"seat_price_cents"`
	Capabilities   []string `json:"capabilities" yaml:"capabilities"`
	Ceilings       Ceilings `json:"ceilings" yaml:"ceilings"`

	// Exclusive marks an intentional carve-out: this bundle's capability set
	// is allowed to omit capabilities present in lower tiers.
	Exclusive bool `json:"exclusive,omitempty" yaml:"exclusive,omitempty"`
}

// Includes reports whether the bundle enables the given capability.
func (b *Bundle) Includes(capabilityID string) bool {
	for _, id := range b.Capabilities {
		if id == capabilityID {
			return true
		}
	}
	return false
}
