package service

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/coreflow360/core/internal/domain"
	"github.com/coreflow360/core/internal/domain/bundle"
	"github.com/coreflow360/core/internal/domain/capability"
	"github.com/coreflow360/core/internal/domain/pricing"
)

// Catalog is the YAML-loaded capability/bundle/pricing catalog.
type Catalog struct {
	Capabilities []capability.Capability `yaml:"capabilities"`
	Bundles      []bundle.Bundle         `yaml:"bundles"`
	Pricing      pricing.Rules           `yaml:"pricing"`
}

// Registry is the static capability catalog. It is validated once at process
// start and read-only afterwards, so it is shared across requests without
// locking. An unknown capability at request time is a configuration defect.
type Registry struct {
	caps    map[string]capability.Capability
	bundles map[string]bundle.Bundle
	byTier  []bundle.Bundle
	rules   pricing.Rules
}

// LoadRegistry reads and validates the catalog file. backendIDs is the set of
// backends the gateway is configured with; every capability must map to one.
func LoadRegistry(path string, backendIDs []string) (*Registry, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from validated config
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}

	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}

	return NewRegistry(cat, backendIDs)
}

// NewRegistry validates the catalog and builds the registry.
// Validation failures abort startup; a bad catalog must never serve traffic.
func NewRegistry(cat Catalog, backendIDs []string) (*Registry, error) {
	known := make(map[string]bool, len(backendIDs))
	for _, id := range backendIDs {
		known[id] = true
	}

	r := &Registry{
		caps:    make(map[string]capability.Capability, len(cat.Capabilities)),
		bundles: make(map[string]bundle.Bundle, len(cat.Bundles)),
		rules:   cat.Pricing,
	}

	for _, c := range cat.Capabilities {
		if c.ID == "" {
			return nil, fmt.Errorf("catalog: capability with empty id")
		}
		if _, dup := r.caps[c.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate capability %q", c.ID)
		}
		if !c.CostUnit.Valid() {
			return nil, fmt.Errorf("catalog: capability %q has unknown cost unit %q", c.ID, c.CostUnit)
		}
		if !known[c.BackendID] {
			return nil, fmt.Errorf("catalog: capability %q maps to unknown backend %q", c.ID, c.BackendID)
		}
		r.caps[c.ID] = c
	}

	ranks := make(map[int]string, len(cat.Bundles))
	for _, b := range cat.Bundles {
		if b.ID == "" {
			return nil, fmt.Errorf("catalog: bundle with empty id")
		}
		if _, dup := r.bundles[b.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate bundle %q", b.ID)
		}
		if prev, dup := ranks[b.TierRank]; dup {
			return nil, fmt.Errorf("catalog: bundles %q and %q share tier rank %d", prev, b.ID, b.TierRank)
		}
		ranks[b.TierRank] = b.ID
		for _, capID := range b.Capabilities {
			if _, ok := r.caps[capID]; !ok {
				return nil, fmt.Errorf("catalog: bundle %q references unknown capability %q", b.ID, capID)
			}
		}
		r.bundles[b.ID] = b
		r.byTier = append(r.byTier, b)
	}

	sort.Slice(r.byTier, func(i, j int) bool { return r.byTier[i].TierRank < r.byTier[j].TierRank })

	// Tier ordering invariant: each bundle must be a capability superset of
	// the tier below it, unless the higher bundle explicitly carves out
	// exclusives.
	for i := 1; i < len(r.byTier); i++ {
		higher, lower := r.byTier[i], r.byTier[i-1]
		if higher.Exclusive {
			continue
		}
		for _, capID := range lower.Capabilities {
			if !higher.Includes(capID) {
				return nil, fmt.Errorf("catalog: bundle %q (tier %d) is missing capability %q from lower tier %q",
					higher.ID, higher.TierRank, capID, lower.ID)
			}
		}
	}

	// MinTier on each capability must match the lowest tier that grants it.
	for id, c := range r.caps {
		lowest, ok := r.lowestTierWith(id)
		if !ok {
			continue // catalog-only capability, not sold in any bundle yet
		}
		if c.MinTier != lowest.TierRank {
			return nil, fmt.Errorf("catalog: capability %q declares min_tier %d but the lowest bundle granting it is %q (tier %d)",
				id, c.MinTier, lowest.ID, lowest.TierRank)
		}
	}

	return r, nil
}

// Resolve returns the capability for id. The returned error is always an
// *domain.UnknownCapabilityError; callers log it as a defect.
func (r *Registry) Resolve(id string) (capability.Capability, error) {
	c, ok := r.caps[id]
	if !ok {
		return capability.Capability{}, &domain.UnknownCapabilityError{CapabilityID: id}
	}
	return c, nil
}

// ListByBundle returns the capabilities enabled by a bundle, sorted by ID.
func (r *Registry) ListByBundle(bundleID string) ([]capability.Capability, error) {
	b, ok := r.bundles[bundleID]
	if !ok {
		return nil, fmt.Errorf("bundle %s: %w", bundleID, domain.ErrNotFound)
	}
	caps := make([]capability.Capability, 0, len(b.Capabilities))
	for _, id := range b.Capabilities {
		caps = append(caps, r.caps[id])
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i].ID < caps[j].ID })
	return caps, nil
}

// Bundle returns a bundle by ID.
func (r *Registry) Bundle(id string) (bundle.Bundle, bool) {
	b, ok := r.bundles[id]
	return b, ok
}

// Bundles returns the bundle catalog keyed by ID.
func (r *Registry) Bundles() map[string]bundle.Bundle {
	return r.bundles
}

// BundlesByTier returns bundles sorted by ascending tier rank.
func (r *Registry) BundlesByTier() []bundle.Bundle {
	return r.byTier
}

// PricingRules returns the discount schedule loaded with the catalog.
func (r *Registry) PricingRules() pricing.Rules {
	return r.rules
}

// RecommendUpgrade returns the lowest-tier bundle that includes the desired
// capability, for upsell messaging. ok is false when no bundle provides it.
func (r *Registry) RecommendUpgrade(capabilityID string) (bundle.Bundle, bool) {
	return r.lowestTierWith(capabilityID)
}

func (r *Registry) lowestTierWith(capabilityID string) (bundle.Bundle, bool) {
	for _, b := range r.byTier {
		if b.Includes(capabilityID) {
			return b, true
		}
	}
	return bundle.Bundle{}, false
}
