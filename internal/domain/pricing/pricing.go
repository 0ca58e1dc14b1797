// Package pricing is the pure price calculator: quotes from bundle selection,
// seat count, add-ons, and discount rules. No I/O and no clock access, so
// identical inputs always yield identical breakdowns.
package pricing

import (
	"fmt"
	"sort"

	"github.com/coreflow360/core/internal/domain"
	"github.com/coreflow360/core/internal/domain/bundle"
	"github.com/coreflow360/core/internal/domain/capability"
)

// AddOn is a flat-priced monthly extra (storage block, priority support).
type AddOn struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	PriceCents int64  `json:"price_cents" yaml:"price_cents"`
}

// PromoType selects how a promo code applies.
type PromoType string

const (
	PromoPercent    PromoType = "percent"
	PromoFixedCents PromoType = "fixed_cents"
)

// Promo is a redeemable discount code.
type Promo struct {
	Code  string    `json:"code" yaml:"code"`
	Type  PromoType `json:"type" yaml:"type"`
	Value int64     `json:"value" yaml:"value"`
}

// VolumeTier grants a percent discount at and above a seat count.
type VolumeTier struct {
	MinSeats int   `json:"min_seats" yaml:"min_seats"`
	Pct      int64 `json:"pct" yaml:"pct"`
}

// Rules holds the discount schedule. Loaded with the catalog at startup.
type Rules struct {
	AnnualDiscountPct int64        `json:"annual_discount_pct" yaml:"annual_discount_pct"`
	VolumeTiers       []VolumeTier `json:"volume_tiers" yaml:"volume_tiers"`
	AddOns            []AddOn      `json:"add_ons" yaml:"add_ons"`
	Promos            []Promo      `json:"promos" yaml:"promos"`
}

func (r *Rules) addOn(id string) (AddOn, bool) {
	for _, a := range r.AddOns {
		if a.ID == id {
			return a, true
		}
	}
	return AddOn{}, false
}

func (r *Rules) promo(code string) (Promo, bool) {
	for _, p := range r.Promos {
		if p.Code == code {
			return p, true
		}
	}
	return Promo{}, false
}

// volumePct returns the best volume discount the seat count qualifies for.
func (r *Rules) volumePct(seats int) int64 {
	var best int64
	for _, t := range r.VolumeTiers {
		if seats >= t.MinSeats && t.Pct > best {
			best = t.Pct
		}
	}
	return best
}

// Request is the input to Quote.
type Request struct {
	BundleID      string   `json:"bundle_id"`
	Seats         int      `json:"seats"`
	Annual        bool     `json:"annual"`
	AddOns        []string `json:"add_ons,omitempty"`
	DiscountCodes []string `json:"discount_codes,omitempty"`
}

// Line is one component of a price breakdown.
type Line struct {
	Description string `json:"description"`
	AmountCents Cents  `json:"amount_cents"`
}

// Breakdown is the result of a quote. TotalCents is the monthly charge after
// all discounts, in cents; Display is the half-up rounded major-unit string.
type Breakdown struct {
	BundleID   string `json:"bundle_id"`
	Seats      int    `json:"seats"`
	Lines      []Line `json:"lines"`
	TotalCents Cents  `json:"total_cents"`
	Display    string `json:"display"`
}

// Quote computes a price breakdown. Discount application order is fixed:
// base price x seats, then annual discount, then volume discount, then promo
// codes last. Deterministic and idempotent for identical inputs.
func Quote(bundles map[string]bundle.Bundle, rules Rules, req Request) (*Breakdown, error) {
	b, ok := bundles[req.BundleID]
	if !ok {
		return nil, &domain.QuoteInvalidError{Reason: fmt.Sprintf("unknown bundle %q", req.BundleID)}
	}
	if req.Seats < 1 {
		return nil, &domain.QuoteInvalidError{Reason: "seats must be at least 1"}
	}
	if b.Ceilings.MaxSeats > 0 && req.Seats > b.Ceilings.MaxSeats {
		return nil, &domain.QuoteInvalidError{Reason: fmt.Sprintf("bundle %s allows at most %d seats", b.ID, b.Ceilings.MaxSeats)}
	}

	bd := &Breakdown{BundleID: b.ID, Seats: req.Seats}

	// (1) base price x seats
	total := Cents(b.SeatPriceCents * int64(req.Seats))
	bd.Lines = append(bd.Lines, Line{
		Description: fmt.Sprintf("%s x %d seats", b.Name, req.Seats),
		AmountCents: total,
	})

	// Add-ons are part of the base before discounts apply.
	for _, id := range req.AddOns {
		a, ok := rules.addOn(id)
		if !ok {
			return nil, &domain.QuoteInvalidError{Reason: fmt.Sprintf("unknown add-on %q", id)}
		}
		total += Cents(a.PriceCents)
		bd.Lines = append(bd.Lines, Line{Description: a.Name, AmountCents: Cents(a.PriceCents)})
	}

	// (2) annual billing discount, multiplicative
	if req.Annual && rules.AnnualDiscountPct > 0 {
		discounted := applyPercentOff(total, rules.AnnualDiscountPct)
		bd.Lines = append(bd.Lines, Line{
			Description: fmt.Sprintf("annual billing (-%d%%)", rules.AnnualDiscountPct),
			AmountCents: discounted - total,
		})
		total = discounted
	}

	// (3) volume discount, multiplicative
	if pct := rules.volumePct(req.Seats); pct > 0 {
		discounted := applyPercentOff(total, pct)
		bd.Lines = append(bd.Lines, Line{
			Description: fmt.Sprintf("volume discount (-%d%%)", pct),
			AmountCents: discounted - total,
		})
		total = discounted
	}

	// (4) promo codes last. Applied in sorted code order so the same set of
	// codes quotes identically regardless of request ordering.
	codes := append([]string(nil), req.DiscountCodes...)
	sort.Strings(codes)
	for _, code := range codes {
		p, ok := rules.promo(code)
		if !ok {
			return nil, &domain.QuoteInvalidError{Reason: fmt.Sprintf("unknown discount code %q", code)}
		}
		var discounted Cents
		switch p.Type {
		case PromoPercent:
			discounted = applyPercentOff(total, p.Value)
		case PromoFixedCents:
			discounted = total - Cents(p.Value)
			if discounted < 0 {
				discounted = 0
			}
		default:
			return nil, &domain.QuoteInvalidError{Reason: fmt.Sprintf("discount code %q has unknown type %q", code, p.Type)}
		}
		bd.Lines = append(bd.Lines, Line{
			Description: "promo " + p.Code,
			AmountCents: discounted - total,
		})
		total = discounted
	}

	bd.TotalCents = total
	bd.Display = total.Format()
	return bd, nil
}

// UnitCost returns the cost in cents of invoking cap for the given number of
// units (calls or tokens, per the capability's cost unit). Rounds half-up.
func UnitCost(cap capability.Capability, units int64) Cents {
	switch cap.CostUnit {
	case capability.Per1KTokens:
		return Cents((cap.UnitPriceCents*units + 500) / 1000)
	default:
		return Cents(cap.UnitPriceCents)
	}
}
