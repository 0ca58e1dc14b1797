// Package subscription defines the tenant subscription domain model.
package subscription

import "time"

// Status is the lifecycle state of a subscription.
type Status string

const (
	StatusTrialing Status = "trialing"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusTrialing, StatusActive, StatusPastDue, StatusCanceled:
		return true
	}
	return false
}

// Usable reports whether the subscription status permits capability calls.
// Lapsed and canceled subscriptions are denied regardless of bundle.
func (s Status) Usable() bool {
	return s == StatusActive || s == StatusTrialing
}

// Subscription binds a tenant to its active bundle.
// It is mutated only through the billing webhook handler or explicit
// upgrade/downgrade calls; cancellation is soft (status change), so usage
// history stays intact for audit.
type Subscription struct {
	TenantID string `json:"tenant_id"`
	BundleID string `json:"bundle_id"`
	Seats    int    `json:"seats"`
	Status   Status `json:"status"`

	// PendingBundleID holds a downgrade scheduled for the next renewal when
	// the ledger runs with the "renewal" downgrade policy. PendingAt is the
	// renewal instant at which it takes effect.
	PendingBundleID string    `json:"pending_bundle_id,omitempty"`
	PendingAt       time.Time `json:"pending_at,omitempty"`

	// AnchorAt is the billing cycle anchor; periods are whole months from it.
	AnchorAt  time.Time `json:"anchor_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CurrentPeriod returns the [start, end) billing period containing now,
// anchored on whole-month boundaries from AnchorAt.
func (s *Subscription) CurrentPeriod(now time.Time) (start, end time.Time) {
	start = s.AnchorAt
	for {
		next := start.AddDate(0, 1, 0)
		if next.After(now) {
			return start, next
		}
		start = next
	}
}
