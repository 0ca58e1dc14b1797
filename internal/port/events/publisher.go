// Package events defines the port for publishing domain events.
package events

import "context"

// Subjects published by the core. Downstream consumers (billing
// reconciliation, notification workers) subscribe to these.
const (
	SubjectSubscriptionUpdated = "billing.subscription.updated"
	SubjectQuotaExceeded       = "usage.quota_exceeded"
	SubjectCostRecorded        = "usage.cost_recorded"
	SubjectCircuitOpen         = "backend.circuit_open"
)

// Publisher delivers domain events as serialized payloads. Publishing is
// one-way; the core never blocks request handling on consumer acknowledgment
// beyond the broker write.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}
