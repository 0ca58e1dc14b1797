// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/coreflow360/core/internal/domain/subscription"
	"github.com/coreflow360/core/internal/domain/usage"
)

// Store is the port interface for persistence. Implementations must provide
// the atomic conditional-update semantics documented on TryReserveUsage; the
// core runs as multiple concurrent instances and never relies on in-process
// locks for quota correctness.
type Store interface {
	// Subscriptions
	GetSubscription(ctx context.Context, tenantID string) (*subscription.Subscription, error)
	UpsertSubscription(ctx context.Context, sub *subscription.Subscription) error

	// Usage metrics. EnsureUsagePeriod inserts the (tenant, kind, period) row
	// with consumed=0 if it does not exist; existing rows are left untouched.
	EnsureUsagePeriod(ctx context.Context, m *usage.Metric) error
	GetUsage(ctx context.Context, tenantID string, kind usage.MetricKind, periodStart time.Time) (*usage.Metric, error)
	ListUsage(ctx context.Context, tenantID string, periodStart time.Time) ([]usage.Metric, error)

	// TryReserveUsage atomically increments the reserved count by res.Amount
	// only if consumed+reserved+amount stays within the ceiling (or the
	// ceiling is unlimited). Returns ok=false, with the current row, when the
	// reservation would breach the ceiling. Check-then-increment must be a
	// single conditional update, not a read-modify-write.
	TryReserveUsage(ctx context.Context, res *usage.Reservation) (ok bool, current *usage.Metric, err error)

	// CommitReservation moves the reserved amount into consumed.
	CommitReservation(ctx context.Context, res *usage.Reservation) error

	// ReleaseReservation refunds the reserved amount.
	ReleaseReservation(ctx context.Context, res *usage.Reservation) error

	// RaiseUsageCeiling lifts the ceiling snapshot for current-period rows.
	// It only ever raises; mid-period downgrades keep the old snapshot.
	RaiseUsageCeiling(ctx context.Context, tenantID string, kind usage.MetricKind, periodStart time.Time, ceiling int64) error

	// AdjustUsage applies an administrative correction, bypassing ceilings,
	// and records the adjustment for audit.
	AdjustUsage(ctx context.Context, adj *usage.Adjustment) error

	// Cost ledger
	RecordCost(ctx context.Context, rec *usage.CostRecord) error
	ListCosts(ctx context.Context, tenantID string, from, to time.Time) ([]usage.CostRecord, error)
}
