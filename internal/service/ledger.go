package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/coreflow360/core/internal/domain"
	"github.com/coreflow360/core/internal/domain/bundle"
	"github.com/coreflow360/core/internal/domain/usage"
	"github.com/coreflow360/core/internal/port/database"
	"github.com/coreflow360/core/internal/port/events"
)

// LedgerService meters consumption against bundle ceilings per billing
// period. Reservations are two-phase: reserve before the backend call,
// commit on success, release on failure. Ceiling enforcement happens in the
// store's conditional update, so it holds across multiple server instances.
type LedgerService struct {
	store    database.Store
	registry *Registry
	ents     *EntitlementService
	events   events.Publisher
	logger   *slog.Logger
	now      func() time.Time
}

// NewLedgerService creates a new LedgerService.
func NewLedgerService(store database.Store, reg *Registry, ents *EntitlementService, pub events.Publisher, logger *slog.Logger) *LedgerService {
	return &LedgerService{
		store:    store,
		registry: reg,
		ents:     ents,
		events:   pub,
		logger:   logger,
		now:      time.Now,
	}
}

// ceilingFor maps a bundle's ceilings to a metric kind.
func ceilingFor(b bundle.Bundle, kind usage.MetricKind) int64 {
	switch kind {
	case usage.MetricAIOperation:
		return b.Ceilings.AIOpsPerMonth
	case usage.MetricAPICall:
		return b.Ceilings.APICallsPerMonth
	case usage.MetricStorageByte:
		return b.Ceilings.StorageBytes
	default:
		return 0
	}
}

// CheckAndReserve atomically reserves quota for the tenant's current period.
// On ceiling breach it returns a *domain.QuotaExceededError with the current
// consumption for client display. The period row is created lazily at first
// use after rollover, snapshotting the current bundle's ceiling.
func (l *LedgerService) CheckAndReserve(ctx context.Context, tenantID string, kind usage.MetricKind, amount int64) (*usage.Reservation, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("reserve %s for %s: amount must be positive", kind, tenantID)
	}

	sub, err := l.ents.Subscription(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("reserve %s for %s: %w", kind, tenantID, err)
	}
	b, ok := l.registry.Bundle(sub.BundleID)
	if !ok {
		return nil, fmt.Errorf("reserve %s for %s: bundle %s not in catalog", kind, tenantID, sub.BundleID)
	}

	now := l.now()
	periodStart, periodEnd := sub.CurrentPeriod(now)

	if err := l.store.EnsureUsagePeriod(ctx, &usage.Metric{
		TenantID:    tenantID,
		Kind:        kind,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Ceiling:     ceilingFor(b, kind),
	}); err != nil {
		return nil, fmt.Errorf("ensure usage period: %w", err)
	}

	res := &usage.Reservation{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Kind:        kind,
		PeriodStart: periodStart,
		Amount:      amount,
		CreatedAt:   now,
	}

	ok, current, err := l.store.TryReserveUsage(ctx, res)
	if err != nil {
		return nil, fmt.Errorf("reserve usage: %w", err)
	}
	if !ok {
		l.publishQuotaExceeded(ctx, current)
		return nil, &domain.QuotaExceededError{
			Metric:  string(kind),
			Current: current.Consumed + current.Reserved,
			Ceiling: current.Ceiling,
		}
	}
	return res, nil
}

// Commit moves a reservation into consumed usage.
func (l *LedgerService) Commit(ctx context.Context, res *usage.Reservation) error {
	if err := l.store.CommitReservation(ctx, res); err != nil {
		return fmt.Errorf("commit reservation %s: %w", res.ID, err)
	}
	return nil
}

// Release refunds a reservation after a failed downstream call. The usage
// counter must end exactly where it was before the reservation.
func (l *LedgerService) Release(ctx context.Context, res *usage.Reservation) error {
	if err := l.store.ReleaseReservation(ctx, res); err != nil {
		return fmt.Errorf("release reservation %s: %w", res.ID, err)
	}
	return nil
}

// Usage returns the tenant's current-period metrics.
func (l *LedgerService) Usage(ctx context.Context, tenantID string) ([]usage.Metric, error) {
	sub, err := l.ents.Subscription(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	periodStart, _ := sub.CurrentPeriod(l.now())
	return l.store.ListUsage(ctx, tenantID, periodStart)
}

// AdminAdjust applies an administrative usage correction. It bypasses
// ceilings and is the only path that may decrement a counter; every use is
// audited and logged.
func (l *LedgerService) AdminAdjust(ctx context.Context, tenantID string, kind usage.MetricKind, delta int64, reason, appliedBy string) error {
	if reason == "" {
		return fmt.Errorf("admin adjust: reason is required")
	}
	adj := &usage.Adjustment{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Kind:      kind,
		Delta:     delta,
		Reason:    reason,
		AppliedBy: appliedBy,
		AppliedAt: l.now(),
	}
	if err := l.store.AdjustUsage(ctx, adj); err != nil {
		return fmt.Errorf("admin adjust: %w", err)
	}
	l.logger.Warn("admin usage adjustment applied",
		"tenant_id", tenantID,
		"kind", kind,
		"delta", delta,
		"reason", reason,
		"applied_by", appliedBy,
	)
	return nil
}

// RecordCost persists a cost-ledger entry for a successful invocation and
// notifies billing reconciliation. Callers treat failure as log-and-flag,
// never as a request failure.
func (l *LedgerService) RecordCost(ctx context.Context, rec *usage.CostRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = l.now()
	}
	if err := l.store.RecordCost(ctx, rec); err != nil {
		return fmt.Errorf("record cost for %s: %w", rec.TenantID, err)
	}
	if data, err := json.Marshal(rec); err == nil {
		if perr := l.events.Publish(ctx, events.SubjectCostRecorded, data); perr != nil {
			l.logger.Warn("publish cost record failed", "tenant_id", rec.TenantID, "error", perr)
		}
	}
	return nil
}

// Costs returns the tenant's cost records in [from, to).
func (l *LedgerService) Costs(ctx context.Context, tenantID string, from, to time.Time) ([]usage.CostRecord, error) {
	return l.store.ListCosts(ctx, tenantID, from, to)
}

func (l *LedgerService) publishQuotaExceeded(ctx context.Context, m *usage.Metric) {
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	if perr := l.events.Publish(ctx, events.SubjectQuotaExceeded, data); perr != nil {
		l.logger.Warn("publish quota exceeded failed", "tenant_id", m.TenantID, "error", perr)
	}
}
