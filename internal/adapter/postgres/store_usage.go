package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/coreflow360/core/internal/domain"
	"github.com/coreflow360/core/internal/domain/usage"
)

func (s *Store) EnsureUsagePeriod(ctx context.Context, m *usage.Metric) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO usage_metrics (tenant_id, kind, period_start, period_end, consumed, reserved, ceiling)
		 VALUES ($1, $2, $3, $4, 0, 0, $5)
		 ON CONFLICT (tenant_id, kind, period_start) DO NOTHING`,
		m.TenantID, m.Kind, m.PeriodStart, m.PeriodEnd, m.Ceiling)
	if err != nil {
		return fmt.Errorf("ensure usage period: %w", err)
	}
	return nil
}

func (s *Store) GetUsage(ctx context.Context, tenantID string, kind usage.MetricKind, periodStart time.Time) (*usage.Metric, error) {
	var m usage.Metric
	err := s.pool.QueryRow(ctx,
		`SELECT tenant_id, kind, period_start, period_end, consumed, reserved, ceiling
		 FROM usage_metrics WHERE tenant_id = $1 AND kind = $2 AND period_start = $3`,
		tenantID, kind, periodStart,
	).Scan(&m.TenantID, &m.Kind, &m.PeriodStart, &m.PeriodEnd, &m.Consumed, &m.Reserved, &m.Ceiling)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get usage %s/%s: %w", tenantID, kind, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get usage %s/%s: %w", tenantID, kind, err)
	}
	return &m, nil
}

func (s *Store) ListUsage(ctx context.Context, tenantID string, periodStart time.Time) ([]usage.Metric, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT tenant_id, kind, period_start, period_end, consumed, reserved, ceiling
		 FROM usage_metrics WHERE tenant_id = $1 AND period_start = $2 ORDER BY kind ASC`,
		tenantID, periodStart)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	defer rows.Close()

	var metrics []usage.Metric
	for rows.Next() {
		var m usage.Metric
		if err := rows.Scan(&m.TenantID, &m.Kind, &m.PeriodStart, &m.PeriodEnd, &m.Consumed, &m.Reserved, &m.Ceiling); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

// TryReserveUsage increments the reserved count with a single conditional
// UPDATE. The WHERE clause is the quota check, so two racing reservations
// can never both slip under the ceiling regardless of how many server
// instances are running.
func (s *Store) TryReserveUsage(ctx context.Context, res *usage.Reservation) (bool, *usage.Metric, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("reserve usage: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE usage_metrics
		 SET reserved = reserved + $4
		 WHERE tenant_id = $1 AND kind = $2 AND period_start = $3
		   AND (ceiling = -1 OR consumed + reserved + $4 <= ceiling)`,
		res.TenantID, res.Kind, res.PeriodStart, res.Amount)
	if err != nil {
		return false, nil, fmt.Errorf("reserve usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		current, gerr := s.GetUsage(ctx, res.TenantID, res.Kind, res.PeriodStart)
		if gerr != nil {
			return false, nil, gerr
		}
		return false, current, nil
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO usage_reservations (id, tenant_id, kind, period_start, amount, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		res.ID, res.TenantID, res.Kind, res.PeriodStart, res.Amount, res.CreatedAt); err != nil {
		return false, nil, fmt.Errorf("insert reservation %s: %w", res.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, nil, fmt.Errorf("reserve usage: commit: %w", err)
	}
	return true, nil, nil
}

func (s *Store) CommitReservation(ctx context.Context, res *usage.Reservation) error {
	return s.settleReservation(ctx, res, true)
}

func (s *Store) ReleaseReservation(ctx context.Context, res *usage.Reservation) error {
	return s.settleReservation(ctx, res, false)
}

// settleReservation removes the reservation row and either converts the
// reserved amount to consumed (commit) or refunds it (release). Settling the
// same reservation twice is a no-op: the row delete gates the counter update.
func (s *Store) settleReservation(ctx context.Context, res *usage.Reservation, commit bool) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("settle reservation: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `DELETE FROM usage_reservations WHERE id = $1`, res.ID)
	if err != nil {
		return fmt.Errorf("delete reservation %s: %w", res.ID, err)
	}
	if tag.RowsAffected() == 0 {
		// Already settled.
		return nil
	}

	query := `UPDATE usage_metrics SET reserved = reserved - $4
	          WHERE tenant_id = $1 AND kind = $2 AND period_start = $3`
	if commit {
		query = `UPDATE usage_metrics SET reserved = reserved - $4, consumed = consumed + $4
		         WHERE tenant_id = $1 AND kind = $2 AND period_start = $3`
	}
	if _, err := tx.Exec(ctx, query, res.TenantID, res.Kind, res.PeriodStart, res.Amount); err != nil {
		return fmt.Errorf("settle reservation %s: %w", res.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("settle reservation: commit: %w", err)
	}
	return nil
}

// RaiseUsageCeiling lifts the ceiling snapshot for the current period row.
// The WHERE guard means it only ever raises: a downgrade's lower ceiling
// waits for the next rollover.
func (s *Store) RaiseUsageCeiling(ctx context.Context, tenantID string, kind usage.MetricKind, periodStart time.Time, ceiling int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE usage_metrics SET ceiling = $4
		 WHERE tenant_id = $1 AND kind = $2 AND period_start = $3
		   AND ceiling <> -1 AND ($4 = -1 OR $4 > ceiling)`,
		tenantID, kind, periodStart, ceiling)
	if err != nil {
		return fmt.Errorf("raise ceiling %s/%s: %w", tenantID, kind, err)
	}
	return nil
}

func (s *Store) AdjustUsage(ctx context.Context, adj *usage.Adjustment) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("adjust usage: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Admin corrections bypass the ceiling by design; the audit row is what
	// keeps them accountable.
	if _, err := tx.Exec(ctx,
		`UPDATE usage_metrics SET consumed = GREATEST(consumed + $3, 0)
		 WHERE tenant_id = $1 AND kind = $2
		   AND period_start = (SELECT MAX(period_start) FROM usage_metrics WHERE tenant_id = $1 AND kind = $2)`,
		adj.TenantID, adj.Kind, adj.Delta); err != nil {
		return fmt.Errorf("adjust usage: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO usage_adjustments (id, tenant_id, kind, delta, reason, applied_by, applied_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		adj.ID, adj.TenantID, adj.Kind, adj.Delta, adj.Reason, adj.AppliedBy, adj.AppliedAt); err != nil {
		return fmt.Errorf("record adjustment %s: %w", adj.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("adjust usage: commit: %w", err)
	}
	return nil
}
