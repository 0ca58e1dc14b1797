package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/coreflow360/core/internal/domain/usage"
)

func (s *Store) RecordCost(ctx context.Context, rec *usage.CostRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cost_records (id, tenant_id, capability_id, backend_id, units, cost_cents, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.TenantID, rec.CapabilityID, rec.BackendID, rec.Units, rec.CostCents, rec.RecordedAt)
	if err != nil {
		return fmt.Errorf("record cost: %w", err)
	}
	return nil
}

func (s *Store) ListCosts(ctx context.Context, tenantID string, from, to time.Time) ([]usage.CostRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, capability_id, backend_id, units, cost_cents, recorded_at
		 FROM cost_records
		 WHERE tenant_id = $1 AND recorded_at >= $2 AND recorded_at < $3
		 ORDER BY recorded_at ASC`,
		tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list costs: %w", err)
	}
	defer rows.Close()

	var records []usage.CostRecord
	for rows.Next() {
		var r usage.CostRecord
		if err := rows.Scan(&r.ID, &r.TenantID, &r.CapabilityID, &r.BackendID, &r.Units, &r.CostCents, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan cost record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
