package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/coreflow360/core/internal/domain"
	"github.com/coreflow360/core/internal/domain/subscription"
)

func (s *Store) GetSubscription(ctx context.Context, tenantID string) (*subscription.Subscription, error) {
	var sub subscription.Subscription
	var pending *string
	err := s.pool.QueryRow(ctx,
		`SELECT tenant_id, bundle_id, seats, status, pending_bundle_id, pending_at, anchor_at, created_at, updated_at
		 FROM subscriptions WHERE tenant_id = $1`, tenantID,
	).Scan(&sub.TenantID, &sub.BundleID, &sub.Seats, &sub.Status, &pending, &sub.PendingAt, &sub.AnchorAt, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get subscription %s: %w", tenantID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get subscription %s: %w", tenantID, err)
	}
	if pending != nil {
		sub.PendingBundleID = *pending
	}
	return &sub, nil
}

func (s *Store) UpsertSubscription(ctx context.Context, sub *subscription.Subscription) error {
	var pending *string
	if sub.PendingBundleID != "" {
		pending = &sub.PendingBundleID
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO subscriptions (tenant_id, bundle_id, seats, status, pending_bundle_id, pending_at, anchor_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (tenant_id) DO UPDATE SET
		   bundle_id = EXCLUDED.bundle_id,
		   seats = EXCLUDED.seats,
		   status = EXCLUDED.status,
		   pending_bundle_id = EXCLUDED.pending_bundle_id,
		   pending_at = EXCLUDED.pending_at,
		   updated_at = EXCLUDED.updated_at`,
		sub.TenantID, sub.BundleID, sub.Seats, sub.Status, pending, sub.PendingAt, sub.AnchorAt, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert subscription %s: %w", sub.TenantID, err)
	}
	return nil
}
