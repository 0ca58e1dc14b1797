package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coreflow360/core/internal/config"
	"github.com/coreflow360/core/internal/domain"
	"github.com/coreflow360/core/internal/domain/subscription"
	"github.com/coreflow360/core/internal/domain/usage"
	"github.com/coreflow360/core/internal/port/cache"
	"github.com/coreflow360/core/internal/port/database"
	"github.com/coreflow360/core/internal/port/events"
)

// EntitlementService answers "may this tenant invoke this capability" and
// absorbs subscription change notifications from the billing webhook.
type EntitlementService struct {
	store           database.Store
	registry        *Registry
	cache           cache.Cache
	events          events.Publisher
	logger          *slog.Logger
	ttl             time.Duration
	downgradePolicy config.DowngradePolicy
	now             func() time.Time
}

// NewEntitlementService creates a new EntitlementService.
func NewEntitlementService(store database.Store, reg *Registry, c cache.Cache, pub events.Publisher, logger *slog.Logger, cfg config.Config) *EntitlementService {
	return &EntitlementService{
		store:           store,
		registry:        reg,
		cache:           c,
		events:          pub,
		logger:          logger,
		ttl:             cfg.Cache.EntitlementTTL,
		downgradePolicy: cfg.Ledger.DowngradePolicy,
		now:             time.Now,
	}
}

func subCacheKey(tenantID string) string { return "sub:" + tenantID }

// Subscription resolves the tenant's current subscription, applying any
// pending downgrade whose renewal instant has passed. Reads go through the
// L1 cache; entitlement always reflects the current bundle, so the cache is
// invalidated on every subscription change.
func (s *EntitlementService) Subscription(ctx context.Context, tenantID string) (*subscription.Subscription, error) {
	if data, ok, err := s.cache.Get(ctx, subCacheKey(tenantID)); err == nil && ok {
		var sub subscription.Subscription
		if err := json.Unmarshal(data, &sub); err == nil && !s.pendingDue(&sub) {
			return &sub, nil
		}
	}

	sub, err := s.store.GetSubscription(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if s.pendingDue(sub) {
		sub.BundleID = sub.PendingBundleID
		sub.PendingBundleID = ""
		sub.PendingAt = time.Time{}
		sub.UpdatedAt = s.now()
		if err := s.store.UpsertSubscription(ctx, sub); err != nil {
			return nil, fmt.Errorf("apply pending downgrade for %s: %w", tenantID, err)
		}
		s.logger.Info("applied scheduled downgrade",
			"tenant_id", tenantID,
			"bundle_id", sub.BundleID,
		)
	}

	if data, err := json.Marshal(sub); err == nil {
		_ = s.cache.Set(ctx, subCacheKey(tenantID), data, s.ttl) //nolint:errcheck // best-effort cache set
	}
	return sub, nil
}

func (s *EntitlementService) pendingDue(sub *subscription.Subscription) bool {
	return sub.PendingBundleID != "" && !sub.PendingAt.IsZero() && !s.now().Before(sub.PendingAt)
}

// Check validates that the tenant's subscription permits the capability.
// On denial it returns a *domain.NotEntitledError carrying the lowest-tier
// bundle that would grant the capability.
func (s *EntitlementService) Check(ctx context.Context, tenantID, capabilityID string) (*subscription.Subscription, error) {
	sub, err := s.Subscription(ctx, tenantID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, s.denied(capabilityID, "no subscription")
	}
	if err != nil {
		return nil, fmt.Errorf("resolve subscription for %s: %w", tenantID, err)
	}

	if !sub.Status.Usable() {
		return nil, s.denied(capabilityID, "subscription is "+string(sub.Status))
	}

	b, ok := s.registry.Bundle(sub.BundleID)
	if !ok {
		// Subscription points at a bundle no longer in the catalog.
		s.logger.Error("subscription references unknown bundle",
			"tenant_id", tenantID,
			"bundle_id", sub.BundleID,
		)
		return nil, s.denied(capabilityID, "bundle not in catalog")
	}

	if !b.Includes(capabilityID) {
		return nil, s.denied(capabilityID, "not in bundle "+b.ID)
	}

	return sub, nil
}

func (s *EntitlementService) denied(capabilityID, reason string) error {
	e := &domain.NotEntitledError{CapabilityID: capabilityID, Reason: reason}
	if rec, ok := s.registry.RecommendUpgrade(capabilityID); ok {
		e.RecommendedBundle = rec.ID
	}
	return e
}

// SubscriptionChange is the billing webhook payload shape.
type SubscriptionChange struct {
	TenantID string              `json:"tenant_id"`
	BundleID string              `json:"bundle_id"`
	Status   subscription.Status `json:"status"`
	Seats    int                 `json:"seats"`
}

// UpdateSubscription applies a subscription change event from billing.
// Upgrades take effect immediately and raise current-period ceilings; the
// downgrade path follows the configured policy (immediate or next renewal).
func (s *EntitlementService) UpdateSubscription(ctx context.Context, change SubscriptionChange) (*subscription.Subscription, error) {
	if change.TenantID == "" {
		return nil, fmt.Errorf("subscription change: tenant_id is required")
	}
	if !change.Status.Valid() {
		return nil, fmt.Errorf("subscription change: unknown status %q", change.Status)
	}
	newBundle, ok := s.registry.Bundle(change.BundleID)
	if !ok {
		return nil, fmt.Errorf("subscription change: unknown bundle %q", change.BundleID)
	}

	now := s.now()
	sub, err := s.store.GetSubscription(ctx, change.TenantID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		// First event for this tenant: create the subscription.
		sub = &subscription.Subscription{
			TenantID:  change.TenantID,
			BundleID:  change.BundleID,
			Seats:     change.Seats,
			Status:    change.Status,
			AnchorAt:  now,
			CreatedAt: now,
		}
	case err != nil:
		return nil, fmt.Errorf("load subscription %s: %w", change.TenantID, err)
	default:
		old, hadOld := s.registry.Bundle(sub.BundleID)
		switch {
		case !hadOld || newBundle.TierRank >= old.TierRank:
			// Upgrade or lateral move: effective immediately.
			sub.BundleID = change.BundleID
			sub.PendingBundleID = ""
			sub.PendingAt = time.Time{}
		case s.downgradePolicy == config.DowngradeRenewal:
			_, periodEnd := sub.CurrentPeriod(now)
			sub.PendingBundleID = change.BundleID
			sub.PendingAt = periodEnd
		default:
			sub.BundleID = change.BundleID
			sub.PendingBundleID = ""
			sub.PendingAt = time.Time{}
		}
		sub.Status = change.Status
		if change.Seats > 0 {
			sub.Seats = change.Seats
		}
	}
	sub.UpdatedAt = now

	if err := s.store.UpsertSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("upsert subscription %s: %w", change.TenantID, err)
	}

	// Entitlement must reflect the change on the next check.
	_ = s.cache.Delete(ctx, subCacheKey(change.TenantID)) //nolint:errcheck // best-effort cache invalidation

	// Mid-period upgrades raise the live ceiling snapshot immediately.
	// Downgrades never lower it before the next rollover.
	if sub.BundleID == newBundle.ID {
		periodStart, _ := sub.CurrentPeriod(now)
		for _, kind := range []usage.MetricKind{usage.MetricAPICall, usage.MetricAIOperation, usage.MetricStorageByte} {
			if err := s.store.RaiseUsageCeiling(ctx, sub.TenantID, kind, periodStart, ceilingFor(newBundle, kind)); err != nil {
				s.logger.Error("raise usage ceiling failed",
					"tenant_id", sub.TenantID,
					"kind", kind,
					"error", err,
				)
			}
		}
	}

	if data, err := json.Marshal(sub); err == nil {
		if perr := s.events.Publish(ctx, events.SubjectSubscriptionUpdated, data); perr != nil {
			s.logger.Warn("publish subscription update failed", "tenant_id", sub.TenantID, "error", perr)
		}
	}

	s.logger.Info("subscription updated",
		"tenant_id", sub.TenantID,
		"bundle_id", sub.BundleID,
		"status", sub.Status,
		"pending_bundle_id", sub.PendingBundleID,
	)
	return sub, nil
}
