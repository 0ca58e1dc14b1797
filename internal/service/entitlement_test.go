package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coreflow360/core/internal/config"
	"github.com/coreflow360/core/internal/domain"
	"github.com/coreflow360/core/internal/domain/subscription"
	"github.com/coreflow360/core/internal/domain/usage"
)

const testTenant = "tenant-1"

func testConfig(policy config.DowngradePolicy) config.Config {
	cfg := config.Defaults()
	cfg.Ledger.DowngradePolicy = policy
	cfg.Cache.EntitlementTTL = time.Minute
	return cfg
}

func newTestEntitlements(t *testing.T, store *mockStore, policy config.DowngradePolicy) (*EntitlementService, *mockCache, *mockPublisher) {
	t.Helper()
	reg, err := NewRegistry(testCatalog(), testBackends)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	cache := newMockCache()
	pub := &mockPublisher{}
	return NewEntitlementService(store, reg, cache, pub, discardLogger(), testConfig(policy)), cache, pub
}

func seedSubscription(store *mockStore, bundleID string, status subscription.Status) {
	anchor := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	store.subs[testTenant] = subscription.Subscription{
		TenantID:  testTenant,
		BundleID:  bundleID,
		Seats:     3,
		Status:    status,
		AnchorAt:  anchor,
		CreatedAt: anchor,
	}
}

func TestCheckAllowsEntitledCapability(t *testing.T) {
	store := newMockStore()
	seedSubscription(store, "pro", subscription.StatusActive)
	svc, _, _ := newTestEntitlements(t, store, config.DowngradeImmediate)

	sub, err := svc.Check(context.Background(), testTenant, "forecast")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.BundleID != "pro" {
		t.Fatalf("expected pro subscription, got %s", sub.BundleID)
	}
}

func TestCheckDeniesWithRecommendation(t *testing.T) {
	store := newMockStore()
	seedSubscription(store, "starter", subscription.StatusActive)
	svc, _, _ := newTestEntitlements(t, store, config.DowngradeImmediate)

	_, err := svc.Check(context.Background(), testTenant, "forecast")
	var ne *domain.NotEntitledError
	if !errors.As(err, &ne) {
		t.Fatalf("expected NotEntitledError, got %v", err)
	}
	if ne.RecommendedBundle != "pro" {
		t.Fatalf("expected recommendation pro, got %q", ne.RecommendedBundle)
	}
}

func TestCheckDeniesWithoutSubscription(t *testing.T) {
	store := newMockStore()
	svc, _, _ := newTestEntitlements(t, store, config.DowngradeImmediate)

	_, err := svc.Check(context.Background(), testTenant, "sentiment")
	var ne *domain.NotEntitledError
	if !errors.As(err, &ne) {
		t.Fatalf("expected NotEntitledError, got %v", err)
	}
}

func TestCheckPropagatesStoreFailure(t *testing.T) {
	store := newMockStore()
	store.subErr = errors.New("connection refused")
	svc, _, _ := newTestEntitlements(t, store, config.DowngradeImmediate)

	_, err := svc.Check(context.Background(), testTenant, "sentiment")
	if err == nil {
		t.Fatal("expected error")
	}
	var ne *domain.NotEntitledError
	if errors.As(err, &ne) {
		t.Fatalf("store outage must not read as an entitlement denial, got %v", err)
	}
	if !errors.Is(err, store.subErr) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}

func TestCheckDeniesUnusableStatus(t *testing.T) {
	for _, status := range []subscription.Status{subscription.StatusPastDue, subscription.StatusCanceled} {
		t.Run(string(status), func(t *testing.T) {
			store := newMockStore()
			seedSubscription(store, "pro", status)
			svc, _, _ := newTestEntitlements(t, store, config.DowngradeImmediate)

			_, err := svc.Check(context.Background(), testTenant, "forecast")
			var ne *domain.NotEntitledError
			if !errors.As(err, &ne) {
				t.Fatalf("expected NotEntitledError, got %v", err)
			}
		})
	}
}

func TestSubscriptionCachesReads(t *testing.T) {
	store := newMockStore()
	seedSubscription(store, "pro", subscription.StatusActive)
	svc, cache, _ := newTestEntitlements(t, store, config.DowngradeImmediate)

	if _, err := svc.Subscription(context.Background(), testTenant); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := cache.data[subCacheKey(testTenant)]; !ok {
		t.Fatal("expected subscription cached after read")
	}

	// A stale cache must not mask store state changes after invalidation.
	delete(store.subs, testTenant)
	if _, err := svc.Subscription(context.Background(), testTenant); err != nil {
		t.Fatalf("expected cached read to succeed, got %v", err)
	}
	_ = cache.Delete(context.Background(), subCacheKey(testTenant))
	if _, err := svc.Subscription(context.Background(), testTenant); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after invalidation, got %v", err)
	}
}

func TestUpdateSubscriptionCreatesOnFirstEvent(t *testing.T) {
	store := newMockStore()
	svc, _, pub := newTestEntitlements(t, store, config.DowngradeImmediate)

	sub, err := svc.UpdateSubscription(context.Background(), SubscriptionChange{
		TenantID: testTenant,
		BundleID: "starter",
		Status:   subscription.StatusTrialing,
		Seats:    2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.BundleID != "starter" || sub.Seats != 2 {
		t.Fatalf("unexpected subscription: %+v", sub)
	}
	if sub.AnchorAt.IsZero() {
		t.Fatal("expected anchor set on creation")
	}
	if pub.bySubject("billing.subscription.updated") != 1 {
		t.Fatal("expected subscription.updated event")
	}
}

func TestUpdateSubscriptionRejectsBadInput(t *testing.T) {
	store := newMockStore()
	svc, _, _ := newTestEntitlements(t, store, config.DowngradeImmediate)

	if _, err := svc.UpdateSubscription(context.Background(), SubscriptionChange{BundleID: "starter", Status: subscription.StatusActive}); err == nil {
		t.Fatal("expected error for missing tenant")
	}
	if _, err := svc.UpdateSubscription(context.Background(), SubscriptionChange{TenantID: testTenant, BundleID: "ghost", Status: subscription.StatusActive}); err == nil {
		t.Fatal("expected error for unknown bundle")
	}
	if _, err := svc.UpdateSubscription(context.Background(), SubscriptionChange{TenantID: testTenant, BundleID: "starter", Status: "frozen"}); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestUpgradeAppliesImmediatelyAndInvalidatesCache(t *testing.T) {
	store := newMockStore()
	seedSubscription(store, "starter", subscription.StatusActive)
	svc, cache, _ := newTestEntitlements(t, store, config.DowngradeRenewal)

	// Warm the cache with the old bundle.
	if _, err := svc.Subscription(context.Background(), testTenant); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sub, err := svc.UpdateSubscription(context.Background(), SubscriptionChange{
		TenantID: testTenant,
		BundleID: "pro",
		Status:   subscription.StatusActive,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.BundleID != "pro" {
		t.Fatalf("expected immediate upgrade, got %s", sub.BundleID)
	}
	if len(cache.deletes) == 0 {
		t.Fatal("expected cache invalidation on subscription change")
	}

	// The next check must see the new bundle.
	if _, err := svc.Check(context.Background(), testTenant, "forecast"); err != nil {
		t.Fatalf("expected entitlement after upgrade, got %v", err)
	}
}

func TestUpgradeRaisesCurrentPeriodCeilings(t *testing.T) {
	store := newMockStore()
	seedSubscription(store, "starter", subscription.StatusActive)
	svc, _, _ := newTestEntitlements(t, store, config.DowngradeImmediate)

	sub := store.subs[testTenant]
	periodStart, periodEnd := sub.CurrentPeriod(time.Now())
	_ = store.EnsureUsagePeriod(context.Background(), &usage.Metric{
		TenantID:    testTenant,
		Kind:        usage.MetricAIOperation,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Ceiling:     500,
	})

	cat := testCatalog()
	proCeiling := cat.Bundles[1].Ceilings.AIOpsPerMonth

	if _, err := svc.UpdateSubscription(context.Background(), SubscriptionChange{
		TenantID: testTenant,
		BundleID: "pro",
		Status:   subscription.StatusActive,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m := store.metric(testTenant, usage.MetricAIOperation, periodStart)
	if m == nil || m.Ceiling != proCeiling {
		t.Fatalf("expected ceiling raised to %d, got %+v", proCeiling, m)
	}
}

func TestDowngradeImmediatePolicy(t *testing.T) {
	store := newMockStore()
	seedSubscription(store, "pro", subscription.StatusActive)
	svc, _, _ := newTestEntitlements(t, store, config.DowngradeImmediate)

	sub, err := svc.UpdateSubscription(context.Background(), SubscriptionChange{
		TenantID: testTenant,
		BundleID: "starter",
		Status:   subscription.StatusActive,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.BundleID != "starter" || sub.PendingBundleID != "" {
		t.Fatalf("expected immediate downgrade, got %+v", sub)
	}
}

func TestDowngradeRenewalPolicyDefersToPeriodEnd(t *testing.T) {
	store := newMockStore()
	seedSubscription(store, "pro", subscription.StatusActive)
	svc, _, _ := newTestEntitlements(t, store, config.DowngradeRenewal)

	sub, err := svc.UpdateSubscription(context.Background(), SubscriptionChange{
		TenantID: testTenant,
		BundleID: "starter",
		Status:   subscription.StatusActive,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.BundleID != "pro" {
		t.Fatalf("expected current bundle kept until renewal, got %s", sub.BundleID)
	}
	if sub.PendingBundleID != "starter" || sub.PendingAt.IsZero() {
		t.Fatalf("expected pending downgrade scheduled, got %+v", sub)
	}

	// Entitlement keeps the higher tier until the renewal instant.
	if _, err := svc.Check(context.Background(), testTenant, "forecast"); err != nil {
		t.Fatalf("expected forecast entitlement before renewal, got %v", err)
	}
}

func TestPendingDowngradeAppliedAfterRenewal(t *testing.T) {
	store := newMockStore()
	seedSubscription(store, "pro", subscription.StatusActive)
	svc, _, _ := newTestEntitlements(t, store, config.DowngradeRenewal)

	if _, err := svc.UpdateSubscription(context.Background(), SubscriptionChange{
		TenantID: testTenant,
		BundleID: "starter",
		Status:   subscription.StatusActive,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Move the clock past the renewal instant.
	pending := store.subs[testTenant].PendingAt
	svc.now = func() time.Time { return pending.Add(time.Hour) }

	sub, err := svc.Subscription(context.Background(), testTenant)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.BundleID != "starter" || sub.PendingBundleID != "" {
		t.Fatalf("expected downgrade applied after renewal, got %+v", sub)
	}

	_, err = svc.Check(context.Background(), testTenant, "forecast")
	var ne *domain.NotEntitledError
	if !errors.As(err, &ne) {
		t.Fatalf("expected NotEntitledError after downgrade, got %v", err)
	}
}
