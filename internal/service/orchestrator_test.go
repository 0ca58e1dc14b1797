package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coreflow360/core/internal/config"
	"github.com/coreflow360/core/internal/domain"
	"github.com/coreflow360/core/internal/domain/orchestration"
	"github.com/coreflow360/core/internal/domain/subscription"
	"github.com/coreflow360/core/internal/domain/usage"
	"github.com/coreflow360/core/internal/port/aibackend"
)

func tokensResponse(units int64) *aibackend.Response {
	return &aibackend.Response{Output: []byte(`{"sentiment":"positive"}`), Units: units}
}

type orchestratorFixture struct {
	orch   *Orchestrator
	store  *mockStore
	fingpt *mockInvoker
	pub    *mockPublisher
}

func newOrchestratorFixture(t *testing.T, ceiling int64) *orchestratorFixture {
	t.Helper()
	store := newMockStore()
	periodSeed(t, store, ceiling)

	reg, err := NewRegistry(testCatalog(), testBackends)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	cache := newMockCache()
	pub := &mockPublisher{}
	ents := NewEntitlementService(store, reg, cache, pub, discardLogger(), testConfig(config.DowngradeImmediate))
	ledger := NewLedgerService(store, reg, ents, pub, discardLogger())

	fingpt := &mockInvoker{id: "fingpt", resp: nil}
	finrobot := &mockInvoker{id: "finrobot"}
	gw := NewGateway(gatewayConfig(), pub, discardLogger())
	gw.Register(fingpt, "FINGPT_API_KEY")
	gw.Register(finrobot, "FINROBOT_API_KEY")

	return &orchestratorFixture{
		orch:   NewOrchestrator(reg, ents, ledger, gw, discardLogger(), time.Second),
		store:  store,
		fingpt: fingpt,
		pub:    pub,
	}
}

// periodSeed gives the tenant a pro subscription and an AI operation period
// row with the given ceiling.
func periodSeed(t *testing.T, store *mockStore, ceiling int64) {
	t.Helper()
	seedSubscription(store, "pro", subscription.StatusActive)
	sub := store.subs[testTenant]
	periodStart, periodEnd := sub.CurrentPeriod(time.Now())
	if err := store.EnsureUsagePeriod(context.Background(), &usage.Metric{
		TenantID:    testTenant,
		Kind:        usage.MetricAIOperation,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Ceiling:     ceiling,
	}); err != nil {
		t.Fatalf("seed usage period: %v", err)
	}
}

func (f *orchestratorFixture) aiOps(t *testing.T) *usage.Metric {
	t.Helper()
	sub := f.store.subs[testTenant]
	periodStart, _ := sub.CurrentPeriod(time.Now())
	m := f.store.metric(testTenant, usage.MetricAIOperation, periodStart)
	if m == nil {
		t.Fatal("usage metric missing")
	}
	return m
}

func TestExecuteHappyPath(t *testing.T) {
	f := newOrchestratorFixture(t, 100)
	f.fingpt.resp = tokensResponse(2500)

	result, err := f.orch.Execute(context.Background(), testTenant, "sentiment", []byte(`{"text":"strong earnings"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.BackendID != "fingpt" {
		t.Fatalf("expected fingpt, got %s", result.BackendID)
	}
	if result.Units != 2500 {
		t.Fatalf("expected 2500 units, got %d", result.Units)
	}
	// 40 cents per 1k tokens, 2500 tokens -> 100 cents.
	if result.CostCents != 100 {
		t.Fatalf("expected 100 cents, got %d", result.CostCents)
	}
	if result.Stage != orchestration.StageCommitted {
		t.Fatalf("expected committed stage, got %s", result.Stage)
	}

	m := f.aiOps(t)
	if m.Consumed != 1 || m.Reserved != 0 {
		t.Fatalf("expected exactly one consumed op, got %+v", m)
	}
	if len(f.store.costs) != 1 {
		t.Fatalf("expected 1 cost record, got %d", len(f.store.costs))
	}
	if f.pub.bySubject("usage.cost_recorded") != 1 {
		t.Fatal("expected cost_recorded event")
	}
}

func TestExecuteDenialMakesNoBackendCall(t *testing.T) {
	f := newOrchestratorFixture(t, 100)

	// Downgrade to starter: forecast is no longer entitled.
	f.store.subs[testTenant] = withBundle(f.store.subs[testTenant], "starter")

	_, err := f.orch.Execute(context.Background(), testTenant, "forecast", nil)
	var ne *domain.NotEntitledError
	if !errors.As(err, &ne) {
		t.Fatalf("expected NotEntitledError, got %v", err)
	}
	if f.fingpt.calls != 0 {
		t.Fatal("denied request must not reach any backend")
	}
	m := f.aiOps(t)
	if m.Consumed != 0 || m.Reserved != 0 {
		t.Fatalf("denied request must not touch the ledger, got %+v", m)
	}
}

func TestExecuteUnknownCapability(t *testing.T) {
	f := newOrchestratorFixture(t, 100)

	_, err := f.orch.Execute(context.Background(), testTenant, "ghost", nil)
	var uc *domain.UnknownCapabilityError
	if !errors.As(err, &uc) {
		t.Fatalf("expected UnknownCapabilityError, got %v", err)
	}
	if f.fingpt.calls != 0 {
		t.Fatal("unknown capability must not reach any backend")
	}
}

func TestExecuteQuotaExceededMakesNoBackendCall(t *testing.T) {
	f := newOrchestratorFixture(t, 0)

	_, err := f.orch.Execute(context.Background(), testTenant, "sentiment", nil)
	var qe *domain.QuotaExceededError
	if !errors.As(err, &qe) {
		t.Fatalf("expected QuotaExceededError, got %v", err)
	}
	if f.fingpt.calls != 0 {
		t.Fatal("rejected request must not reach any backend")
	}
}

func TestExecuteReleasesReservationOnBackendFailure(t *testing.T) {
	f := newOrchestratorFixture(t, 100)
	f.fingpt.failures = 1000

	_, err := f.orch.Execute(context.Background(), testTenant, "sentiment", nil)
	var ce *domain.BackendCallError
	if !errors.As(err, &ce) {
		t.Fatalf("expected BackendCallError, got %v", err)
	}

	m := f.aiOps(t)
	if m.Consumed != 0 || m.Reserved != 0 {
		t.Fatalf("failed call must restore the counter, got %+v", m)
	}
	if f.store.outstandingReservations() != 0 {
		t.Fatal("expected no orphaned reservations")
	}
	if len(f.store.costs) != 0 {
		t.Fatal("failed call must not record cost")
	}
}

func TestExecuteCountsExactlyOncePerSuccess(t *testing.T) {
	f := newOrchestratorFixture(t, 100)
	// Two transient failures, then success: retries must still count one op.
	f.fingpt.failures = 2

	_, err := f.orch.Execute(context.Background(), testTenant, "sentiment", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.fingpt.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.fingpt.calls)
	}

	m := f.aiOps(t)
	if m.Consumed != 1 {
		t.Fatalf("retried success must count exactly one op, got %d", m.Consumed)
	}
}

func TestExecuteSurvivesCallerCancellation(t *testing.T) {
	f := newOrchestratorFixture(t, 100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The request context is already dead; the invocation and settlement
	// run on a detached context, so nothing is orphaned either way.
	_, err := f.orch.Execute(ctx, testTenant, "sentiment", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.store.outstandingReservations() != 0 {
		t.Fatal("expected no orphaned reservations after caller cancellation")
	}
}

func TestExecuteCostRecordFailureKeepsResult(t *testing.T) {
	f := newOrchestratorFixture(t, 100)
	f.store.costErr = errors.New("cost table unavailable")

	result, err := f.orch.Execute(context.Background(), testTenant, "sentiment", nil)
	if err != nil {
		t.Fatalf("cost recording failure must not fail the request: %v", err)
	}
	if result == nil || result.CapabilityID != "sentiment" {
		t.Fatalf("expected result despite cost failure, got %+v", result)
	}

	m := f.aiOps(t)
	if m.Consumed != 1 {
		t.Fatalf("expected usage still committed, got %+v", m)
	}
}

func TestExecuteCommitFailureKeepsResultPendingSettlement(t *testing.T) {
	f := newOrchestratorFixture(t, 100)
	f.store.commitErr = errors.New("usage table unavailable")

	result, err := f.orch.Execute(context.Background(), testTenant, "sentiment", nil)
	if err != nil {
		t.Fatalf("commit failure must not fail the request: %v", err)
	}
	if result.Stage != orchestration.StageInvoked {
		t.Fatalf("unsettled invocation must report invoked, got %s", result.Stage)
	}
}

func TestExecuteDefaultsUnitsToOne(t *testing.T) {
	f := newOrchestratorFixture(t, 100)
	f.fingpt.resp = tokensResponse(0)

	result, err := f.orch.Execute(context.Background(), testTenant, "sentiment", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Units != 1 {
		t.Fatalf("expected units defaulted to 1, got %d", result.Units)
	}
}

func withBundle(sub subscription.Subscription, bundleID string) subscription.Subscription {
	sub.BundleID = bundleID
	return sub
}
