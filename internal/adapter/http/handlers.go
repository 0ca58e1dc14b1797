package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/coreflow360/core/internal/adapter/otel"
	"github.com/coreflow360/core/internal/domain"
	"github.com/coreflow360/core/internal/domain/pricing"
	"github.com/coreflow360/core/internal/domain/usage"
	"github.com/coreflow360/core/internal/middleware"
	"github.com/coreflow360/core/internal/service"
)

// Handlers bundles the services the REST API exposes.
type Handlers struct {
	Orchestrator *service.Orchestrator
	Entitlements *service.EntitlementService
	Ledger       *service.LedgerService
	Gateway      *service.Gateway
	Registry     *service.Registry
	Metrics      *otel.Metrics

	// Ready reports whether downstream dependencies are reachable.
	Ready func(ctx context.Context) error
}

// ---------------------------------------------------------------------------
// Capability execution
// ---------------------------------------------------------------------------

type executeRequest struct {
	Payload json.RawMessage `json:"payload"`
}

// HandleExecute runs a capability for the calling tenant. Entitlement and
// quota checks happen before any backend call; the response carries the
// backend output plus metered usage and cost.
func (h *Handlers) HandleExecute(w http.ResponseWriter, r *http.Request) {
	capabilityID := urlParam(r, "id")
	if !requireField(w, capabilityID, "capability id") {
		return
	}
	tenantID := middleware.TenantIDFromContext(r.Context())

	req, ok := readJSON[executeRequest](w, r)
	if !ok {
		return
	}

	attrs := metric.WithAttributes(attribute.String("capability", capabilityID))
	h.Metrics.InvocationsStarted.Add(r.Context(), 1, attrs)

	result, err := h.Orchestrator.Execute(r.Context(), tenantID, capabilityID, req.Payload)
	if err != nil {
		h.Metrics.InvocationsFailed.Add(r.Context(), 1, attrs)
		var quota *domain.QuotaExceededError
		if errors.As(err, &quota) {
			h.Metrics.QuotaExceeded.Add(r.Context(), 1, attrs)
		}
		writeDomainError(w, err)
		return
	}

	h.Metrics.InvocationsSucceeded.Add(r.Context(), 1, attrs)
	h.Metrics.InvocationDuration.Record(r.Context(), result.Latency.Seconds(), attrs)
	h.Metrics.InvocationCost.Record(r.Context(), float64(result.CostCents)/100, attrs)

	writeJSON(w, http.StatusOK, result)
}

// ---------------------------------------------------------------------------
// Catalog
// ---------------------------------------------------------------------------

// HandleListBundles returns the bundle catalog ordered by tier.
func (h *Handlers) HandleListBundles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Registry.BundlesByTier())
}

// HandleListEntitlements returns the calling tenant's subscription and the
// capabilities its bundle grants.
func (h *Handlers) HandleListEntitlements(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantIDFromContext(r.Context())

	sub, err := h.Entitlements.Subscription(r.Context(), tenantID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	caps, err := h.Registry.ListByBundle(sub.BundleID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"subscription": sub,
		"capabilities": caps,
	})
}

// ---------------------------------------------------------------------------
// Pricing
// ---------------------------------------------------------------------------

// HandleQuote computes a price quote. Quoting is pure; nothing is persisted.
func (h *Handlers) HandleQuote(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[pricing.Request](w, r)
	if !ok {
		return
	}

	breakdown, err := pricing.Quote(h.Registry.Bundles(), h.Registry.PricingRules(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, breakdown)
}

// ---------------------------------------------------------------------------
// Usage and costs
// ---------------------------------------------------------------------------

// HandleUsage returns the current-period usage metrics for the tenant.
func (h *Handlers) HandleUsage(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantIDFromContext(r.Context())

	metrics, err := h.Ledger.Usage(r.Context(), tenantID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"metrics": metrics})
}

// HandleListCosts returns cost records for the tenant within a time range.
// Defaults to the last 30 days.
func (h *Handlers) HandleListCosts(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantIDFromContext(r.Context())

	now := time.Now().UTC()
	from, to := now.AddDate(0, 0, -30), now
	var err error
	if v := r.URL.Query().Get("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			writeError(w, http.StatusBadRequest, "", "invalid 'from' timestamp, want RFC3339")
			return
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			writeError(w, http.StatusBadRequest, "", "invalid 'to' timestamp, want RFC3339")
			return
		}
	}

	records, err := h.Ledger.Costs(r.Context(), tenantID, from, to)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"costs": records})
}

type adjustRequest struct {
	Kind      string `json:"kind"`
	Delta     int64  `json:"delta"`
	Reason    string `json:"reason"`
	AppliedBy string `json:"applied_by"`
}

// HandleAdjustUsage applies a manual usage correction for support cases.
func (h *Handlers) HandleAdjustUsage(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantIDFromContext(r.Context())

	req, ok := readJSON[adjustRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Reason, "reason") || !requireField(w, req.AppliedBy, "applied_by") {
		return
	}

	kind := usage.MetricKind(req.Kind)
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, "", "unknown metric kind: "+req.Kind)
		return
	}

	if err := h.Ledger.AdminAdjust(r.Context(), tenantID, kind, req.Delta, req.Reason, req.AppliedBy); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

// ---------------------------------------------------------------------------
// Billing webhook
// ---------------------------------------------------------------------------

// HandleBillingWebhook ingests subscription lifecycle events from the billing
// provider. Signature verification happens in middleware before this runs.
func (h *Handlers) HandleBillingWebhook(w http.ResponseWriter, r *http.Request) {
	change, ok := readJSON[service.SubscriptionChange](w, r)
	if !ok {
		return
	}
	if !requireField(w, change.TenantID, "tenant_id") || !requireField(w, change.BundleID, "bundle_id") {
		return
	}

	sub, err := h.Entitlements.UpdateSubscription(r.Context(), change)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

// ---------------------------------------------------------------------------
// Backends and health
// ---------------------------------------------------------------------------

// HandleListBackends reports backend bindings with health and circuit state.
func (h *Handlers) HandleListBackends(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"backends": h.Gateway.Bindings()})
}

// HandleHealth is the liveness endpoint.
func (h *Handlers) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleReady is the readiness endpoint. It fails while downstream
// dependencies are unreachable.
func (h *Handlers) HandleReady(w http.ResponseWriter, r *http.Request) {
	if h.Ready != nil {
		if err := h.Ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "", "not ready: "+err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
