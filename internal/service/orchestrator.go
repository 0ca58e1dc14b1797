package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/coreflow360/core/internal/domain/orchestration"
	"github.com/coreflow360/core/internal/domain/pricing"
	"github.com/coreflow360/core/internal/domain/usage"
	"github.com/coreflow360/core/internal/port/aibackend"
)

// Orchestrator is the facade for capability execution. Each request moves
// through entitlement, quota reservation, backend invocation, and cost
// accounting in a fixed order: no backend call without a reservation, no
// commit without a successful call.
type Orchestrator struct {
	registry      *Registry
	ents          *EntitlementService
	ledger        *LedgerService
	gateway       *Gateway
	logger        *slog.Logger
	invokeTimeout time.Duration
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(reg *Registry, ents *EntitlementService, ledger *LedgerService, gw *Gateway, logger *slog.Logger, invokeTimeout time.Duration) *Orchestrator {
	return &Orchestrator{
		registry:      reg,
		ents:          ents,
		ledger:        ledger,
		gateway:       gw,
		logger:        logger,
		invokeTimeout: invokeTimeout,
	}
}

// Execute validates entitlement, reserves quota, invokes the backend, and
// records cost. Failures before invocation leave the ledger untouched; a
// failed invocation releases its reservation before returning. Cost-recording
// failure after a successful call never costs the caller the result.
func (o *Orchestrator) Execute(ctx context.Context, tenantID, capabilityID string, payload json.RawMessage) (*orchestration.Result, error) {
	log := o.logger.With("tenant_id", tenantID, "capability_id", capabilityID)
	stage := orchestration.StagePending

	c, err := o.registry.Resolve(capabilityID)
	if err != nil {
		// Always a configuration or caller programming defect.
		log.Error("request for capability absent from catalog", "error", err)
		return nil, err
	}

	if _, err := o.ents.Check(ctx, tenantID, c.ID); err != nil {
		return nil, err
	}
	stage = orchestration.StageEntitled

	res, err := o.ledger.CheckAndReserve(ctx, tenantID, usage.MetricAIOperation, 1)
	if err != nil {
		return nil, err
	}
	stage = orchestration.StageReserved

	// The backend call and the reservation settlement must survive caller
	// cancellation: an in-flight call always resolves, then the reservation
	// is committed or released on the actual outcome.
	detached := context.WithoutCancel(ctx)

	resp, err := o.gateway.Invoke(detached, c, aibackend.Request{
		CapabilityID: c.ID,
		TenantID:     tenantID,
		Payload:      payload,
	}, o.invokeTimeout)
	if err != nil {
		// The release is part of the request's success criterion, not
		// best-effort.
		if rerr := o.ledger.Release(detached, res); rerr != nil {
			log.Error("reservation release failed, counter needs reconciliation",
				"reservation_id", res.ID,
				"stage", string(stage),
				"error", rerr,
			)
		} else {
			stage = orchestration.StageReleased
			log.Debug("reservation released after failed invocation",
				"reservation_id", res.ID,
				"stage", string(stage),
			)
		}
		return nil, err
	}
	stage = orchestration.StageInvoked

	if cerr := o.ledger.Commit(detached, res); cerr != nil {
		log.Error("usage commit failed after successful call, flagged for reconciliation",
			"reservation_id", res.ID,
			"stage", string(stage),
			"error", cerr,
		)
	} else {
		stage = orchestration.StageCommitted
	}

	units := resp.Units
	if units <= 0 {
		units = 1
	}
	cost := pricing.UnitCost(c, units)

	if rerr := o.ledger.RecordCost(detached, &usage.CostRecord{
		TenantID:     tenantID,
		CapabilityID: c.ID,
		BackendID:    c.BackendID,
		Units:        units,
		CostCents:    int64(cost),
	}); rerr != nil {
		// The caller keeps the result; the missing record is reconciled
		// against the backend's own ledger.
		log.Error("cost recording failed, flagged for reconciliation", "error", rerr)
	}

	log.Debug("capability executed",
		"backend_id", c.BackendID,
		"units", units,
		"cost_cents", int64(cost),
		"latency_ms", resp.Latency.Milliseconds(),
		"stage", string(stage),
	)

	return &orchestration.Result{
		CapabilityID: c.ID,
		BackendID:    c.BackendID,
		Output:       resp.Output,
		Units:        units,
		CostCents:    int64(cost),
		Latency:      resp.Latency,
		Stage:        stage,
	}, nil
}
