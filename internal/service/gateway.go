package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coreflow360/core/internal/config"
	"github.com/coreflow360/core/internal/domain"
	"github.com/coreflow360/core/internal/domain/backend"
	"github.com/coreflow360/core/internal/domain/capability"
	"github.com/coreflow360/core/internal/port/aibackend"
	"github.com/coreflow360/core/internal/port/events"
	"github.com/coreflow360/core/internal/resilience"
)

// Gateway is the uniform interface over the external AI/service backends.
// Retry and circuit-breaker policy is defined here once, not per call site:
// idempotent capability calls get jittered retries, side-effecting ones go
// out exactly once, and every backend sits behind its own breaker.
type Gateway struct {
	retryCfg   config.Retry
	breakerCfg config.Breaker
	healthCfg  config.Health
	events     events.Publisher
	logger     *slog.Logger

	mu       sync.RWMutex
	backends map[string]*backendEntry
}

type backendEntry struct {
	invoker aibackend.Invoker
	breaker *resilience.Breaker

	mu         sync.Mutex
	binding    backend.Binding
	probeFails int
}

// NewGateway creates a Gateway with no registered backends.
func NewGateway(cfg config.Config, pub events.Publisher, logger *slog.Logger) *Gateway {
	return &Gateway{
		retryCfg:   cfg.Retry,
		breakerCfg: cfg.Breaker,
		healthCfg:  cfg.Health,
		events:     pub,
		logger:     logger,
		backends:   make(map[string]*backendEntry),
	}
}

// Register adds a backend adapter behind a fresh circuit breaker.
func (g *Gateway) Register(inv aibackend.Invoker, credentialRef string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.backends[inv.ID()] = &backendEntry{
		invoker: inv,
		breaker: resilience.NewBreaker(g.breakerCfg.MaxFailures, g.breakerCfg.Cooldown, g.breakerCfg.MaxCooldown),
		binding: backend.Binding{
			ID:            inv.ID(),
			Name:          inv.ID(),
			CredentialRef: credentialRef,
			Health:        backend.HealthHealthy,
			Circuit:       backend.CircuitClosed,
		},
	}
}

// BackendIDs returns the registered backend identifiers, for catalog validation.
func (g *Gateway) BackendIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]string, 0, len(g.backends))
	for id := range g.backends {
		ids = append(ids, id)
	}
	return ids
}

// Invoke executes a capability call against its backend with the given
// per-call timeout. Circuit-open failures surface as
// *domain.BackendUnavailableError with a suggested cooldown; exhausted
// retries surface as *domain.BackendCallError.
func (g *Gateway) Invoke(ctx context.Context, cap capability.Capability, req aibackend.Request, timeout time.Duration) (*aibackend.Response, error) {
	g.mu.RLock()
	entry, ok := g.backends[cap.BackendID]
	g.mu.RUnlock()
	if !ok {
		// The registry validates backend IDs at startup, so this is a wiring
		// defect, not a runtime condition.
		return nil, &domain.BackendCallError{
			BackendID: cap.BackendID,
			Err:       fmt.Errorf("backend not registered"),
		}
	}

	attempts := 1
	if cap.Idempotent {
		attempts = g.retryCfg.MaxAttempts
	}

	var resp *aibackend.Response
	err := entry.breaker.Execute(func() error {
		return resilience.Retry(ctx, attempts, g.retryCfg.BaseBackoff, func() error {
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			r, err := entry.invoker.Invoke(cctx, req)
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
	})

	entry.syncCircuit()

	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, &domain.BackendUnavailableError{
			BackendID:  cap.BackendID,
			RetryAfter: entry.breaker.RetryAfter(),
		}
	}
	if err != nil {
		g.logger.Error("backend call failed",
			"backend_id", cap.BackendID,
			"capability_id", cap.ID,
			"error", err,
		)
		return nil, &domain.BackendCallError{BackendID: cap.BackendID, Err: err}
	}
	return resp, nil
}

// Bindings returns a snapshot of all backend bindings for operators.
func (g *Gateway) Bindings() []backend.Binding {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]backend.Binding, 0, len(g.backends))
	for _, e := range g.backends {
		e.mu.Lock()
		out = append(out, e.binding)
		e.mu.Unlock()
	}
	return out
}

// RunHealthLoop probes every backend on a fixed interval, independent of
// request traffic, until ctx is canceled. Repeated probe failures force the
// circuit open even without call volume.
func (g *Gateway) RunHealthLoop(ctx context.Context) error {
	ticker := time.NewTicker(g.healthCfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Cancellation is the normal shutdown path, not a loop failure.
			return nil
		case <-ticker.C:
			g.probeAll(ctx)
		}
	}
}

func (g *Gateway) probeAll(ctx context.Context) {
	g.mu.RLock()
	entries := make([]*backendEntry, 0, len(g.backends))
	for _, e := range g.backends {
		entries = append(entries, e)
	}
	g.mu.RUnlock()

	for _, e := range entries {
		g.probe(ctx, e)
	}
}

func (g *Gateway) probe(ctx context.Context, e *backendEntry) {
	pctx, cancel := context.WithTimeout(ctx, g.healthCfg.Interval/2)
	err := e.invoker.Health(pctx)
	cancel()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.binding.LastChecked = time.Now()

	if err == nil {
		e.probeFails = 0
		if e.binding.Health != backend.HealthHealthy {
			g.logger.Info("backend recovered", "backend_id", e.binding.ID)
		}
		e.binding.Health = backend.HealthHealthy
		e.binding.Circuit = backend.CircuitState(e.breaker.State())
		return
	}

	e.probeFails++
	e.binding.Health = backend.HealthDegraded
	g.logger.Warn("backend health probe failed",
		"backend_id", e.binding.ID,
		"consecutive", e.probeFails,
		"error", err,
	)

	if e.probeFails >= g.healthCfg.FailureThreshold {
		e.breaker.ForceOpen()
		e.binding.Health = backend.HealthUnavailable
		e.binding.Circuit = backend.CircuitOpen
		g.publishCircuitOpen(ctx, e.binding)
	} else {
		e.binding.Circuit = backend.CircuitState(e.breaker.State())
	}
}

func (e *backendEntry) syncCircuit() {
	e.mu.Lock()
	e.binding.Circuit = backend.CircuitState(e.breaker.State())
	e.mu.Unlock()
}

func (g *Gateway) publishCircuitOpen(ctx context.Context, b backend.Binding) {
	data, err := json.Marshal(b)
	if err != nil {
		return
	}
	if perr := g.events.Publish(ctx, events.SubjectCircuitOpen, data); perr != nil {
		g.logger.Warn("publish circuit open failed", "backend_id", b.ID, "error", perr)
	}
}
