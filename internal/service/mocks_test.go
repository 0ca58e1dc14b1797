package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/coreflow360/core/internal/domain"
	"github.com/coreflow360/core/internal/domain/subscription"
	"github.com/coreflow360/core/internal/domain/usage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockStore is an in-memory Store with the same conditional-update semantics
// as the Postgres implementation, safe for concurrent use.
type mockStore struct {
	mu           sync.Mutex
	subs         map[string]subscription.Subscription
	metrics      map[string]*usage.Metric
	reservations map[string]usage.Reservation
	costs        []usage.CostRecord
	adjustments  []usage.Adjustment

	subErr     error
	reserveErr error
	commitErr  error
	releaseErr error
	costErr    error
}

func newMockStore() *mockStore {
	return &mockStore{
		subs:         make(map[string]subscription.Subscription),
		metrics:      make(map[string]*usage.Metric),
		reservations: make(map[string]usage.Reservation),
	}
}

func metricKey(tenantID string, kind usage.MetricKind, periodStart time.Time) string {
	return fmt.Sprintf("%s/%s/%d", tenantID, kind, periodStart.Unix())
}

func (s *mockStore) GetSubscription(_ context.Context, tenantID string) (*subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subErr != nil {
		return nil, s.subErr
	}
	sub, ok := s.subs[tenantID]
	if !ok {
		return nil, fmt.Errorf("subscription for %s: %w", tenantID, domain.ErrNotFound)
	}
	cp := sub
	return &cp, nil
}

func (s *mockStore) UpsertSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.TenantID] = *sub
	return nil
}

func (s *mockStore) EnsureUsagePeriod(_ context.Context, m *usage.Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := metricKey(m.TenantID, m.Kind, m.PeriodStart)
	if _, ok := s.metrics[key]; !ok {
		cp := *m
		s.metrics[key] = &cp
	}
	return nil
}

func (s *mockStore) GetUsage(_ context.Context, tenantID string, kind usage.MetricKind, periodStart time.Time) (*usage.Metric, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.metrics[metricKey(tenantID, kind, periodStart)]
	if !ok {
		return nil, fmt.Errorf("usage for %s/%s: %w", tenantID, kind, domain.ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

func (s *mockStore) ListUsage(_ context.Context, tenantID string, periodStart time.Time) ([]usage.Metric, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []usage.Metric
	for _, m := range s.metrics {
		if m.TenantID == tenantID && m.PeriodStart.Equal(periodStart) {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *mockStore) TryReserveUsage(_ context.Context, res *usage.Reservation) (bool, *usage.Metric, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reserveErr != nil {
		return false, nil, s.reserveErr
	}
	m, ok := s.metrics[metricKey(res.TenantID, res.Kind, res.PeriodStart)]
	if !ok {
		return false, nil, fmt.Errorf("usage period missing: %w", domain.ErrNotFound)
	}
	if m.Ceiling != usage.Unlimited && m.Consumed+m.Reserved+res.Amount > m.Ceiling {
		cp := *m
		return false, &cp, nil
	}
	m.Reserved += res.Amount
	s.reservations[res.ID] = *res
	cp := *m
	return true, &cp, nil
}

func (s *mockStore) CommitReservation(_ context.Context, res *usage.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitErr != nil {
		return s.commitErr
	}
	if _, ok := s.reservations[res.ID]; !ok {
		return nil // already settled
	}
	delete(s.reservations, res.ID)
	m := s.metrics[metricKey(res.TenantID, res.Kind, res.PeriodStart)]
	m.Reserved -= res.Amount
	m.Consumed += res.Amount
	return nil
}

func (s *mockStore) ReleaseReservation(_ context.Context, res *usage.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.releaseErr != nil {
		return s.releaseErr
	}
	if _, ok := s.reservations[res.ID]; !ok {
		return nil // already settled
	}
	delete(s.reservations, res.ID)
	m := s.metrics[metricKey(res.TenantID, res.Kind, res.PeriodStart)]
	m.Reserved -= res.Amount
	return nil
}

func (s *mockStore) RaiseUsageCeiling(_ context.Context, tenantID string, kind usage.MetricKind, periodStart time.Time, ceiling int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.metrics[metricKey(tenantID, kind, periodStart)]
	if !ok {
		return nil
	}
	if m.Ceiling == usage.Unlimited {
		return nil
	}
	if ceiling == usage.Unlimited || ceiling > m.Ceiling {
		m.Ceiling = ceiling
	}
	return nil
}

func (s *mockStore) AdjustUsage(_ context.Context, adj *usage.Adjustment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adjustments = append(s.adjustments, *adj)
	for _, m := range s.metrics {
		if m.TenantID == adj.TenantID && m.Kind == adj.Kind {
			m.Consumed += adj.Delta
			if m.Consumed < 0 {
				m.Consumed = 0
			}
		}
	}
	return nil
}

func (s *mockStore) RecordCost(_ context.Context, rec *usage.CostRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.costErr != nil {
		return s.costErr
	}
	s.costs = append(s.costs, *rec)
	return nil
}

func (s *mockStore) ListCosts(_ context.Context, tenantID string, from, to time.Time) ([]usage.CostRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []usage.CostRecord
	for _, c := range s.costs {
		if c.TenantID == tenantID && !c.RecordedAt.Before(from) && c.RecordedAt.Before(to) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *mockStore) metric(tenantID string, kind usage.MetricKind, periodStart time.Time) *usage.Metric {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.metrics[metricKey(tenantID, kind, periodStart)]
	if !ok {
		return nil
	}
	cp := *m
	return &cp
}

func (s *mockStore) outstandingReservations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reservations)
}

// mockCache is a map-backed Cache; TTLs are ignored.
type mockCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	deletes []string
}

func newMockCache() *mockCache {
	return &mockCache{data: make(map[string][]byte)}
}

func (c *mockCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mockCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *mockCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	c.deletes = append(c.deletes, key)
	return nil
}

// mockPublisher records published events.
type mockPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	subject string
	data    []byte
}

func (p *mockPublisher) Publish(_ context.Context, subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{subject: subject, data: data})
	return nil
}

func (p *mockPublisher) bySubject(subject string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.subject == subject {
			n++
		}
	}
	return n
}
