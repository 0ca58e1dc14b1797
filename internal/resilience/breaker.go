// Package resilience provides reliability patterns for external service calls.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open and rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

// Breaker implements a circuit breaker for protecting external calls.
// It tracks consecutive failures and opens the circuit when a threshold is
// reached. After a cooldown the circuit goes half-open and admits exactly one
// probe call; success closes it, failure reopens it with exponential backoff
// on the cooldown window.
type Breaker struct {
	mu          sync.Mutex
	state       state
	failures    int
	maxFailures int
	cooldown    time.Duration
	maxCooldown time.Duration
	openCount   int // consecutive opens, drives exponential backoff
	openedAt    time.Time
	probing     bool // a half-open probe is in flight
	now         func() time.Time // for testing
}

// NewBreaker creates a circuit breaker that opens after maxFailures
// consecutive failures. The open window starts at cooldown and doubles on
// each consecutive reopen, capped at maxCooldown.
func NewBreaker(maxFailures int, cooldown, maxCooldown time.Duration) *Breaker {
	if maxCooldown < cooldown {
		maxCooldown = cooldown
	}
	return &Breaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		maxCooldown: maxCooldown,
		now:         time.Now,
	}
}

// Execute runs fn if the circuit admits the call.
// Returns ErrCircuitOpen without calling fn when it does not.
func (b *Breaker) Execute(fn func() error) error {
	probe, allowed := b.allowRequest()
	if !allowed {
		return ErrCircuitOpen
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probing = false
	}
	if err != nil {
		b.onFailure()
		return err
	}

	b.onSuccess()
	return nil
}

// allowRequest decides whether a call may proceed. The probe flag marks the
// single call admitted while half-open; the state transition and the probe
// claim happen under one lock acquisition so two racing requests can never
// both claim the probe.
func (b *Breaker) allowRequest() (probe, allowed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return false, true
	case stateOpen:
		if b.now().Sub(b.openedAt) >= b.currentCooldown() {
			b.state = stateHalfOpen
			b.probing = true
			return true, true
		}
		return false, false
	case stateHalfOpen:
		if b.probing {
			return false, false
		}
		b.probing = true
		return true, true
	}
	return false, false
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure() {
	b.failures++
	if b.state == stateHalfOpen || b.failures >= b.maxFailures {
		b.open()
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess() {
	b.failures = 0
	b.state = stateClosed
	b.openCount = 0
}

// open must be called with b.mu held.
func (b *Breaker) open() {
	b.state = stateOpen
	b.openedAt = b.now()
	b.openCount++
	b.probing = false
}

// currentCooldown must be called with b.mu held.
func (b *Breaker) currentCooldown() time.Duration {
	d := b.cooldown
	for i := 1; i < b.openCount; i++ {
		d *= 2
		if d >= b.maxCooldown {
			return b.maxCooldown
		}
	}
	return d
}

// ForceOpen trips the circuit regardless of call traffic. Used by the
// health-check loop when repeated probes fail.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.open()
}

// RetryAfter returns how long until the circuit will admit a probe.
// Zero when the circuit is not open.
func (b *Breaker) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != stateOpen {
		return 0
	}
	remaining := b.currentCooldown() - b.now().Sub(b.openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// State returns the circuit position: "closed", "open", or "half_open".
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}
