// Package backend defines the external service binding domain model.
package backend

import "time"

// Health is the observed health of an external backend.
type Health string

const (
	HealthHealthy     Health = "healthy"
	HealthDegraded    Health = "degraded"
	HealthUnavailable Health = "unavailable"
)

// CircuitState mirrors the gateway's circuit breaker position for a backend.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// Binding is the runtime view of one external backend. CredentialRef is a
// handle (an env var name or secret path), never the raw secret itself.
type Binding struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	CredentialRef string       `json:"credential_ref,omitempty"`
	Health        Health       `json:"health"`
	Circuit       CircuitState `json:"circuit"`
	LastChecked   time.Time    `json:"last_checked"`
}
