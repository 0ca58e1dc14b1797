// Package domain provides shared domain-level sentinel errors and the
// typed failure taxonomy returned by the orchestration core.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict (optimistic locking).
var ErrConflict = errors.New("conflict: resource was modified by another request")

// Stable failure codes. The calling layer switches on these to render UI;
// it must never string-match error text.
const (
	CodeUnknownCapability  = "UNKNOWN_CAPABILITY"
	CodeNotEntitled        = "NOT_ENTITLED"
	CodeQuotaExceeded      = "QUOTA_EXCEEDED"
	CodeBackendUnavailable = "BACKEND_UNAVAILABLE"
	CodeBackendError       = "BACKEND_ERROR"
	CodeQuoteInvalid       = "QUOTE_INVALID"
)

// Coder is implemented by every typed failure in the taxonomy.
type Coder interface {
	error
	Code() string
}

// UnknownCapabilityError means a request referenced a capability absent from
// the catalog. This is always a configuration defect, never user-triggerable.
type UnknownCapabilityError struct {
	CapabilityID string
}

func (e *UnknownCapabilityError) Error() string {
	return fmt.Sprintf("unknown capability %q", e.CapabilityID)
}

func (e *UnknownCapabilityError) Code() string { return CodeUnknownCapability }

// NotEntitledError means the tenant's subscription does not permit the
// capability. RecommendedBundle is the lowest tier that would, if any.
type NotEntitledError struct {
	CapabilityID      string
	Reason            string
	RecommendedBundle string
}

func (e *NotEntitledError) Error() string {
	if e.RecommendedBundle != "" {
		return fmt.Sprintf("not entitled to %s (%s): upgrade to %s", e.CapabilityID, e.Reason, e.RecommendedBundle)
	}
	return fmt.Sprintf("not entitled to %s (%s)", e.CapabilityID, e.Reason)
}

func (e *NotEntitledError) Code() string { return CodeNotEntitled }

// QuotaExceededError means the usage ceiling for the metric would be breached.
// Current and Ceiling are included for client display.
type QuotaExceededError struct {
	Metric  string
	Current int64
	Ceiling int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s: %d of %d used", e.Metric, e.Current, e.Ceiling)
}

func (e *QuotaExceededError) Code() string { return CodeQuotaExceeded }

// BackendUnavailableError means the backend's circuit is open. Clients may
// retry after RetryAfter.
type BackendUnavailableError struct {
	BackendID  string
	RetryAfter time.Duration
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("backend %s unavailable, retry after %s", e.BackendID, e.RetryAfter)
}

func (e *BackendUnavailableError) Code() string { return CodeBackendUnavailable }

// BackendCallError means the backend call failed after the allowed retries.
type BackendCallError struct {
	BackendID string
	Err       error
}

func (e *BackendCallError) Error() string {
	return fmt.Sprintf("backend %s call failed: %v", e.BackendID, e.Err)
}

func (e *BackendCallError) Code() string { return CodeBackendError }

func (e *BackendCallError) Unwrap() error { return e.Err }

// QuoteInvalidError is a pure validation failure from the pricing calculator.
type QuoteInvalidError struct {
	Reason string
}

func (e *QuoteInvalidError) Error() string { return "invalid quote request: " + e.Reason }

func (e *QuoteInvalidError) Code() string { return CodeQuoteInvalid }
