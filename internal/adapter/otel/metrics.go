package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "coreflow"

// Metrics holds all CoreFlow metric instruments.
type Metrics struct {
	InvocationsStarted   metric.Int64Counter
	InvocationsSucceeded metric.Int64Counter
	InvocationsFailed    metric.Int64Counter
	QuotaExceeded        metric.Int64Counter
	InvocationDuration   metric.Float64Histogram
	InvocationCost       metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.InvocationsStarted, err = meter.Int64Counter("coreflow.invocations.started",
		metric.WithDescription("Number of capability invocations started"))
	if err != nil {
		return nil, err
	}

	m.InvocationsSucceeded, err = meter.Int64Counter("coreflow.invocations.succeeded",
		metric.WithDescription("Number of capability invocations completed successfully"))
	if err != nil {
		return nil, err
	}

	m.InvocationsFailed, err = meter.Int64Counter("coreflow.invocations.failed",
		metric.WithDescription("Number of capability invocations that failed"))
	if err != nil {
		return nil, err
	}

	m.QuotaExceeded, err = meter.Int64Counter("coreflow.quota.exceeded",
		metric.WithDescription("Number of invocations rejected by usage ceilings"))
	if err != nil {
		return nil, err
	}

	m.InvocationDuration, err = meter.Float64Histogram("coreflow.invocation.duration_seconds",
		metric.WithDescription("Capability invocation duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.InvocationCost, err = meter.Float64Histogram("coreflow.invocation.cost_usd",
		metric.WithDescription("Capability invocation cost in USD"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
