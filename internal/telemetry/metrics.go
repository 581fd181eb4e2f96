// Package telemetry holds the Prometheus collectors and OpenTelemetry helpers
// used by the orchestrator and transport.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "qshield"

// Outcome labels an operation result.
type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomeError        Outcome = "error"
	OutcomeUnauthorized Outcome = "unauthorized"
)

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Operations counts public operations by name and outcome.
	Operations *prometheus.CounterVec

	// Latency measures public operation duration in seconds.
	Latency *prometheus.HistogramVec

	// Collapses counts superposition collapses by trigger.
	Collapses *prometheus.CounterVec

	// Poisonings counts poisoned responses by severity.
	Poisonings *prometheus.CounterVec

	// DefenseActions counts responder actions by action and result.
	DefenseActions *prometheus.CounterVec

	// BreakerState is 0 closed, 1 open, 2 half-open.
	BreakerState *prometheus.GaugeVec

	// ProtectedItems is the number of live superpositions.
	ProtectedItems prometheus.Gauge
}

// NewMetrics registers every collector on reg. Pass prometheus.NewRegistry()
// in tests to stay off the global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Public operations by name and outcome",
		}, []string{"operation", "outcome"}),
		Latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Public operation duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"operation"}),
		Collapses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collapses_total",
			Help:      "Superposition collapses by trigger",
		}, []string{"trigger"}),
		Poisonings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poisonings_total",
			Help:      "Poisoned responses by severity",
		}, []string{"severity"}),
		DefenseActions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "defense",
			Name:      "actions_total",
			Help:      "Responder actions by action and result",
		}, []string{"action", "result"}),
		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "defense",
			Name:      "breaker_state",
			Help:      "Circuit breaker state: 0 closed, 1 open, 2 half-open",
		}, []string{"breaker"}),
		ProtectedItems: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "protected_items",
			Help:      "Live superpositions",
		}),
	}
}

// ObserveOperation records one public operation.
func (m *Metrics) ObserveOperation(op string, outcome Outcome, d time.Duration) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(op, string(outcome)).Inc()
	m.Latency.WithLabelValues(op).Observe(d.Seconds())
}

// Collapsed records a collapse.
func (m *Metrics) Collapsed(trigger string) {
	if m == nil {
		return
	}
	m.Collapses.WithLabelValues(trigger).Inc()
}

// Poisoned records a poisoned response.
func (m *Metrics) Poisoned(severity string) {
	if m == nil {
		return
	}
	m.Poisonings.WithLabelValues(severity).Inc()
}

// DefenseAction records one responder action.
func (m *Metrics) DefenseAction(action string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.DefenseActions.WithLabelValues(action, result).Inc()
}

// SetBreakerState publishes a breaker's numeric state.
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}

// SetProtectedItems publishes the live superposition count.
func (m *Metrics) SetProtectedItems(n int) {
	if m == nil {
		return
	}
	m.ProtectedItems.Set(float64(n))
}
