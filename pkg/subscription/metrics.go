package subscription

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrymomot/subkit/pkg/resilience"
)

// Metrics exposes lifecycle counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	webhooks       *prometheus.CounterVec
	webhookFailure *prometheus.CounterVec
	deadLetters    prometheus.Counter
	providerCalls  *prometheus.CounterVec
	breakerState   prometheus.Gauge
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "subkit",
			Name:      "webhooks_total",
			Help:      "Webhook deliveries by event type and result.",
		}, []string{"event", "result"}),
		webhookFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "subkit",
			Name:      "webhook_failures_total",
			Help:      "Webhook deliveries that failed after signature verification.",
		}, []string{"event"}),
		deadLetters: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "subkit",
			Name:      "dead_letters_total",
			Help:      "Webhooks persisted to the dead-letter queue.",
		}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "subkit",
			Name:      "provider_calls_total",
			Help:      "Payment provider calls by operation and result.",
		}, []string{"operation", "result"}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "subkit",
			Name:      "provider_circuit_state",
			Help:      "Provider circuit breaker state: 0 closed, 1 half-open, 2 open.",
		}),
	}

	for _, c := range []prometheus.Collector{m.webhooks, m.webhookFailure, m.deadLetters, m.providerCalls, m.breakerState} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) webhook(event, result string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(event, result).Inc()
}

func (m *Metrics) webhookFailed(event string) {
	if m == nil {
		return
	}
	m.webhookFailure.WithLabelValues(event).Inc()
}

func (m *Metrics) deadLettered() {
	if m == nil {
		return
	}
	m.deadLetters.Inc()
}

func (m *Metrics) providerCall(operation, result string) {
	if m == nil {
		return
	}
	m.providerCalls.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) circuitState(s resilience.CircuitState) {
	if m == nil {
		return
	}
	switch s {
	case resilience.StateOpen:
		m.breakerState.Set(2)
	case resilience.StateHalfOpen:
		m.breakerState.Set(1)
	default:
		m.breakerState.Set(0)
	}
}
