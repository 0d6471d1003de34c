package ops

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for ops audit tracking.
type Metrics struct {
	Tracked               prometheus.Counter
	Sampled               prometheus.Counter
	QueueDropped          prometheus.Counter
	CircuitBreakerDropped prometheus.Counter
	PersistFailures       prometheus.Counter
	CircuitBreakerState   prometheus.Gauge
}

// NewMetrics creates ops audit metrics registered with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Tracked: factory.NewCounter(prometheus.CounterOpts{
			Name: "veriledger_audit_ops_tracked_total",
			Help: "Total number of operational audit events successfully tracked",
		}),
		Sampled: factory.NewCounter(prometheus.CounterOpts{
			Name: "veriledger_audit_ops_sampled_total",
			Help: "Total number of operational audit events dropped due to sampling",
		}),
		QueueDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "veriledger_audit_ops_queue_dropped_total",
			Help: "Total number of operational audit events dropped because the queue was full",
		}),
		CircuitBreakerDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "veriledger_audit_ops_circuit_breaker_dropped_total",
			Help: "Total number of operational audit events dropped due to circuit breaker",
		}),
		PersistFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "veriledger_audit_ops_persist_failures_total",
			Help: "Total number of operational audit event persistence failures",
		}),
		CircuitBreakerState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "veriledger_audit_ops_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed/healthy, 1=open/unhealthy)",
		}),
	}
}

func (m *Metrics) IncTracked() {
	if m != nil {
		m.Tracked.Inc()
	}
}

func (m *Metrics) IncSampled() {
	if m != nil {
		m.Sampled.Inc()
	}
}

func (m *Metrics) IncQueueDropped() {
	if m != nil {
		m.QueueDropped.Inc()
	}
}

func (m *Metrics) IncCircuitBreakerDropped() {
	if m != nil {
		m.CircuitBreakerDropped.Inc()
	}
}

func (m *Metrics) IncPersistFailures() {
	if m != nil {
		m.PersistFailures.Inc()
	}
}

// SetCircuitBreakerState sets the circuit breaker state gauge.
func (m *Metrics) SetCircuitBreakerState(open bool) {
	if m == nil {
		return
	}
	if open {
		m.CircuitBreakerState.Set(1)
	} else {
		m.CircuitBreakerState.Set(0)
	}
}
