package snapshot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the snapshot store.
type Metrics struct {
	// Operation outcomes by op (set/get/delete/exists) and outcome
	// (ok/miss/error/skipped)
	Operations *prometheus.CounterVec

	// 1 while the circuit to Redis is open
	BreakerOpen prometheus.Gauge
}

// NewMetrics creates a Metrics instance with all snapshot store metrics
// registered.
func NewMetrics() *Metrics {
	return &Metrics{
		Operations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "worktrail_snapshot_operations_total",
			Help: "Snapshot store operations by operation and outcome",
		}, []string{"op", "outcome"}),

		BreakerOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "worktrail_snapshot_breaker_open",
			Help: "Whether the snapshot store circuit breaker is open (1) or closed (0)",
		}),
	}
}

// IncOperation records one operation outcome.
func (m *Metrics) IncOperation(op, outcome string) {
	if m != nil {
		m.Operations.WithLabelValues(op, outcome).Inc()
	}
}

// SetBreakerOpen records the breaker position.
func (m *Metrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerOpen.Set(1)
	} else {
		m.BreakerOpen.Set(0)
	}
}
