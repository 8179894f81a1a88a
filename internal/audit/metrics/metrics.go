package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the audit pipeline. All methods are
// nil-safe so components can run without metrics wired.
type Metrics struct {
	// Published events by outcome
	Published *prometheus.CounterVec

	// Records created by the builder
	RecordsCreated prometheus.Counter

	// Duplicate deliveries skipped by the idempotency check
	DuplicatesSkipped prometheus.Counter

	// Consumed message outcomes
	Processed *prometheus.CounterVec

	// Per-message processing latency
	ProcessDuration prometheus.Histogram

	// Query API requests by route and outcome
	Queries *prometheus.CounterVec
}

// New creates a Metrics instance with all audit pipeline metrics registered.
func New() *Metrics {
	return &Metrics{
		Published: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "worktrail_audit_published_total",
			Help: "Total audit events published by outcome",
		}, []string{"outcome"}), // outcome: "ok", "error"

		RecordsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "worktrail_audit_records_created_total",
			Help: "Total audit records created",
		}),

		DuplicatesSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "worktrail_audit_duplicates_skipped_total",
			Help: "Total duplicate event deliveries skipped by the idempotency check",
		}),

		Processed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "worktrail_audit_processed_total",
			Help: "Total consumed audit messages by outcome",
		}, []string{"outcome"}), // outcome: "ok", "requeued", "deadlettered"

		ProcessDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "worktrail_audit_process_duration_seconds",
			Help:    "Duration of audit record processing per consumed message",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		Queries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "worktrail_audit_queries_total",
			Help: "Total audit query API requests by route and outcome",
		}, []string{"route", "outcome"}), // outcome: "ok", "client_error", "error"
	}
}

// IncPublished records a publish attempt outcome.
func (m *Metrics) IncPublished(outcome string) {
	if m != nil {
		m.Published.WithLabelValues(outcome).Inc()
	}
}

// IncRecordCreated records a newly persisted audit record.
func (m *Metrics) IncRecordCreated() {
	if m != nil {
		m.RecordsCreated.Inc()
	}
}

// IncDuplicateSkipped records a delivery skipped because the record existed.
func (m *Metrics) IncDuplicateSkipped() {
	if m != nil {
		m.DuplicatesSkipped.Inc()
	}
}

// IncProcessed records a consumed message outcome.
func (m *Metrics) IncProcessed(outcome string) {
	if m != nil {
		m.Processed.WithLabelValues(outcome).Inc()
	}
}

// ObserveProcessDuration records how long one message took to process.
func (m *Metrics) ObserveProcessDuration(d time.Duration) {
	if m != nil {
		m.ProcessDuration.Observe(d.Seconds())
	}
}

// IncQuery records a query API request outcome.
func (m *Metrics) IncQuery(route, outcome string) {
	if m != nil {
		m.Queries.WithLabelValues(route, outcome).Inc()
	}
}
