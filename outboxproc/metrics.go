package outboxproc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics mirrors the teacher's PrometheusMetrics shape
// (graph/metrics.go): a handful of promauto.With(registry)-created
// collectors namespaced for this package, optional (nil-safe call sites
// throughout processor.go) so tests never need a registry.
type Metrics struct {
	ProcessedTotal prometheus.Counter
	FailedTotal    prometheus.Counter
	RetriesTotal   prometheus.Counter
	QueueDepth     prometheus.Gauge
}

// NewMetrics registers this package's collectors against registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)
	return &Metrics{
		ProcessedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "wtb_outbox_processed_total",
			Help: "Outbox events that completed processing, successful or not.",
		}),
		FailedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "wtb_outbox_failed_total",
			Help: "Outbox events whose handler returned an error.",
		}),
		RetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "wtb_outbox_retries_total",
			Help: "Outbox events reset from FAILED back to PENDING by RetryFailedEvents.",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wtb_outbox_queue_depth",
			Help: "PENDING events observed at the start of the most recent batch.",
		}),
	}
}
