package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics mirrors graph/metrics.go's promauto.With(registry) shape: a
// small set of collectors registered against the caller's own registry, so
// tests never need one.
type Metrics struct {
	OperationsTotal *prometheus.CounterVec
}

// NewMetrics registers this package's collectors against registry,
// labeled by the audit event type each operation produced
// (ROLLBACK_PERFORMED, EXECUTION_FORKED).
func NewMetrics(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)
	return &Metrics{
		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wtb_coordinator_operations_total",
			Help: "Coordinator operations that committed Phase 1, by audit event type.",
		}, []string{"operation"}),
	}
}
