package integrity

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics mirrors coordinator.Metrics' promauto.With(registry) shape.
type Metrics struct {
	ChecksRun   prometheus.Counter
	IssuesFound prometheus.Counter
	RepairsRun  *prometheus.CounterVec
}

// NewMetrics registers this package's collectors against registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)
	return &Metrics{
		ChecksRun: factory.NewCounter(prometheus.CounterOpts{
			Name: "wtb_integrity_checks_total",
			Help: "Integrity scans completed.",
		}),
		IssuesFound: factory.NewCounter(prometheus.CounterOpts{
			Name: "wtb_integrity_issues_found_total",
			Help: "Integrity findings across all scans, by severity not broken out (see Report for that).",
		}),
		RepairsRun: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wtb_integrity_repairs_total",
			Help: "Auto-repairs applied, by issue type.",
		}, []string{"issue_type"}),
	}
}
