package render

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Batch outcomes.
const (
	outcomeCompleted = "completed"
	outcomeSkipped   = "skipped"
	outcomeError     = "error"
)

// metrics groups the orchestrator's Prometheus collectors.
type metrics struct {
	batches    *prometheus.CounterVec
	charts     *prometheus.CounterVec
	compute    prometheus.Histogram
	dropped    prometheus.Counter
	duplicates prometheus.Counter
}

// newMetrics builds the collectors and registers them on reg. A nil reg keeps
// them unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		batches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chartcore_render_batches_total",
			Help: "Render batches by outcome.",
		}, []string{"outcome"}),
		charts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chartcore_chart_renders_total",
			Help: "Per-chart render results by status.",
		}, []string{"status"}),
		compute: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "chartcore_compute_duration_seconds",
			Help:    "Latency of compute service calls.",
			Buckets: prometheus.DefBuckets,
		}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "chartcore_render_dropped_results_total",
			Help: "Results dropped because their chart was deleted during the batch.",
		}),
		duplicates: f.NewCounter(prometheus.CounterOpts{
			Name: "chartcore_render_duplicate_ids_total",
			Help: "Duplicate chart ids removed before committing a batch.",
		}),
	}
}
