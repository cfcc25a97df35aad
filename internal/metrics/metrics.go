// Package metrics exposes Prometheus collectors for pipeline runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sibyl_pipeline_runs_total",
			Help: "Total pipeline runs by pipeline and final status",
		},
		[]string{"pipeline", "status"},
	)

	pipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sibyl_pipeline_duration_seconds",
			Help:    "Pipeline run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"pipeline"},
	)

	steps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sibyl_steps_total",
			Help: "Total leaf steps executed by kind and status",
		},
		[]string{"kind", "status"},
	)

	stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sibyl_step_duration_seconds",
			Help:    "Leaf step duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	budgetExceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sibyl_budget_exceeded_total",
			Help: "Budget violations by scope and metric",
		},
		[]string{"scope", "metric"},
	)
)

// RecordPipelineRun records a finished run.
// status is one of: success, error, timeout, cancelled
func RecordPipelineRun(pipeline, status string, d time.Duration) {
	pipelineRuns.WithLabelValues(pipeline, status).Inc()
	pipelineDuration.WithLabelValues(pipeline).Observe(d.Seconds())
}

// RecordStep records a finished leaf step.
// kind is technique or tool; status is success, failed or skipped.
func RecordStep(kind, status string, d time.Duration) {
	steps.WithLabelValues(kind, status).Inc()
	if status != "skipped" {
		stepDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

// RecordBudgetExceeded increments the budget violation counter.
func RecordBudgetExceeded(scope, metric string) {
	budgetExceeded.WithLabelValues(scope, metric).Inc()
}
