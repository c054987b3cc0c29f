// Package metrics exposes the Prometheus collectors recorded by the
// pipeline, dispatcher, hook subscriber and cache.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchyard_events_published_total",
			Help: "Total platform events published by kind",
		},
		[]string{"kind"},
	)

	pipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchyard_pipeline_runs_total",
			Help: "Total data-manipulation runs by outcome (ok, aborted, error)",
		},
		[]string{"outcome"},
	)

	pipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "switchyard_pipeline_duration_seconds",
			Help:    "Duration of data-manipulation runs",
			Buckets: prometheus.DefBuckets,
		},
	)

	dispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchyard_dispatch_total",
			Help: "Total target dispatches by source kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	dispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "switchyard_dispatch_duration_seconds",
			Help:    "Duration of target dispatches by source kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	hookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchyard_hook_deliveries_total",
			Help: "Total plugin hook deliveries by outcome (ok, retried, error)",
		},
		[]string{"outcome"},
	)

	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchyard_cache_lookups_total",
			Help: "Integration cache lookups by result (hit, miss, tombstone)",
		},
		[]string{"result"},
	)

	persistenceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "switchyard_persistence_errors_total",
			Help: "Total persistence operation errors by operation and error type",
		},
		[]string{"operation", "error_type"},
	)
)

// RecordEventPublished increments the published event counter.
func RecordEventPublished(kind string) {
	eventsPublished.WithLabelValues(kind).Inc()
}

// RecordPipelineRun records one executor run.
// outcome should be one of: ok, aborted, error
func RecordPipelineRun(outcome string, elapsed time.Duration) {
	pipelineRuns.WithLabelValues(outcome).Inc()
	pipelineDuration.Observe(elapsed.Seconds())
}

// RecordDispatch records one target dispatch.
func RecordDispatch(kind, outcome string, elapsed time.Duration) {
	dispatches.WithLabelValues(kind, outcome).Inc()
	dispatchDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// RecordHookDelivery records one plugin hook delivery attempt sequence.
func RecordHookDelivery(outcome string) {
	hookDeliveries.WithLabelValues(outcome).Inc()
}

// RecordCacheLookup records an integration cache lookup.
func RecordCacheLookup(result string) {
	cacheLookups.WithLabelValues(result).Inc()
}

// RecordPersistenceError increments the persistence error counter.
func RecordPersistenceError(operation, errorType string) {
	persistenceErrors.WithLabelValues(operation, errorType).Inc()
}
