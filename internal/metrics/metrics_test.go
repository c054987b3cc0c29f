package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordPipelineRun(t *testing.T) {
	tests := []struct {
		name    string
		outcome string
	}{
		{name: "ok", outcome: "ok"},
		{name: "aborted", outcome: "aborted"},
		{name: "error", outcome: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			initial := testutil.ToFloat64(pipelineRuns.With(prometheus.Labels{"outcome": tt.outcome}))

			RecordPipelineRun(tt.outcome, 10*time.Millisecond)

			got := testutil.ToFloat64(pipelineRuns.With(prometheus.Labels{"outcome": tt.outcome}))
			if got != initial+1 {
				t.Errorf("expected count to increment by 1, got initial=%f, new=%f", initial, got)
			}
		})
	}
}

func TestRecordDispatch(t *testing.T) {
	labels := prometheus.Labels{"kind": "http", "outcome": "error"}
	initial := testutil.ToFloat64(dispatches.With(labels))

	for i := 0; i < 3; i++ {
		RecordDispatch("http", "error", time.Millisecond)
	}

	if got := testutil.ToFloat64(dispatches.With(labels)); got != initial+3 {
		t.Errorf("expected count to increment by 3, got initial=%f, new=%f", initial, got)
	}
}

func TestCounters(t *testing.T) {
	tests := []struct {
		name   string
		record func()
		vec    *prometheus.CounterVec
		labels prometheus.Labels
	}{
		{"event published", func() { RecordEventPublished("lifecycle") }, eventsPublished, prometheus.Labels{"kind": "lifecycle"}},
		{"hook delivery", func() { RecordHookDelivery("retried") }, hookDeliveries, prometheus.Labels{"outcome": "retried"}},
		{"cache lookup", func() { RecordCacheLookup("tombstone") }, cacheLookups, prometheus.Labels{"result": "tombstone"}},
		{"persistence", func() { RecordPersistenceError("SaveIntegration", "io_error") }, persistenceErrors, prometheus.Labels{"operation": "SaveIntegration", "error_type": "io_error"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			initial := testutil.ToFloat64(tt.vec.With(tt.labels))
			tt.record()
			if got := testutil.ToFloat64(tt.vec.With(tt.labels)); got != initial+1 {
				t.Errorf("expected count to increment by 1, got initial=%f, new=%f", initial, got)
			}
		})
	}
}
