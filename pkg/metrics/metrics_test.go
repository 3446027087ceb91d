package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics
	m.AddRecords(3)
	m.AddWindows(1)
	m.AddChunks(2)
	m.AddMerged(5)
	m.ObserveStage("SPLIT", time.Second)
	m.RunFinished(nil)
	m.CacheResult("hit")
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.AddRecords(3)
	m.AddRecords(0)
	m.AddChunks(2)
	m.RunFinished(nil)
	m.RunFinished(errors.New("boom"))
	m.CacheResult("miss")

	if got := testutil.ToFloat64(m.RecordsIngestedTotal); got != 3 {
		t.Errorf("records = %v", got)
	}
	if got := testutil.ToFloat64(m.ChunksWrittenTotal); got != 2 {
		t.Errorf("chunks = %v", got)
	}
	if got := testutil.ToFloat64(m.PipelineRunsTotal.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed runs = %v", got)
	}
	if got := testutil.ToFloat64(m.CacheRequestsTotal.WithLabelValues("miss")); got != 1 {
		t.Errorf("cache misses = %v", got)
	}
}
