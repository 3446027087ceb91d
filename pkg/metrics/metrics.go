// Package metrics defines the Prometheus metric collectors used by the
// phrase pipeline and the job service, and exposes an HTTP handler for
// scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and
// records nothing, so library callers can run the pipeline without metrics.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	RecordsIngestedTotal prometheus.Counter
	WindowsFlushedTotal  prometheus.Counter
	ChunksWrittenTotal   prometheus.Counter
	MergedRecordsTotal   prometheus.Counter
	PipelineRunsTotal    *prometheus.CounterVec
	StageDuration        *prometheus.HistogramVec
	JobsInFlight         prometheus.Gauge
	CacheRequestsTotal   *prometheus.CounterVec
}

// New creates all collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer in binaries and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		RecordsIngestedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "phrase_records_ingested_total",
				Help: "Input records consumed by the aggregation pass.",
			},
		),
		WindowsFlushedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "phrase_windows_flushed_total",
				Help: "Aggregation windows flushed to the stats stream.",
			},
		),
		ChunksWrittenTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "phrase_chunks_written_total",
				Help: "Sorted chunk files written during SPLIT.",
			},
		),
		MergedRecordsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "phrase_merged_records_total",
				Help: "Records emitted by the k-way MERGE.",
			},
		),
		PipelineRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phrase_pipeline_runs_total",
				Help: "Pipeline runs by outcome (ok, failed).",
			},
			[]string{"status"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "phrase_pipeline_stage_seconds",
				Help:    "Wall time spent in each pipeline stage.",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"stage"},
		),
		JobsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "phrase_jobs_in_flight",
				Help: "Jobs currently being executed by the worker.",
			},
		),
		CacheRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phrase_result_cache_requests_total",
				Help: "Result cache lookups by outcome (hit, miss, error).",
			},
			[]string{"result"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.RecordsIngestedTotal,
		m.WindowsFlushedTotal,
		m.ChunksWrittenTotal,
		m.MergedRecordsTotal,
		m.PipelineRunsTotal,
		m.StageDuration,
		m.JobsInFlight,
		m.CacheRequestsTotal,
	)

	return m
}

// AddRecords counts ingested records. Like every helper below it is a no-op
// on a nil *Metrics.
func (m *Metrics) AddRecords(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsIngestedTotal.Add(float64(n))
}

// AddWindows counts flushed aggregation windows.
func (m *Metrics) AddWindows(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.WindowsFlushedTotal.Add(float64(n))
}

// AddChunks counts chunk files written by SPLIT.
func (m *Metrics) AddChunks(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ChunksWrittenTotal.Add(float64(n))
}

// AddMerged counts records emitted by MERGE.
func (m *Metrics) AddMerged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.MergedRecordsTotal.Add(float64(n))
}

// ObserveStage records how long stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RunFinished counts a pipeline run as ok or failed.
func (m *Metrics) RunFinished(err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "failed"
	}
	m.PipelineRunsTotal.WithLabelValues(status).Inc()
}

// CacheResult counts one cache lookup by outcome.
func (m *Metrics) CacheResult(result string) {
	if m == nil {
		return
	}
	m.CacheRequestsTotal.WithLabelValues(result).Inc()
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
