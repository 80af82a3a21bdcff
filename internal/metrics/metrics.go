// Package metrics exposes Prometheus collectors for harvest runs and the API.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch outcome labels.
const (
	FetchOutcomeSuccess  = "success"
	FetchOutcomeError    = "error"
	FetchOutcomeCanceled = "canceled"
)

var (
	fetchRequestsTotal         *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	fetchRetriesTotal          *prometheus.CounterVec
	sourceRunsTotal            *prometheus.CounterVec
	parseErrorsTotal           *prometheus.CounterVec
	recordsTotal               *prometheus.CounterVec
	runsTotal                  *prometheus.CounterVec
	runDurationSeconds         prometheus.Histogram
	activeSources              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crag_fetch_requests_total",
				Help: "Total number of fetch calls, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crag_fetch_duration_seconds",
				Help:    "Histogram of fetch call durations including retries.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"source"},
		)

		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crag_fetch_retries_total",
				Help: "Total number of retried fetch attempts, labeled by source.",
			},
			[]string{"source"},
		)

		sourceRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crag_source_runs_total",
				Help: "Total number of source harvests, labeled by source and final status.",
			},
			[]string{"source", "status"},
		)

		parseErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crag_parse_errors_total",
				Help: "Total number of skipped malformed items, labeled by source.",
			},
			[]string{"source"},
		)

		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crag_records_total",
				Help: "Total number of crag records, labeled by pipeline stage.",
			},
			[]string{"stage"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crag_runs_total",
				Help: "Total number of harvest runs, labeled by status.",
			},
			[]string{"status"},
		)

		runDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crag_run_duration_seconds",
				Help:    "Histogram of harvest run durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
		)

		activeSources = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crag_active_sources",
				Help: "Number of sources currently being harvested.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records the outcome and duration of one fetch call.
func ObserveFetch(source, outcome string, duration time.Duration) {
	Init()
	fetchRequestsTotal.WithLabelValues(source, outcome).Inc()
	fetchDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// IncFetchRetry counts a retried attempt.
func IncFetchRetry(source string) {
	Init()
	fetchRetriesTotal.WithLabelValues(source).Inc()
}

// ObserveSource records a finished source harvest.
func ObserveSource(source, status string, parseErrors int) {
	Init()
	sourceRunsTotal.WithLabelValues(source, status).Inc()
	if parseErrors > 0 {
		parseErrorsTotal.WithLabelValues(source).Add(float64(parseErrors))
	}
}

// AddRecords adds n records to the given pipeline stage.
func AddRecords(stage string, n int) {
	Init()
	if n > 0 {
		recordsTotal.WithLabelValues(stage).Add(float64(n))
	}
}

// ObserveRun records a finished run.
func ObserveRun(status string, duration time.Duration) {
	Init()
	runsTotal.WithLabelValues(status).Inc()
	runDurationSeconds.Observe(duration.Seconds())
}

// IncActiveSources increments the active sources gauge.
func IncActiveSources() {
	Init()
	activeSources.Inc()
}

// DecActiveSources decrements the active sources gauge.
func DecActiveSources() {
	Init()
	activeSources.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
