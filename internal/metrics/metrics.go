// Package metrics exposes Prometheus collectors for the harvester.
// Helpers initialise the collectors on first use.
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

// Fetch outcomes
const (
	FetchOK           = "ok"
	FetchHTTPError    = "http_error"
	FetchEmpty        = "empty"
	FetchNetworkError = "network_error"
)

// Task outcomes
const (
	TaskStarted   = "started"
	TaskCompleted = "completed"
	TaskStopped   = "stopped"
	TaskFailed    = "failed"
	TaskRejected  = "rejected"
)

var (
	fetchesTotal         *prometheus.CounterVec
	fetchDurationSeconds prometheus.Histogram
	linksEnqueuedTotal   prometheus.Counter
	rowsRecordedTotal    prometheus.Counter
	storeErrorsTotal     *prometheus.CounterVec
	documentsTotal       *prometheus.CounterVec
	contentBytesTotal    prometheus.Counter
	fileRotationsTotal   prometheus.Counter
	submissionsTotal     *prometheus.CounterVec
	tasksTotal           *prometheus.CounterVec
	runningTasks         prometheus.Gauge
	activeWorkers        prometheus.Gauge

	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docharvest_fetches_total",
				Help: "Total number of page fetches, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "docharvest_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		)

		linksEnqueuedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "docharvest_links_enqueued_total",
				Help: "Total number of newly discovered URLs pushed onto a frontier.",
			},
		)

		rowsRecordedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "docharvest_rows_recorded_total",
				Help: "Total number of metadata rows committed by batch inserts.",
			},
		)

		storeErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docharvest_store_errors_total",
				Help: "Total number of failed metadata store operations, labeled by operation.",
			},
			[]string{"op"},
		)

		documentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docharvest_documents_total",
				Help: "Total number of content writes, labeled by result.",
			},
			[]string{"result"},
		)

		contentBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "docharvest_content_bytes_total",
				Help: "Total number of bytes appended to content files.",
			},
		)

		fileRotationsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "docharvest_file_rotations_total",
				Help: "Total number of content file rotations.",
			},
		)

		submissionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docharvest_pool_submissions_total",
				Help: "Total number of pool submissions, labeled by result.",
			},
			[]string{"result"},
		)

		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docharvest_tasks_total",
				Help: "Total number of crawl task transitions, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		runningTasks = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "docharvest_running_tasks",
				Help: "Number of crawl tasks currently running.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "docharvest_active_workers",
				Help: "Number of workers currently executing a pipeline.",
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
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveFetch records one fetch attempt
func ObserveFetch(outcome string, duration time.Duration) {
	Init()
	fetchesTotal.WithLabelValues(outcome).Inc()
	fetchDurationSeconds.Observe(duration.Seconds())
}

// ObserveLinksEnqueued counts URLs admitted to a frontier
func ObserveLinksEnqueued(n int) {
	Init()
	if n > 0 {
		linksEnqueuedTotal.Add(float64(n))
	}
}

// ObserveRowsRecorded counts committed metadata rows
func ObserveRowsRecorded(n int) {
	Init()
	if n > 0 {
		rowsRecordedTotal.Add(float64(n))
	}
}

// ObserveStoreError counts a failed store operation
func ObserveStoreError(op string) {
	Init()
	storeErrorsTotal.WithLabelValues(op).Inc()
}

// ObserveDocument records the result of one content write
func ObserveDocument(stored bool, bytesWritten int64, rotated bool) {
	Init()
	if !stored {
		documentsTotal.WithLabelValues("failed").Inc()
		return
	}
	documentsTotal.WithLabelValues("stored").Inc()
	contentBytesTotal.Add(float64(bytesWritten))
	if rotated {
		fileRotationsTotal.Inc()
	}
}

// ObserveSubmission records whether the pool accepted a pipeline
func ObserveSubmission(accepted bool) {
	Init()
	if accepted {
		submissionsTotal.WithLabelValues("accepted").Inc()
		return
	}
	submissionsTotal.WithLabelValues("rejected").Inc()
}

// ObserveTask records a task lifecycle transition and keeps the running gauge
func ObserveTask(outcome string) {
	Init()
	tasksTotal.WithLabelValues(outcome).Inc()
	switch outcome {
	case TaskStarted:
		runningTasks.Inc()
	case TaskCompleted, TaskStopped, TaskFailed:
		runningTasks.Dec()
	}
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
