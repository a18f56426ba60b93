// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Fetch metrics
	FetchCalls   *prometheus.CounterVec
	FetchLatency *prometheus.HistogramVec
	FetchErrors  *prometheus.CounterVec

	// Dispatcher metrics
	TasksSubmitted *prometheus.CounterVec
	TasksCompleted *prometheus.CounterVec
	TaskDuration   *prometheus.HistogramVec
	TaskRedelivery *prometheus.CounterVec

	// Writer metrics
	WriteChunks        *prometheus.CounterVec
	WriteChunkFailures *prometheus.CounterVec

	// Orchestrator metrics
	CycleRunsTotal       *prometheus.CounterVec
	CycleDuration        prometheus.Histogram
	CollectionsRefreshed *prometheus.CounterVec
	FloorGroupsSkipped   prometheus.Counter

	// Health metrics
	LastSuccessfulCycle prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "nft_market_etl"
	}

	return &Metrics{
		// Fetch metrics
		FetchCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "calls_total",
			Help:      "Total number of provider HTTP attempts by status code",
		}, []string{"provider", "resource", "status"}),
		FetchLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "latency_seconds",
			Help:      "Provider HTTP attempt latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "resource"}),
		FetchErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "errors_total",
			Help:      "Total number of failed provider HTTP attempts",
		}, []string{"provider", "resource"}),

		// Dispatcher metrics
		TasksSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "tasks_submitted_total",
			Help:      "Total number of tasks enqueued by name",
		}, []string{"task"}),
		TasksCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "tasks_completed_total",
			Help:      "Total number of task executions by outcome",
		}, []string{"task", "status"}),
		TaskDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "task_duration_seconds",
			Help:      "Task execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task"}),
		TaskRedelivery: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "task_redeliveries_total",
			Help:      "Total number of task redeliveries after a failed attempt",
		}, []string{"task"}),

		// Writer metrics
		WriteChunks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "chunks_total",
			Help:      "Total number of statement batches executed",
		}, []string{"operation"}),
		WriteChunkFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "chunk_failures_total",
			Help:      "Total number of statement batches that exhausted retries",
		}, []string{"operation"}),

		// Orchestrator metrics
		CycleRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "cycles_total",
			Help:      "Total number of refresh cycles by outcome",
		}, []string{"outcome"}),
		CycleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "cycle_duration_seconds",
			Help:      "Refresh cycle duration in seconds",
			Buckets:   []float64{10, 30, 60, 300, 600, 1800, 3600, 7200},
		}),
		CollectionsRefreshed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "collections_refreshed_total",
			Help:      "Total number of per-collection refreshes by kind",
		}, []string{"kind"}),
		FloorGroupsSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "floor_groups_skipped_total",
			Help:      "Total number of floor-price groups skipped on error responses",
		}),

		// Health metrics
		LastSuccessfulCycle: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_cycle_timestamp",
			Help:      "Unix timestamp of last refresh cycle without errors",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordFetch records one provider HTTP attempt.
func RecordFetch(provider, resource string, status int, seconds float64, err error) {
	DefaultMetrics.FetchCalls.WithLabelValues(provider, resource, strconv.Itoa(status)).Inc()
	DefaultMetrics.FetchLatency.WithLabelValues(provider, resource).Observe(seconds)
	if err != nil {
		DefaultMetrics.FetchErrors.WithLabelValues(provider, resource).Inc()
	}
}

// RecordTaskSubmitted increments the submitted counter for task.
func RecordTaskSubmitted(task string) {
	DefaultMetrics.TasksSubmitted.WithLabelValues(task).Inc()
}

// RecordTaskCompleted records one task execution.
func RecordTaskCompleted(task, status string, seconds float64) {
	DefaultMetrics.TasksCompleted.WithLabelValues(task, status).Inc()
	DefaultMetrics.TaskDuration.WithLabelValues(task).Observe(seconds)
}

// RecordTaskRedelivered increments the redelivery counter for task.
func RecordTaskRedelivered(task string) {
	DefaultMetrics.TaskRedelivery.WithLabelValues(task).Inc()
}

// RecordWriteChunk records one executed batch and whether it failed.
func RecordWriteChunk(operation string, failed bool) {
	DefaultMetrics.WriteChunks.WithLabelValues(operation).Inc()
	if failed {
		DefaultMetrics.WriteChunkFailures.WithLabelValues(operation).Inc()
	}
}

// RecordCycle records a finished refresh cycle.
func RecordCycle(outcome string, seconds float64, finishedUnix int64) {
	DefaultMetrics.CycleRunsTotal.WithLabelValues(outcome).Inc()
	DefaultMetrics.CycleDuration.Observe(seconds)
	if outcome == "success" {
		DefaultMetrics.LastSuccessfulCycle.Set(float64(finishedUnix))
	}
}

// RecordCollectionsRefreshed adds n refreshes of kind (known or new).
func RecordCollectionsRefreshed(kind string, n int) {
	DefaultMetrics.CollectionsRefreshed.WithLabelValues(kind).Add(float64(n))
}

// RecordFloorGroupSkipped increments the skipped floor-group counter.
func RecordFloorGroupSkipped() {
	DefaultMetrics.FloorGroupsSkipped.Inc()
}
