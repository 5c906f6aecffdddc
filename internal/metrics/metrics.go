// Package metrics provides Prometheus metrics for transfers and provider calls.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "versfm_tasks_total",
			Help: "Total transfer tasks by kind and terminal status",
		},
		[]string{"kind", "status"},
	)

	taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "versfm_task_duration_seconds",
			Help:    "Transfer task duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	taskRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "versfm_task_retries_total",
			Help: "Task attempts retried after a transient provider error",
		},
		[]string{"kind"},
	)

	bytesTransferred = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "versfm_bytes_transferred_total",
			Help: "Total bytes streamed between providers",
		},
	)

	providerOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "versfm_provider_operations_total",
			Help: "Provider operations by backend, operation and outcome",
		},
		[]string{"backend", "operation", "status"},
	)

	providerOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "versfm_provider_operation_duration_seconds",
			Help:    "Provider operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordTask records a task reaching a terminal status.
func RecordTask(kind, status string, duration time.Duration) {
	tasksTotal.WithLabelValues(kind, status).Inc()
	taskDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordRetry records one retried attempt.
func RecordRetry(kind string) {
	taskRetries.WithLabelValues(kind).Inc()
}

// AddBytes records streamed bytes.
func AddBytes(n int64) {
	if n > 0 {
		bytesTransferred.Add(float64(n))
	}
}

// RecordProviderOperation records one backend call.
func RecordProviderOperation(backend, operation string, duration time.Duration, err error) {
	providerOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	status := "success"
	if err != nil {
		status = "error"
	}
	providerOperations.WithLabelValues(backend, operation, status).Inc()
}
