package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Admission metrics
	admissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codehive_admissions_total",
			Help: "Total number of connection admission attempts",
		},
		[]string{"outcome"},
	)

	admissionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codehive_admission_duration_seconds",
			Help:    "Admission handshake duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	// Room metrics
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "codehive_active_sessions",
			Help: "Number of live admitted sessions",
		},
	)

	activeRooms = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "codehive_active_rooms",
			Help: "Number of rooms with at least one session",
		},
	)

	// Relay metrics
	messagesRelayedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codehive_messages_relayed_total",
			Help: "Total number of messages relayed to rooms",
		},
		[]string{"sender"},
	)

	broadcastDropsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "codehive_broadcast_drops_total",
			Help: "Total number of per-recipient deliveries dropped due to backpressure",
		},
	)

	// Reconciler metrics
	reconciliationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codehive_reconciliations_total",
			Help: "Total number of workspace reconciliations",
		},
		[]string{"outcome"},
	)

	workspaceFiles = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "codehive_workspace_files",
			Help: "Number of files in a project's workspace snapshot",
		},
		[]string{"project"},
	)

	// HTTP API metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codehive_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codehive_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// System metrics
	memoryUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "codehive_memory_usage_bytes",
			Help: "Memory usage in bytes",
		},
	)

	goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "codehive_goroutines",
			Help: "Number of goroutines",
		},
	)

	initOnce sync.Once
)

// InitMetrics initializes Prometheus metrics
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			admissionsTotal,
			admissionDuration,
			activeSessions,
			activeRooms,
			messagesRelayedTotal,
			broadcastDropsTotal,
			reconciliationsTotal,
			workspaceFiles,
			httpRequestsTotal,
			httpRequestDuration,
			memoryUsage,
			goroutines,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordAdmission records an admission attempt and its outcome
func RecordAdmission(outcome string, duration time.Duration) {
	admissionsTotal.WithLabelValues(outcome).Inc()
	admissionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// SetActiveSessions sets the live session gauge
func SetActiveSessions(count int) {
	activeSessions.Set(float64(count))
}

// SetActiveRooms sets the live room gauge
func SetActiveRooms(count int) {
	activeRooms.Set(float64(count))
}

// RecordMessageRelayed records a relayed message by sender kind ("user" or "assistant")
func RecordMessageRelayed(sender string) {
	messagesRelayedTotal.WithLabelValues(sender).Inc()
}

// RecordBroadcastDrop records a per-recipient delivery dropped under backpressure
func RecordBroadcastDrop() {
	broadcastDropsTotal.Inc()
}

// RecordReconciliation records a workspace reconciliation outcome ("merged" or "skipped")
func RecordReconciliation(outcome string) {
	reconciliationsTotal.WithLabelValues(outcome).Inc()
}

// SetWorkspaceFiles sets the file count gauge for a project
func SetWorkspaceFiles(projectID string, count int) {
	workspaceFiles.WithLabelValues(projectID).Set(float64(count))
}

// DeleteWorkspaceFiles drops the file count gauge for a project whose
// room was evicted, so the label set does not grow without bound.
// Reports whether a series existed for the project.
func DeleteWorkspaceFiles(projectID string) bool {
	return workspaceFiles.DeleteLabelValues(projectID)
}

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetMemoryUsage sets the memory usage gauge
func SetMemoryUsage(bytes uint64) {
	memoryUsage.Set(float64(bytes))
}

// SetGoroutines sets the goroutines gauge
func SetGoroutines(count int) {
	goroutines.Set(float64(count))
}
