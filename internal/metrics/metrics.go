// Package metrics provides Prometheus metrics for the mediatree server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediatree_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediatree_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	// Commit protocol metrics
	commitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediatree_vfs_commits_total",
			Help: "Total VFS file commits",
		},
		[]string{"type", "outcome"},
	)

	nodesCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediatree_vfs_nodes_created_total",
			Help: "Total namespace nodes created",
		},
	)

	// Ingestion metrics
	downloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediatree_downloads_total",
			Help: "Total download requests processed",
		},
		[]string{"outcome"},
	)

	downloadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mediatree_download_duration_seconds",
			Help:    "External download duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	ingestQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediatree_ingest_queue_depth",
			Help: "Number of requests waiting in the ingestion queue",
		},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediatree_sse_connections_active",
			Help: "Number of active SSE subscribers",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediatree_sse_events_total",
			Help: "Total SSE events published",
		},
		[]string{"type"},
	)
)

// RecordDBQuery records the duration of a database query.
func RecordDBQuery(query string, d time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(d.Seconds())
}

// SetDBConnectionsOpen updates the open connection gauge.
func SetDBConnectionsOpen(n int) {
	dbConnectionsOpen.Set(float64(n))
}

// RecordCommit records a VFS commit attempt by file type and outcome.
func RecordCommit(fileType, outcome string) {
	commitsTotal.WithLabelValues(fileType, outcome).Inc()
}

// RecordNodeCreated increments the node creation counter.
func RecordNodeCreated() {
	nodesCreatedTotal.Inc()
}

// RecordDownload records a processed download request.
func RecordDownload(outcome string, d time.Duration) {
	downloadsTotal.WithLabelValues(outcome).Inc()
	downloadDuration.Observe(d.Seconds())
}

// SetIngestQueueDepth updates the ingestion queue depth gauge.
func SetIngestQueueDepth(n int) {
	ingestQueueDepth.Set(float64(n))
}

// SetSSEConnectionsActive updates the active SSE subscriber gauge.
func SetSSEConnectionsActive(n int64) {
	sseConnectionsActive.Set(float64(n))
}

// RecordSSEEvent increments the SSE event counter.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
