// Package metrics provides Prometheus metrics for the filecove server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filecove_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filecove_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Content transfer metrics
	contentBytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filecove_content_bytes_downloaded_total",
			Help: "Total bytes downloaded from content endpoints",
		},
	)

	contentBytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filecove_content_bytes_uploaded_total",
			Help: "Total bytes uploaded",
		},
	)

	contentDownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filecove_content_downloads_total",
			Help: "Total number of content downloads",
		},
		[]string{"status"},
	)

	contentUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filecove_content_uploads_total",
			Help: "Total number of content uploads",
		},
		[]string{"status"},
	)

	// Listing metrics
	listingQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filecove_listing_queries_total",
			Help: "Total listing queries served",
		},
		[]string{"filtered"},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filecove_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"result"},
	)

	revokedTokens = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "filecove_revoked_tokens",
			Help: "Number of tokens in the revocation table",
		},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filecove_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "filecove_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "filecove_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filecove_sse_events_total",
			Help: "Total SSE events published",
		},
		[]string{"type"},
	)

	// S3 metrics
	s3OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filecove_s3_operation_duration_seconds",
			Help:    "S3 operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	s3OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filecove_s3_operations_total",
			Help: "Total S3 operations",
		},
		[]string{"operation", "status"},
	)

	// Preview metrics
	previewsGeneratedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filecove_previews_generated_total",
			Help: "Total thumbnails generated",
		},
		[]string{"status"},
	)

	previewQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "filecove_preview_queue_depth",
			Help: "Thumbnails waiting to be generated",
		},
	)

	// Filesystem watch metrics
	watchEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filecove_watch_events_total",
			Help: "Filesystem events observed by the watcher",
		},
		[]string{"op"},
	)

	// Ingest metrics
	ingestFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filecove_ingest_files_total",
			Help: "Files processed by bulk ingest",
		},
		[]string{"status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordContentDownload records a content download.
func RecordContentDownload(bytes int64, success bool) {
	contentBytesDownloaded.Add(float64(bytes))
	contentDownloadsTotal.WithLabelValues(outcome(success)).Inc()
}

// RecordContentUpload records a content upload.
func RecordContentUpload(bytes int64, success bool) {
	contentBytesUploaded.Add(float64(bytes))
	contentUploadsTotal.WithLabelValues(outcome(success)).Inc()
}

// RecordListingQuery records a listing fetch, split by whether a search
// query or filter narrowed it.
func RecordListingQuery(filtered bool) {
	listingQueriesTotal.WithLabelValues(strconv.FormatBool(filtered)).Inc()
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// SetRevokedTokens sets the size of the token revocation table.
func SetRevokedTokens(count int64) {
	revokedTokens.Set(float64(count))
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// SetDBConnectionsOpen sets the number of open database connections.
func SetDBConnectionsOpen(count int) {
	dbConnectionsOpen.Set(float64(count))
}

// RecordS3Operation records an S3 operation.
func RecordS3Operation(operation string, duration time.Duration, success bool) {
	s3OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	s3OperationsTotal.WithLabelValues(operation, outcome(success)).Inc()
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// RecordSSEEvent records an SSE event publication.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordPreviewGenerated records a thumbnail generation attempt.
func RecordPreviewGenerated(success bool) {
	previewsGeneratedTotal.WithLabelValues(outcome(success)).Inc()
}

// SetPreviewQueueDepth sets the preview backlog gauge.
func SetPreviewQueueDepth(depth int) {
	previewQueueDepth.Set(float64(depth))
}

// RecordWatchEvent records one filesystem watcher event.
func RecordWatchEvent(op string) {
	watchEventsTotal.WithLabelValues(op).Inc()
}

// RecordIngestFile records one file handled by bulk ingest.
func RecordIngestFile(success bool) {
	ingestFilesTotal.WithLabelValues(outcome(success)).Inc()
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
