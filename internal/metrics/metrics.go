// Package metrics provides Prometheus metrics for the clipstash server.
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
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipstash_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clipstash_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	bytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clipstash_bytes_downloaded_total",
			Help: "Total bytes served from content and file downloads",
		},
	)

	bytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clipstash_bytes_uploaded_total",
			Help: "Total bytes received from content and file uploads",
		},
	)

	downloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipstash_downloads_total",
			Help: "Total number of downloads",
		},
		[]string{"status"},
	)

	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipstash_uploads_total",
			Help: "Total number of uploads",
		},
		[]string{"status"},
	)

	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipstash_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"result"},
	)

	keywordsReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clipstash_keywords_reaped_total",
			Help: "Total expired keywords removed by the reaper",
		},
	)

	multipartSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clipstash_multipart_sessions_active",
			Help: "Number of in-flight multipart upload sessions",
		},
	)

	storageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clipstash_storage_operation_duration_seconds",
			Help:    "Object storage operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	storageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipstash_storage_operations_total",
			Help: "Total object storage operations",
		},
		[]string{"operation", "status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordDownload records a content or file download.
func RecordDownload(bytes int64, success bool) {
	bytesDownloaded.Add(float64(bytes))
	downloadsTotal.WithLabelValues(statusLabel(success)).Inc()
}

// RecordUpload records a content or file upload.
func RecordUpload(bytes int64, success bool) {
	bytesUploaded.Add(float64(bytes))
	uploadsTotal.WithLabelValues(statusLabel(success)).Inc()
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordKeywordReaped counts an expired keyword removal.
func RecordKeywordReaped() {
	keywordsReaped.Inc()
}

// SetActiveMultipartSessions sets the in-flight multipart session gauge.
func SetActiveMultipartSessions(count int) {
	multipartSessionsActive.Set(float64(count))
}

// RecordStorageOperation records an object storage operation.
func RecordStorageOperation(operation string, duration time.Duration, success bool) {
	storageOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	storageOperationsTotal.WithLabelValues(operation, statusLabel(success)).Inc()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request count and duration for every request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, rw.statusCode, time.Since(start))
	})
}
