// metrics.go — Prometheus HTTP метрики архива:
// fa_http_requests_total, fa_http_request_duration_seconds.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fa_http_requests_total",
			Help: "Общее количество HTTP-запросов к архиву",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fa_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к архиву в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware собирает количество и длительность запросов по endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, strconv.Itoa(wrapped.statusCode)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(time.Since(start).Seconds())
		})
	}
}

const archivePrefix = "/api/FileArchive/"

// normalizePath заменяет ключ родителя на {parentKey}, чтобы не плодить
// лейблы метрик:
// /api/FileArchive/4711/files → /api/FileArchive/{parentKey}/files
func normalizePath(path string) string {
	switch path {
	case "/health/live", "/health/ready", "/metrics",
		"/api/FileArchive/DownloadFile", "/api/FileArchive/DownloadToken":
		return path
	}

	if !strings.HasPrefix(path, archivePrefix) {
		return "other"
	}
	rest := strings.TrimPrefix(path, archivePrefix)
	if rest == "" {
		return "other"
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		switch rest[i:] {
		case "/files", "/changes":
			return archivePrefix + "{parentKey}" + rest[i:]
		}
		return "other"
	}
	return archivePrefix + "{parentKey}"
}
