package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// normalizePath reduces path cardinality by replacing dynamic segments
// with placeholders. This prevents unbounded label growth in Prometheus.
func normalizePath(path string) string {
	// Static routes pass through unchanged
	staticRoutes := map[string]bool{
		"/":                      true,
		"/health":                true,
		"/ready":                 true,
		"/metrics":               true,
		"/v1/exports":            true,
		"/v1/consent":            true,
		"/v1/retention/policies": true,
		"/v1/retention/sweep":    true,
		"/v1/deletion-jobs":      true,
		"/v1/erasure":            true,
	}

	if staticRoutes[path] {
		return path
	}

	// Pattern-based routes with dynamic segments
	segments := strings.Split(strings.Trim(path, "/"), "/")

	if len(segments) >= 3 && segments[0] == "v1" {
		switch segments[1] {
		case "exports":
			if len(segments) == 3 {
				return "/v1/exports/{id}"
			}
			if len(segments) == 4 {
				switch segments[3] {
				case "generate":
					return "/v1/exports/{id}/generate"
				case "cancel":
					return "/v1/exports/{id}/cancel"
				}
			}
		case "downloads":
			if len(segments) == 3 {
				return "/v1/downloads/{id}"
			}
		case "deletion-jobs":
			if len(segments) == 3 {
				return "/v1/deletion-jobs/{id}"
			}
			if len(segments) == 4 && segments[3] == "status" {
				return "/v1/deletion-jobs/{id}/status"
			}
		}
	}

	return "/unknown"
}

// metricsResponseWriter wraps http.ResponseWriter to capture status code and response size.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode   int
	responseSize int64
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *metricsResponseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.responseSize += int64(n)
	return n, err
}

func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// HTTPMetrics creates middleware that records HTTP request metrics.
// Skips /health and /ready endpoints to avoid noise from monitoring probes.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip monitoring endpoints
			if r.URL.Path == "/health" || r.URL.Path == "/ready" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()

			// Wrap response writer to capture status and size
			rw := &metricsResponseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			// Get request size from Content-Length header
			requestSize := r.ContentLength
			if requestSize < 0 {
				requestSize = 0
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			path := normalizePath(r.URL.Path)
			status := strconv.Itoa(rw.statusCode)

			metrics.ObserveHTTPRequest(
				r.Method,
				path,
				status,
				duration,
				requestSize,
				rw.responseSize,
			)
		})
	}
}
