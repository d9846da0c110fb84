package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/finance-governance/internal/middleware"
)

// HealthChecker defines the interface for components that can be health checked.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandlers provides health and readiness check endpoints for Kubernetes probes.
type HealthHandlers struct {
	dbChecker    HealthChecker
	blobChecker  HealthChecker
	redisChecker HealthChecker

	metricsEnabled bool
}

// HealthHandlersConfig configures the health check handlers.
// All checkers are optional; nil checkers are skipped.
type HealthHandlersConfig struct {
	DBChecker      HealthChecker
	BlobChecker    HealthChecker
	RedisChecker   HealthChecker
	MetricsEnabled bool
}

// NewHealthHandlers creates a new health check handler.
func NewHealthHandlers(config HealthHandlersConfig) *HealthHandlers {
	return &HealthHandlers{
		dbChecker:      config.DBChecker,
		blobChecker:    config.BlobChecker,
		redisChecker:   config.RedisChecker,
		metricsEnabled: config.MetricsEnabled,
	}
}

// HealthResponse represents the JSON response for health checks.
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Health handles GET /health (liveness probe).
// Returns 200 if the application is running and can serve requests.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Checks:    make(map[string]string),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	response.Checks["runtime"] = "ok"

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("failed to encode health response", "error", err)
	}
}

// Ready handles GET /ready (readiness probe).
// Checks external dependencies and returns 503 if any critical service is
// unavailable.
func (h *HealthHandlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	healthy := true

	if h.dbChecker != nil {
		if err := h.dbChecker.HealthCheck(ctx); err != nil {
			checks["database"] = "unavailable: " + err.Error()
			healthy = false
		} else {
			checks["database"] = "ok"
		}
	}

	if h.blobChecker != nil {
		if err := h.blobChecker.HealthCheck(ctx); err != nil {
			checks["blob_storage"] = "unavailable: " + err.Error()
			healthy = false
		} else {
			checks["blob_storage"] = "ok"
		}
	}

	if h.redisChecker != nil {
		// Redis only backs rate limiting, which fails open; an outage
		// degrades the service but does not make it unready.
		if err := h.redisChecker.HealthCheck(ctx); err != nil {
			checks["redis"] = "degraded: " + err.Error()
		} else {
			checks["redis"] = "ok"
		}
	}

	if h.metricsEnabled {
		checks["metrics"] = "ok"
	}

	status := "ready"
	httpStatus := http.StatusOK
	if !healthy {
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
		rctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		middleware.UpdateResponseContext(w, rctx)
	}

	response := HealthResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("failed to encode readiness response", "error", err)
	}
}
