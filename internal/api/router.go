package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig carries the handler groups and cross-cutting dependencies
// the router wires together.
type RouterConfig struct {
	Exports   *ExportHandlers
	Downloads *DownloadHandlers
	Consent   *ConsentHandlers
	Retention *RetentionHandlers
	Deletion  *DeletionJobHandlers
	Erasure   *ErasureHandlers
	Health    *HealthHandlers

	// Auth wraps every /v1 route except the tokened download endpoint.
	Auth func(http.Handler) http.Handler

	// RateLimits, keyed per route group. Nil disables limiting for that group.
	GlobalLimiter  func(http.Handler) http.Handler
	ExportLimiter  func(http.Handler) http.Handler
	ErasureLimiter func(http.Handler) http.Handler

	// Idempotency wraps the side-effecting POST routes. It runs inside auth
	// because stored keys are scoped to the authenticated user. Nil disables
	// replay protection.
	Idempotency func(http.Handler) http.Handler

	// MetricsRegistry backs the /metrics endpoint. Nil uses the default
	// registry.
	MetricsRegistry *prometheus.Registry
}

// NewRouter builds the service mux. Route patterns use method matching, so
// a wrong method on a known path yields 405 from the mux itself.
func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	identity := func(next http.Handler) http.Handler { return next }
	auth := cfg.Auth
	if auth == nil {
		auth = identity
	}
	global := cfg.GlobalLimiter
	if global == nil {
		global = identity
	}
	exportLimit := cfg.ExportLimiter
	if exportLimit == nil {
		exportLimit = identity
	}
	erasureLimit := cfg.ErasureLimiter
	if erasureLimit == nil {
		erasureLimit = identity
	}

	idem := cfg.Idempotency
	if idem == nil {
		idem = identity
	}

	authed := func(h http.HandlerFunc) http.Handler {
		return auth(global(h))
	}
	authedExport := func(h http.HandlerFunc) http.Handler {
		return auth(exportLimit(h))
	}
	authedIdemExport := func(h http.HandlerFunc) http.Handler {
		return auth(idem(exportLimit(h)))
	}
	authedIdemErasure := func(h http.HandlerFunc) http.Handler {
		return auth(idem(erasureLimit(h)))
	}

	// Export requests
	mux.Handle("POST /v1/exports", authedIdemExport(cfg.Exports.CreateExport))
	mux.Handle("GET /v1/exports", authed(cfg.Exports.ListExports))
	mux.Handle("GET /v1/exports/{id}", authed(cfg.Exports.GetExport))
	mux.Handle("POST /v1/exports/{id}/generate", authedExport(cfg.Exports.GenerateExport))
	mux.Handle("POST /v1/exports/{id}/cancel", authed(cfg.Exports.CancelExport))
	mux.Handle("GET /v1/exports/{id}/download", authed(cfg.Downloads.GetDownload))

	// Artifact download: token-gated, deliberately outside auth
	mux.Handle("GET /v1/downloads/{id}", global(http.HandlerFunc(cfg.Downloads.Download)))

	// Consent
	mux.Handle("GET /v1/consent", authed(cfg.Consent.GetConsent))
	mux.Handle("PUT /v1/consent", authed(cfg.Consent.UpdateConsent))
	mux.Handle("GET /v1/consent/logs", authed(cfg.Consent.ListConsentLogs))

	// Retention
	mux.Handle("GET /v1/retention/policies", authed(cfg.Retention.EffectivePolicies))
	mux.Handle("PUT /v1/retention/policies", authed(cfg.Retention.UpsertPolicy))
	mux.Handle("POST /v1/retention/sweep", authed(cfg.Retention.Sweep))

	// Deletion jobs
	mux.Handle("POST /v1/deletion-jobs", authed(cfg.Deletion.CreateJob))
	mux.Handle("GET /v1/deletion-jobs", authed(cfg.Deletion.ListJobs))
	mux.Handle("GET /v1/deletion-jobs/{id}", authed(cfg.Deletion.GetJob))
	mux.Handle("POST /v1/deletion-jobs/{id}/status", authed(cfg.Deletion.UpdateJobStatus))

	// Account erasure
	mux.Handle("POST /v1/erasure", authedIdemErasure(cfg.Erasure.Erase))

	// Probes and metrics, unauthenticated
	mux.HandleFunc("GET /health", cfg.Health.Health)
	mux.HandleFunc("GET /ready", cfg.Health.Ready)

	if cfg.MetricsRegistry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsRegistry, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return mux
}
