// Package main is the entry point for the governance API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/finance-governance/internal/api"
	"github.com/onnwee/finance-governance/internal/audit"
	"github.com/onnwee/finance-governance/internal/auth"
	"github.com/onnwee/finance-governance/internal/blob"
	"github.com/onnwee/finance-governance/internal/config"
	"github.com/onnwee/finance-governance/internal/consent"
	"github.com/onnwee/finance-governance/internal/db"
	"github.com/onnwee/finance-governance/internal/deletion"
	"github.com/onnwee/finance-governance/internal/erasure"
	"github.com/onnwee/finance-governance/internal/export"
	"github.com/onnwee/finance-governance/internal/health"
	"github.com/onnwee/finance-governance/internal/idempotency"
	"github.com/onnwee/finance-governance/internal/jobs"
	"github.com/onnwee/finance-governance/internal/middleware"
	"github.com/onnwee/finance-governance/internal/policy"
	"github.com/onnwee/finance-governance/internal/retention"
	"github.com/onnwee/finance-governance/internal/store"
	"github.com/onnwee/finance-governance/internal/tracing"
)

const serviceName = "governance-api"

func main() {
	help := flag.Bool("help", false, "display help message")
	configFile := flag.String("config", "", "path to optional YAML config file")
	flag.Parse()

	if *help {
		fmt.Println("Governance API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configFile)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config error:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	summary := cfg.LogSummary()
	attrs := make([]any, 0, len(summary)*2)
	for k, v := range summary {
		attrs = append(attrs, k, v)
	}
	logger.Info("configuration loaded", attrs...)

	ctx := context.Background()

	// Tracing (no-op unless enabled)
	tracer, err := tracing.NewProvider(tracing.Config{
		ServiceName:  serviceName,
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplingRate: cfg.TracingSampleRate,
		InsecureMode: cfg.Env != "production",
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shut down tracing", "error", err)
		}
	}()

	// Database
	sqlDB, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := sqlDB.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()
	st := store.NewPostgresStore(sqlDB, logger)

	// Blob storage: R2 when configured, in-memory otherwise
	var blobs blob.Store
	var blobChecker api.HealthChecker
	if cfg.R2BucketName != "" {
		s3Store, err := blob.NewS3Store(blob.S3Config{
			BucketName:      cfg.R2BucketName,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			Endpoint:        cfg.R2Endpoint,
		})
		if err != nil {
			logger.Error("failed to initialize blob store", "error", err)
			os.Exit(1)
		}
		blobs = s3Store
		blobChecker = health.NewBlobStoreChecker(s3Store.Client(), s3Store.Bucket())
		logger.Info("blob store initialized", "bucket", cfg.R2BucketName)
	} else {
		blobs = blob.NewMemoryStore()
		logger.Warn("no object storage configured, export artifacts are held in memory")
	}

	// Redis backs rate limiting when available
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opt)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error("failed to close redis client", "error", err)
			}
		}()
	}

	// Metrics
	registry := prometheus.NewRegistry()
	jobMetrics := jobs.NewMetrics()
	if err := jobMetrics.Register(registry); err != nil {
		logger.Error("failed to register job metrics", "error", err)
		os.Exit(1)
	}
	httpMetrics := middleware.NewMetrics()
	if err := httpMetrics.Register(registry); err != nil {
		logger.Error("failed to register http metrics", "error", err)
		os.Exit(1)
	}

	// Services
	auditWriter := audit.NewWriter(st, logger)
	exports := export.NewService(st, blobs, auditWriter, jobMetrics, logger)
	consents := consent.NewService(st, auditWriter, logger)
	policies := policy.NewService(st, auditWriter, logger)
	deletions := deletion.NewService(st, auditWriter, logger)
	erasures := erasure.NewService(st, blobs, auditWriter, jobMetrics, logger)
	engine := retention.NewEngine(st, blobs, auditWriter, policies, deletions, jobMetrics, logger)

	verifier := auth.NewVerifierWithRotation(cfg.JWTSecret, cfg.JWTSecretPrevious)

	idemRepo := idempotency.NewStoreRepository(st, logger)

	// Rate limiting: redis-backed when available, per-instance otherwise
	var limitStore middleware.RateLimitStore
	if redisClient != nil {
		limitStore = middleware.NewRedisRateLimitStore(redisClient, logger, httpMetrics)
		logger.Info("rate limiting backed by redis")
	} else {
		limitStore = middleware.NewInMemoryRateLimitStore()
	}

	var redisChecker api.HealthChecker
	if redisClient != nil {
		redisChecker = health.NewRedisChecker(redisClient)
	}

	router := api.NewRouter(api.RouterConfig{
		Exports:   api.NewExportHandlers(exports),
		Downloads: api.NewDownloadHandlers(exports, blobs),
		Consent:   api.NewConsentHandlers(consents),
		Retention: api.NewRetentionHandlers(policies, engine),
		Deletion:  api.NewDeletionJobHandlers(deletions),
		Erasure:   api.NewErasureHandlers(erasures),
		Health: api.NewHealthHandlers(api.HealthHandlersConfig{
			DBChecker:      health.NewDBChecker(sqlDB),
			BlobChecker:    blobChecker,
			RedisChecker:   redisChecker,
			MetricsEnabled: true,
		}),
		Auth: middleware.Auth(verifier),
		Idempotency: middleware.Idempotency(idemRepo, map[string]bool{
			"/v1/exports": true,
			"/v1/erasure": true,
		}),
		GlobalLimiter:   middleware.RateLimiter(limitStore, middleware.DefaultGlobalLimit, middleware.UserKeyFunc, httpMetrics),
		ExportLimiter:   middleware.RateLimiter(limitStore, middleware.DefaultExportLimit, middleware.UserKeyFunc, httpMetrics),
		ErasureLimiter:  middleware.RateLimiter(limitStore, middleware.DefaultErasureLimit, middleware.UserKeyFunc, httpMetrics),
		MetricsRegistry: registry,
	})

	// Outer middleware: RequestID -> Logging -> Tracing -> HTTPMetrics
	handler := middleware.RequestID(
		middleware.Logging(logger)(
			middleware.Tracing(serviceName)(
				middleware.HTTPMetrics(httpMetrics)(router))))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
