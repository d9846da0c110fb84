// Package main is the entry point for the retention sweeper worker. It runs
// full retention sweeps on a cron schedule and exposes health and metrics
// endpoints for probes.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/finance-governance/internal/audit"
	"github.com/onnwee/finance-governance/internal/blob"
	"github.com/onnwee/finance-governance/internal/config"
	"github.com/onnwee/finance-governance/internal/db"
	"github.com/onnwee/finance-governance/internal/deletion"
	"github.com/onnwee/finance-governance/internal/idempotency"
	"github.com/onnwee/finance-governance/internal/jobs"
	"github.com/onnwee/finance-governance/internal/middleware"
	"github.com/onnwee/finance-governance/internal/policy"
	"github.com/onnwee/finance-governance/internal/retention"
	"github.com/onnwee/finance-governance/internal/store"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configFile := flag.String("config", "", "path to optional YAML config file")
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	if *help {
		fmt.Println("Governance Retention Sweeper")
		fmt.Println()
		fmt.Println("Usage: sweeper [options]")
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	var blobs blob.Store
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
	} else {
		blobs = blob.NewMemoryStore()
		logger.Warn("no object storage configured, orphaned artifacts cannot be removed")
	}

	registry := prometheus.NewRegistry()
	jobMetrics := jobs.NewMetrics()
	if err := jobMetrics.Register(registry); err != nil {
		logger.Error("failed to register job metrics", "error", err)
		os.Exit(1)
	}

	auditWriter := audit.NewWriter(st, logger)
	policies := policy.NewService(st, auditWriter, logger)
	deletions := deletion.NewService(st, auditWriter, logger)
	engine := retention.NewEngine(st, blobs, auditWriter, policies, deletions, jobMetrics, logger)

	if *once {
		summary, err := engine.SweepAll(ctx, false)
		if err != nil {
			logger.Error("sweep failed", "error", err)
			os.Exit(1)
		}
		logger.Info("sweep completed",
			"users_swept", summary.UsersSwept,
			"rows_deleted", summary.RowsDeleted,
			"failed_users", len(summary.FailedUsers))
		return
	}

	scheduler := retention.NewScheduler(engine, cfg.SweepSchedule, logger)
	if err := scheduler.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	if cfg.SweepOnStart {
		scheduler.RunNow(ctx)
	}

	// Expired idempotency records are purged here rather than in the API
	// process so only one instance does the scanning.
	idemRepo := idempotency.NewStoreRepository(st, logger)
	go idempotency.RunPeriodicCleanup(ctx, idemRepo, time.Hour, idempotency.DefaultExpiry, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]any{"status": "healthy"}
		if next := scheduler.NextRun(); next != nil {
			status["next_sweep"] = next.UTC().Format(time.RFC3339)
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status); err != nil {
			logger.Error("failed to write health response", "error", err)
		}
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      middleware.RequestID(middleware.Logging(logger)(mux)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting sweeper", "port", cfg.Port, "schedule", cfg.SweepSchedule)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down sweeper...")
	cancel()
	scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("sweeper stopped")
}
