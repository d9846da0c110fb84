package idempotency

import (
	"context"
	"log/slog"
	"time"
)

// DefaultExpiry is how long a stored record keeps answering replays.
const DefaultExpiry = 24 * time.Hour

// CleanupOldKeys removes records older than expiry and returns how many were
// deleted.
func CleanupOldKeys(ctx context.Context, repo Repository, expiry time.Duration, logger *slog.Logger) (int64, error) {
	if logger == nil {
		logger = slog.Default()
	}

	deleted, err := repo.DeleteOlderThan(ctx, expiry)
	if err != nil {
		logger.Error("failed to clean up idempotency records", "error", err)
		return 0, err
	}
	if deleted > 0 {
		logger.Info("cleaned up idempotency records", "deleted", deleted, "older_than", expiry)
	}
	return deleted, nil
}

// RunPeriodicCleanup runs CleanupOldKeys at the given interval until ctx is
// cancelled. It blocks and is meant to run in its own goroutine. A cleanup
// also runs immediately on start.
func RunPeriodicCleanup(ctx context.Context, repo Repository, interval, expiry time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if _, err := CleanupOldKeys(ctx, repo, expiry, logger); err != nil {
		logger.Error("initial idempotency cleanup failed", "error", err)
	}

	for {
		select {
		case <-ticker.C:
			if _, err := CleanupOldKeys(ctx, repo, expiry, logger); err != nil {
				logger.Error("periodic idempotency cleanup failed", "error", err)
			}
		case <-ctx.Done():
			logger.Info("stopping idempotency cleanup")
			return
		}
	}
}
