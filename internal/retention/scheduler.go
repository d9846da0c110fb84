package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs full retention sweeps on a cron schedule.
type Scheduler struct {
	engine   *Engine
	schedule string
	cron     *cron.Cron
	mu       sync.Mutex
	logger   *slog.Logger
	running  bool
}

// NewScheduler creates a scheduler that sweeps on the given cron expression,
// e.g. "0 */6 * * *" for every six hours. An empty schedule disables it.
func NewScheduler(engine *Engine, schedule string, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		engine:   engine,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger.With("component", "retention.scheduler"),
	}
}

// Start begins scheduled sweeping. It returns an error for an invalid cron
// expression and does nothing for an empty one. The scheduler stops when
// ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("sweep schedule not configured, skipping scheduler")
		return nil
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}

	_, err := s.cron.AddFunc(s.schedule, func() {
		s.runSweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("retention scheduler started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// RunNow performs one immediate sweep outside the schedule.
func (s *Scheduler) RunNow(ctx context.Context) {
	s.runSweep(ctx)
}

func (s *Scheduler) runSweep(ctx context.Context) {
	s.logger.Info("starting scheduled retention sweep")

	summary, err := s.engine.SweepAll(ctx, false)
	if err != nil {
		s.logger.Error("scheduled sweep failed", "error", err)
		return
	}

	if summary.RowsDeleted > 0 || len(summary.FailedUsers) > 0 {
		s.logger.Info("scheduled sweep completed",
			"users_swept", summary.UsersSwept,
			"rows_deleted", summary.RowsDeleted,
			"failed_users", len(summary.FailedUsers))
	} else {
		s.logger.Debug("scheduled sweep completed, nothing to delete",
			"users_swept", summary.UsersSwept)
	}
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil && s.running {
		ctx := s.cron.Stop()
		<-ctx.Done()
		s.running = false
		s.logger.Info("retention scheduler stopped")
	}
}

// IsRunning reports whether the scheduler has been started and not stopped.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled sweep time, or nil when idle.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
