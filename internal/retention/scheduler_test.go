package retention

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/onnwee/finance-governance/internal/store"
)

func newTestScheduler(t *testing.T, schedule string) *Scheduler {
	t.Helper()
	eng, _, _, _ := newTestEngine(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewScheduler(eng, schedule, logger)
}

func TestScheduler_EmptyScheduleIsNoop(t *testing.T) {
	s := newTestScheduler(t, "")

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if s.IsRunning() {
		t.Error("IsRunning() = true, want false for empty schedule")
	}
	if s.NextRun() != nil {
		t.Error("NextRun() != nil, want nil for empty schedule")
	}
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	s := newTestScheduler(t, "not a cron expression")

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("Start() error = nil, want invalid schedule error")
	}
	if s.IsRunning() {
		t.Error("IsRunning() = true after failed start")
	}
}

func TestScheduler_StartAndStop(t *testing.T) {
	s := newTestScheduler(t, "0 */6 * * *")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !s.IsRunning() {
		t.Fatal("IsRunning() = false after start")
	}

	next := s.NextRun()
	if next == nil {
		t.Fatal("NextRun() = nil while running")
	}
	if !next.After(time.Now()) {
		t.Errorf("NextRun() = %v, want a future time", next)
	}

	s.Stop()
	if s.IsRunning() {
		t.Error("IsRunning() = true after stop")
	}
}

func TestScheduler_StopViaContext(t *testing.T) {
	s := newTestScheduler(t, "0 */6 * * *")

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for s.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("scheduler still running after context cancellation")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestScheduler_RunNow(t *testing.T) {
	eng, st, _, _ := newTestEngine(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewScheduler(eng, "", logger)
	ctx := context.Background()

	insertAgedRow(t, st, store.TableConsentLogs, 400*24*time.Hour, map[string]any{
		"userId": "user-1", "consentType": "analytics",
	})

	s.RunNow(ctx)

	rows, err := st.ListOwnedByUser(ctx, store.TableConsentLogs, "user-1")
	if err != nil {
		t.Fatalf("ListOwnedByUser() error = %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("got %d consent logs after sweep, want 0", len(rows))
	}
}
