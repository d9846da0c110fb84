package deletion

import (
	"context"
	"errors"
	"testing"

	"github.com/onnwee/finance-governance/internal/audit"
	"github.com/onnwee/finance-governance/internal/store"
)

func newService(t *testing.T) *Service {
	t.Helper()
	s := store.NewMemoryStore()
	return NewService(s, audit.NewWriter(s, nil), nil)
}

func TestCreate_DefaultsToRequestedUserJob(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	job, err := svc.Create(ctx, "user-1", CreateInput{Scope: "transactions"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if job.Status != StatusRequested {
		t.Errorf("Status = %q, want %q", job.Status, StatusRequested)
	}
	if job.JobType != TypeUserRequested {
		t.Errorf("JobType = %q, want %q", job.JobType, TypeUserRequested)
	}
	if job.RequestedAt.IsZero() || job.ScheduledAt.IsZero() {
		t.Error("RequestedAt and ScheduledAt should be stamped")
	}
	if job.StartedAt != nil || job.CompletedAt != nil {
		t.Error("lifecycle timestamps must start unset")
	}
}

func TestCreate_RequiresScope(t *testing.T) {
	svc := newService(t)

	if _, err := svc.Create(context.Background(), "u", CreateInput{}); err == nil {
		t.Error("Create() without scope should fail")
	}
}

func TestUpdateStatus_WalksForwardAndStampsOnce(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	job, err := svc.Create(ctx, "user-1", CreateInput{Scope: "all"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	running, err := svc.UpdateStatus(ctx, "user-1", job.ID, StatusRunning)
	if err != nil {
		t.Fatalf("UpdateStatus(running) error = %v", err)
	}
	if running.StartedAt == nil {
		t.Fatal("running should stamp startedAt")
	}

	completed, err := svc.UpdateStatus(ctx, "user-1", job.ID, StatusCompleted)
	if err != nil {
		t.Fatalf("UpdateStatus(completed) error = %v", err)
	}
	if completed.CompletedAt == nil {
		t.Fatal("completed should stamp completedAt")
	}
	if !completed.StartedAt.Equal(*running.StartedAt) {
		t.Error("startedAt must not be rewritten by later transitions")
	}
}

func TestUpdateStatus_RejectsTerminalEscape(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	job, err := svc.Create(ctx, "user-1", CreateInput{Scope: "all"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, "user-1", job.ID, StatusCancelled); err != nil {
		t.Fatalf("UpdateStatus(cancelled) error = %v", err)
	}

	for _, target := range []string{StatusRequested, StatusRunning, StatusCompleted} {
		if _, err := svc.UpdateStatus(ctx, "user-1", job.ID, target); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("UpdateStatus(cancelled -> %s) error = %v, want ErrInvalidTransition", target, err)
		}
	}
}

func TestUpdateStatus_RejectsBackwardsAndUnknown(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	job, err := svc.Create(ctx, "user-1", CreateInput{Scope: "all"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, "user-1", job.ID, StatusScheduled); err != nil {
		t.Fatalf("UpdateStatus(scheduled) error = %v", err)
	}

	if _, err := svc.UpdateStatus(ctx, "user-1", job.ID, StatusRequested); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("backwards transition error = %v, want ErrInvalidTransition", err)
	}
	if _, err := svc.UpdateStatus(ctx, "user-1", job.ID, "paused"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("unknown status error = %v, want ErrInvalidStatus", err)
	}
}

func TestUpdateStatus_ScopedToOwner(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	job, err := svc.Create(ctx, "owner", CreateInput{Scope: "all"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if _, err := svc.UpdateStatus(ctx, "intruder", job.ID, StatusRunning); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("foreign update error = %v, want ErrNotFound", err)
	}
}

func TestRecordCompleted(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	job, err := svc.RecordCompleted(ctx, "user-1", TypeRetentionCleanup, "retention")
	if err != nil {
		t.Fatalf("RecordCompleted() error = %v", err)
	}
	if job.Status != StatusCompleted {
		t.Errorf("Status = %q, want %q", job.Status, StatusCompleted)
	}
	if job.CompletedAt == nil || job.StartedAt == nil {
		t.Error("completed record should carry lifecycle timestamps")
	}

	jobs, err := svc.List(ctx, "user-1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(jobs) != 1 {
		t.Errorf("List() returned %d jobs, want 1", len(jobs))
	}
}
