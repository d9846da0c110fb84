// Package deletion tracks deletion jobs: user-requested deletions and the
// completed job records the retention sweep leaves behind. Jobs only ever
// move forward through their status graph.
package deletion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/finance-governance/internal/audit"
	"github.com/onnwee/finance-governance/internal/store"
)

// Job statuses.
const (
	StatusRequested = "requested"
	StatusScheduled = "scheduled"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Job types.
const (
	TypeUserRequested    = "user_requested"
	TypeRetentionCleanup = "retention_cleanup"
)

// transitions is the forward-only status graph. Terminal statuses have no
// outgoing edges; nothing resurrects them.
var transitions = map[string][]string{
	StatusRequested: {StatusScheduled, StatusRunning, StatusCancelled},
	StatusScheduled: {StatusRunning, StatusCancelled},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled},
}

var (
	// ErrInvalidTransition is returned when a status update would move a
	// job backwards or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid deletion job status transition")

	// ErrInvalidStatus is returned for status values outside the graph.
	ErrInvalidStatus = errors.New("unknown deletion job status")

	// ErrInvalidJobType is returned for job types outside the known set.
	ErrInvalidJobType = errors.New("unknown deletion job type")

	// ErrScopeRequired is returned when a job is created without a scope.
	ErrScopeRequired = errors.New("deletion job scope is required")
)

// Job is one deletion job record.
type Job struct {
	ID               string     `json:"id,omitempty"`
	UserID           string     `json:"userId"`
	JobType          string     `json:"jobType"`
	Scope            string     `json:"scope"`
	TargetEntityType string     `json:"targetEntityType,omitempty"`
	TargetEntityID   string     `json:"targetEntityId,omitempty"`
	Status           string     `json:"status"`
	DryRun           bool       `json:"dryRun"`
	RequestedAt      time.Time  `json:"requestedAt,omitempty"`
	ScheduledAt      time.Time  `json:"scheduledAt,omitempty"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	CancelledAt      *time.Time `json:"cancelledAt,omitempty"`
	FailedAt         *time.Time `json:"failedAt,omitempty"`
}

// Terminal reports whether a status has no outgoing transitions.
func Terminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed || status == StatusCancelled
}

// CreateInput carries a new user-requested deletion job.
type CreateInput struct {
	JobType          string    `json:"jobType,omitempty"`
	Scope            string    `json:"scope"`
	TargetEntityType string    `json:"targetEntityType,omitempty"`
	TargetEntityID   string    `json:"targetEntityId,omitempty"`
	DryRun           bool      `json:"dryRun"`
	ScheduledAt      time.Time `json:"scheduledAt,omitempty"`
}

// Service stores and transitions deletion jobs.
type Service struct {
	store  store.Store
	audit  *audit.Writer
	logger *slog.Logger
}

// NewService creates a new deletion job service.
func NewService(s store.Store, auditWriter *audit.Writer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, audit: auditWriter, logger: logger}
}

// Create records a new job in requested status.
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (Job, error) {
	if in.JobType == "" {
		in.JobType = TypeUserRequested
	}
	if in.JobType != TypeUserRequested && in.JobType != TypeRetentionCleanup {
		return Job{}, fmt.Errorf("%w: %s", ErrInvalidJobType, in.JobType)
	}
	if in.Scope == "" {
		return Job{}, ErrScopeRequired
	}

	now := time.Now().UTC()
	scheduledAt := in.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = now
	}

	job := Job{
		UserID:           userID,
		JobType:          in.JobType,
		Scope:            in.Scope,
		TargetEntityType: in.TargetEntityType,
		TargetEntityID:   in.TargetEntityID,
		Status:           StatusRequested,
		DryRun:           in.DryRun,
		RequestedAt:      now,
		ScheduledAt:      scheduledAt,
	}
	return s.insert(ctx, job)
}

// RecordCompleted inserts a job that is already completed. The retention
// sweep uses this to leave a durable record of each non-dry-run cleanup.
func (s *Service) RecordCompleted(ctx context.Context, userID, jobType, scope string) (Job, error) {
	now := time.Now().UTC()
	job := Job{
		UserID:      userID,
		JobType:     jobType,
		Scope:       scope,
		Status:      StatusCompleted,
		RequestedAt: now,
		ScheduledAt: now,
		StartedAt:   &now,
		CompletedAt: &now,
	}
	return s.insert(ctx, job)
}

// Get retrieves a job owned by the user.
func (s *Service) Get(ctx context.Context, userID, jobID string) (Job, error) {
	row, err := s.store.GetOwned(ctx, store.TableDeletionJobs, jobID, userID)
	if err != nil {
		return Job{}, err
	}
	return decode(row)
}

// List returns the user's jobs, oldest first.
func (s *Service) List(ctx context.Context, userID string) ([]Job, error) {
	rows, err := s.store.ListOwnedByUser(ctx, store.TableDeletionJobs, userID)
	if err != nil {
		return nil, fmt.Errorf("list deletion jobs: %w", err)
	}
	out := make([]Job, 0, len(rows))
	for _, row := range rows {
		job, err := decode(row)
		if err != nil {
			s.logger.Warn("skipping undecodable deletion job",
				slog.String("id", row.ID),
				slog.String("error", err.Error()))
			continue
		}
		out = append(out, job)
	}
	return out, nil
}

// UpdateStatus moves a job to the target status, stamping the matching
// lifecycle timestamp exactly once.
func (s *Service) UpdateStatus(ctx context.Context, userID, jobID, status string) (Job, error) {
	if !validStatus(status) {
		return Job{}, fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}

	before, err := s.Get(ctx, userID, jobID)
	if err != nil {
		return Job{}, err
	}
	if !allowed(before.Status, status) {
		return Job{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, before.Status, status)
	}

	fields := map[string]any{"status": status}
	now := time.Now().UTC()
	stamp := now.Format(time.RFC3339Nano)
	switch status {
	case StatusRunning:
		if before.StartedAt == nil {
			fields["startedAt"] = stamp
		}
	case StatusCompleted:
		if before.CompletedAt == nil {
			fields["completedAt"] = stamp
		}
	case StatusCancelled:
		if before.CancelledAt == nil {
			fields["cancelledAt"] = stamp
		}
	case StatusFailed:
		if before.FailedAt == nil {
			fields["failedAt"] = stamp
		}
	}

	row, err := s.store.Patch(ctx, store.TableDeletionJobs, jobID, fields)
	if err != nil {
		return Job{}, fmt.Errorf("update deletion job: %w", err)
	}
	after, err := decode(row)
	if err != nil {
		return Job{}, err
	}

	s.audit.Record(ctx, audit.Event{
		UserID:     userID,
		Action:     audit.ActionDeletionJobUpdated,
		EntityType: store.TableDeletionJobs,
		EntityID:   jobID,
		Before:     audit.Snapshot(before),
		After:      audit.Snapshot(after),
	})
	return after, nil
}

func (s *Service) insert(ctx context.Context, job Job) (Job, error) {
	doc, err := store.Encode(job)
	if err != nil {
		return Job{}, err
	}
	row, err := s.store.Insert(ctx, store.TableDeletionJobs, doc)
	if err != nil {
		return Job{}, fmt.Errorf("insert deletion job: %w", err)
	}
	job.ID = row.ID
	return job, nil
}

func decode(row store.Row) (Job, error) {
	var job Job
	if err := store.Decode(row.Doc, &job); err != nil {
		return Job{}, err
	}
	job.ID = row.ID
	return job, nil
}

func validStatus(status string) bool {
	switch status {
	case StatusRequested, StatusScheduled, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func allowed(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
