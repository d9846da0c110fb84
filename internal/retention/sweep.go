// Package retention implements the scheduled cleanup of aged governance
// rows. The sweep runs per user, merges that user's policy rows over the
// shipped defaults, and deletes row-by-row so a partial failure never aborts
// the rest of the pass.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/finance-governance/internal/audit"
	"github.com/onnwee/finance-governance/internal/batch"
	"github.com/onnwee/finance-governance/internal/blob"
	"github.com/onnwee/finance-governance/internal/deletion"
	"github.com/onnwee/finance-governance/internal/export"
	"github.com/onnwee/finance-governance/internal/jobs"
	"github.com/onnwee/finance-governance/internal/policy"
	"github.com/onnwee/finance-governance/internal/store"
)

// category binds one swept table to the policy key that governs it.
type category struct {
	table     string
	policyKey string
}

// categories lists the swept tables in execution order. The exports policy
// governs both export tables.
var categories = []category{
	{store.TableExportRequests, policy.KeyExports},
	{store.TableExportDownloads, policy.KeyExports},
	{store.TableDeletionJobs, policy.KeyDeletionJobs},
	{store.TableConsentLogs, policy.KeyConsentLogs},
	{store.TableFinanceAuditEvents, policy.KeyFinanceAuditEvents},
}

// CategoryResult reports one table's sweep outcome for one user.
type CategoryResult struct {
	Table         string `json:"table"`
	PolicyKey     string `json:"policyKey"`
	RetentionDays int    `json:"retentionDays"`
	Skipped       bool   `json:"skipped,omitempty"`
	Candidates    int    `json:"candidates"`
	Deleted       int    `json:"deleted"`
	BlobsDeleted  int    `json:"blobsDeleted,omitempty"`
}

// UserResult reports one user's sweep.
type UserResult struct {
	UserID     string           `json:"userId"`
	DryRun     bool             `json:"dryRun"`
	Categories []CategoryResult `json:"categories"`
	Batch      batch.Result     `json:"batch"`
	JobID      string           `json:"jobId,omitempty"`
}

// TotalCandidates sums candidate rows across categories.
func (r UserResult) TotalCandidates() int {
	n := 0
	for _, c := range r.Categories {
		n += c.Candidates
	}
	return n
}

// TotalDeleted sums deleted rows across categories.
func (r UserResult) TotalDeleted() int {
	n := 0
	for _, c := range r.Categories {
		n += c.Deleted
	}
	return n
}

// Summary reports a system-wide sweep.
type Summary struct {
	DryRun      bool         `json:"dryRun"`
	UsersSwept  int          `json:"usersSwept"`
	RowsDeleted int          `json:"rowsDeleted"`
	Users       []UserResult `json:"users"`
	FailedUsers []string     `json:"failedUsers,omitempty"`
}

// Engine executes retention sweeps. Sweeps for different users share no
// state and are safe to run concurrently.
type Engine struct {
	store     store.Store
	blobs     blob.Store
	audit     *audit.Writer
	policies  *policy.Service
	deletions *deletion.Service
	metrics   *jobs.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewEngine creates a sweep engine. Metrics may be nil.
func NewEngine(s store.Store, blobs blob.Store, auditWriter *audit.Writer, policies *policy.Service, deletions *deletion.Service, metrics *jobs.Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:     s,
		blobs:     blobs,
		audit:     auditWriter,
		policies:  policies,
		deletions: deletions,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// SetNow overrides the clock. Test hook.
func (e *Engine) SetNow(now func() time.Time) {
	e.now = now
}

// SweepAll sweeps every user referenced by any governance table. Per-user
// failures are logged and collected; the pass continues.
func (e *Engine) SweepAll(ctx context.Context, dryRun bool) (Summary, error) {
	userIDs, err := e.store.ListUserIDs(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list users for sweep: %w", err)
	}

	summary := Summary{DryRun: dryRun}
	for _, userID := range userIDs {
		result, err := e.SweepUser(ctx, userID, dryRun)
		if err != nil {
			e.logger.Error("user sweep failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()))
			summary.FailedUsers = append(summary.FailedUsers, userID)
			continue
		}
		summary.UsersSwept++
		summary.RowsDeleted += result.TotalDeleted()
		summary.Users = append(summary.Users, result)
	}
	return summary, nil
}

// SweepUser sweeps one user's aged rows. In-flight records are never swept;
// disabled policies skip their categories entirely. Dry-run computes and
// audits candidate counts without deleting or recording a job.
func (e *Engine) SweepUser(ctx context.Context, userID string, dryRun bool) (UserResult, error) {
	start := e.now()
	effective, err := e.policies.Effective(ctx, userID)
	if err != nil {
		e.metrics.IncJobsTotal(jobs.JobTypeRetentionSweep, jobs.StatusFailure)
		return UserResult{}, fmt.Errorf("load retention policies: %w", err)
	}

	result := UserResult{UserID: userID, DryRun: dryRun}
	now := e.now().UTC()

	for _, cat := range categories {
		pol := effective[cat.policyKey]
		cr := CategoryResult{
			Table:         cat.table,
			PolicyKey:     cat.policyKey,
			RetentionDays: pol.RetentionDays,
		}
		if !pol.Enabled {
			cr.Skipped = true
			result.Categories = append(result.Categories, cr)
			continue
		}

		rows, err := e.store.ListOwnedByUser(ctx, cat.table, userID)
		if err != nil {
			e.logger.Warn("skipping sweep category",
				slog.String("user_id", userID),
				slog.String("table", cat.table),
				slog.String("error", err.Error()))
			cr.Skipped = true
			result.Categories = append(result.Categories, cr)
			continue
		}

		cutoff := now.Add(-time.Duration(pol.RetentionDays) * 24 * time.Hour)
		for _, row := range rows {
			if !qualifies(cat.table, row, cutoff, now) {
				continue
			}
			cr.Candidates++
			if dryRun {
				continue
			}
			if e.deleteRow(ctx, cat.table, row, &result.Batch, &cr) {
				cr.Deleted++
			}
		}

		e.metrics.AddRowsDeleted(jobs.JobTypeRetentionSweep, cat.table, cr.Deleted)
		result.Categories = append(result.Categories, cr)
	}

	if !dryRun && result.TotalDeleted() > 0 {
		job, err := e.deletions.RecordCompleted(ctx, userID, deletion.TypeRetentionCleanup, "retention_sweep")
		if err != nil {
			e.logger.Warn("failed to record retention cleanup job",
				slog.String("user_id", userID),
				slog.String("error", err.Error()))
		} else {
			result.JobID = job.ID
		}
	}

	e.recordAudit(ctx, userID, result, effective)
	e.metrics.ObserveJobDuration(jobs.JobTypeRetentionSweep, e.now().Sub(start).Seconds())
	e.metrics.IncJobsTotal(jobs.JobTypeRetentionSweep, jobs.StatusSuccess)
	return result, nil
}

// qualifies applies the per-table candidate rule. Export downloads also
// qualify once past their expiry even before the age cutoff.
func qualifies(table string, row store.Row, cutoff, now time.Time) bool {
	aged := !createdAt(row).After(cutoff)

	switch table {
	case store.TableExportRequests:
		return aged && export.TerminalStatus(store.StringField(row.Doc, "status"))
	case store.TableExportDownloads:
		if aged {
			return true
		}
		expiresAt := store.TimeField(row.Doc, "expiresAt")
		return !expiresAt.IsZero() && now.After(expiresAt)
	case store.TableDeletionJobs:
		return aged && deletion.Terminal(store.StringField(row.Doc, "status"))
	default:
		return aged
	}
}

// createdAt reads the row's creation time, falling back to the legacy
// _creationTime field (epoch milliseconds) for rows migrated from the old
// document layout.
func createdAt(row store.Row) time.Time {
	if !row.CreatedAt.IsZero() {
		return row.CreatedAt
	}
	if ms, ok := row.Doc["_creationTime"].(float64); ok {
		return time.UnixMilli(int64(ms)).UTC()
	}
	return time.Time{}
}

// deleteRow removes one candidate, deleting any referenced blob first. A row
// that is already gone counts as deleted.
func (e *Engine) deleteRow(ctx context.Context, table string, row store.Row, b *batch.Result, cr *CategoryResult) bool {
	if table == store.TableExportDownloads {
		if storageID := store.StringField(row.Doc, "storageId"); storageID != "" {
			if err := e.blobs.Delete(ctx, storageID); err != nil {
				// Leave the row so the blob reference survives for a retry.
				b.Fail(table, row.ID, fmt.Errorf("delete blob %s: %w", storageID, err))
				return false
			}
			cr.BlobsDeleted++
		}
	}

	if err := e.store.Delete(ctx, table, row.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Removed by a concurrent actor; success-equivalent.
			b.Success()
			return true
		}
		b.Fail(table, row.ID, err)
		return false
	}
	b.Success()
	return true
}

func (e *Engine) recordAudit(ctx context.Context, userID string, result UserResult, effective map[string]policy.Policy) {
	candidates := make(map[string]int, len(result.Categories))
	deleted := make(map[string]int, len(result.Categories))
	blobs := 0
	for _, c := range result.Categories {
		candidates[c.Table] = c.Candidates
		deleted[c.Table] = c.Deleted
		blobs += c.BlobsDeleted
	}

	snapshot := make(map[string]map[string]any, len(effective))
	for key, pol := range effective {
		snapshot[key] = map[string]any{
			"retentionDays": pol.RetentionDays,
			"enabled":       pol.Enabled,
		}
	}

	e.audit.Record(ctx, audit.Event{
		UserID:     userID,
		Action:     audit.ActionRetentionSweep,
		EntityType: store.TableDeletionJobs,
		EntityID:   result.JobID,
		Metadata: audit.Snapshot(map[string]any{
			"dryRun":       result.DryRun,
			"candidates":   candidates,
			"deleted":      deleted,
			"blobsDeleted": blobs,
			"policies":     snapshot,
		}),
	})
}
