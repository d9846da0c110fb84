// Package erasure implements full account erasure. The workflow is
// two-phase: a dry run reports candidate counts, and a confirmed run deletes
// blobs first, then user-owned rows, then owner-key rows. Global reference
// tables are never touched.
package erasure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/finance-governance/internal/audit"
	"github.com/onnwee/finance-governance/internal/batch"
	"github.com/onnwee/finance-governance/internal/blob"
	"github.com/onnwee/finance-governance/internal/jobs"
	"github.com/onnwee/finance-governance/internal/store"
)

// ConfirmationPhrase must be supplied verbatim for a non-dry-run erasure.
const ConfirmationPhrase = "permanently delete my account and data"

// ErrConfirmationMismatch is returned when a confirmed erasure is requested
// without the exact phrase. Nothing is touched.
var ErrConfirmationMismatch = errors.New("erasure confirmation phrase mismatch")

// Input carries one erasure invocation. DryRun defaults to true when
// omitted.
type Input struct {
	DryRun       *bool  `json:"dryRun,omitempty"`
	Confirmation string `json:"confirmation,omitempty"`
}

// TableResult reports candidates and actual deletions for one table, so a
// caller can detect partial completion.
type TableResult struct {
	Table      string `json:"table"`
	Candidates int    `json:"candidates"`
	Deleted    int    `json:"deleted"`
}

// Result is the erasure report. UserTables and OwnerKeyTables are in catalog
// order.
type Result struct {
	UserID         string        `json:"userId"`
	OwnerKey       string        `json:"ownerKey"`
	DryRun         bool          `json:"dryRun"`
	UserTables     []TableResult `json:"userTables"`
	OwnerKeyTables []TableResult `json:"ownerKeyTables"`
	BlobCandidates int           `json:"blobCandidates"`
	BlobsDeleted   int           `json:"blobsDeleted"`
	Batch          batch.Result  `json:"batch"`
}

// TotalCandidates sums candidate rows across both table groups.
func (r Result) TotalCandidates() int {
	n := 0
	for _, t := range r.UserTables {
		n += t.Candidates
	}
	for _, t := range r.OwnerKeyTables {
		n += t.Candidates
	}
	return n
}

// TotalDeleted sums deleted rows across both table groups.
func (r Result) TotalDeleted() int {
	n := 0
	for _, t := range r.UserTables {
		n += t.Deleted
	}
	for _, t := range r.OwnerKeyTables {
		n += t.Deleted
	}
	return n
}

// candidates is the row set collected up front. Collecting before the
// receipt is written keeps the receipt itself out of the deletion pass.
type candidates struct {
	user     map[string][]store.Row
	ownerKey map[string][]store.Row
	blobIDs  []string
}

// Service runs account erasures.
type Service struct {
	store   store.Store
	blobs   blob.Store
	audit   *audit.Writer
	metrics *jobs.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates an erasure service. Metrics may be nil.
func NewService(s store.Store, blobs blob.Store, auditWriter *audit.Writer, metrics *jobs.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   s,
		blobs:   blobs,
		audit:   auditWriter,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Erase runs one erasure. A dry run only counts; a confirmed run requires
// the exact confirmation phrase and deletes blobs, user-owned rows, then
// owner-key rows, tolerating and counting individual failures.
func (s *Service) Erase(ctx context.Context, userID string, in Input) (Result, error) {
	dryRun := true
	if in.DryRun != nil {
		dryRun = *in.DryRun
	}
	if !dryRun && in.Confirmation != ConfirmationPhrase {
		return Result{}, ErrConfirmationMismatch
	}

	start := s.now()
	ownerKey := store.OwnerKey(userID)

	cands, err := s.collect(ctx, userID, ownerKey)
	if err != nil {
		s.metrics.IncJobsTotal(jobs.JobTypeAccountErasure, jobs.StatusFailure)
		return Result{}, err
	}

	result := Result{
		UserID:         userID,
		OwnerKey:       ownerKey,
		DryRun:         dryRun,
		BlobCandidates: len(cands.blobIDs),
	}
	for _, table := range store.TablesOwnedBy(store.OwnedByUser) {
		result.UserTables = append(result.UserTables, TableResult{
			Table:      table,
			Candidates: len(cands.user[table]),
		})
	}
	for _, table := range store.TablesOwnedBy(store.OwnedByOwnerKey) {
		result.OwnerKeyTables = append(result.OwnerKeyTables, TableResult{
			Table:      table,
			Candidates: len(cands.ownerKey[table]),
		})
	}

	if dryRun {
		s.metrics.IncJobsTotal(jobs.JobTypeAccountErasure, jobs.StatusSuccess)
		return result, nil
	}

	// The receipt is the crash trace: it survives an interrupted run because
	// it was written after candidate collection, and is removed on success.
	receiptID := s.audit.Record(ctx, audit.Event{
		UserID:     userID,
		Action:     audit.ActionAccountErasure,
		EntityType: "user",
		EntityID:   userID,
		Metadata: audit.Snapshot(map[string]any{
			"candidates":     result.TotalCandidates(),
			"blobCandidates": result.BlobCandidates,
			"startedAt":      start.UTC().Format(time.RFC3339Nano),
		}),
	})

	for _, storageID := range cands.blobIDs {
		if err := s.blobs.Delete(ctx, storageID); err != nil {
			result.Batch.Fail(store.TableExportDownloads, storageID, fmt.Errorf("delete blob: %w", err))
			continue
		}
		result.BlobsDeleted++
	}

	for i, table := range store.TablesOwnedBy(store.OwnedByUser) {
		result.UserTables[i].Deleted = s.deleteRows(ctx, table, cands.user[table], &result.Batch)
	}
	for i, table := range store.TablesOwnedBy(store.OwnedByOwnerKey) {
		result.OwnerKeyTables[i].Deleted = s.deleteRows(ctx, table, cands.ownerKey[table], &result.Batch)
	}

	s.audit.Discard(ctx, receiptID)

	s.metrics.ObserveJobDuration(jobs.JobTypeAccountErasure, s.now().Sub(start).Seconds())
	s.metrics.IncJobsTotal(jobs.JobTypeAccountErasure, jobs.StatusSuccess)
	s.logger.Info("account erased",
		slog.String("user_id", userID),
		slog.Int("rows_deleted", result.TotalDeleted()),
		slog.Int("blobs_deleted", result.BlobsDeleted),
		slog.Int("failures", len(result.Batch.Failed)))
	return result, nil
}

func (s *Service) collect(ctx context.Context, userID, ownerKey string) (candidates, error) {
	cands := candidates{
		user:     make(map[string][]store.Row),
		ownerKey: make(map[string][]store.Row),
	}

	for _, table := range store.TablesOwnedBy(store.OwnedByUser) {
		rows, err := s.store.ListOwnedByUser(ctx, table, userID)
		if err != nil {
			return candidates{}, fmt.Errorf("collect %s rows: %w", table, err)
		}
		cands.user[table] = rows
		if table == store.TableExportDownloads {
			for _, row := range rows {
				if storageID := store.StringField(row.Doc, "storageId"); storageID != "" {
					cands.blobIDs = append(cands.blobIDs, storageID)
				}
			}
		}
	}
	for _, table := range store.TablesOwnedBy(store.OwnedByOwnerKey) {
		rows, err := s.store.ListByOwnerKey(ctx, table, ownerKey)
		if err != nil {
			return candidates{}, fmt.Errorf("collect %s rows: %w", table, err)
		}
		cands.ownerKey[table] = rows
	}
	return cands, nil
}

// deleteRows removes a table's candidates one by one. A row that is already
// gone counts as deleted.
func (s *Service) deleteRows(ctx context.Context, table string, rows []store.Row, b *batch.Result) int {
	deleted := 0
	for _, row := range rows {
		if err := s.store.Delete(ctx, table, row.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				b.Success()
				deleted++
				continue
			}
			b.Fail(table, row.ID, err)
			continue
		}
		b.Success()
		deleted++
	}
	return deleted
}
