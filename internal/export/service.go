package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/finance-governance/internal/audit"
	"github.com/onnwee/finance-governance/internal/blob"
	"github.com/onnwee/finance-governance/internal/jobs"
	"github.com/onnwee/finance-governance/internal/store"
)

// Service drives the export workflow: request, generate, cancel, and the
// read side. Each generation run is an independent unit of work; the status
// guard on Generate prevents double-processing of the same request.
type Service struct {
	store   store.Store
	blobs   blob.Store
	audit   *audit.Writer
	metrics *jobs.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates a new export service. Metrics may be nil.
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

// SetNow overrides the clock. Test hook.
func (s *Service) SetNow(now func() time.Time) {
	s.now = now
}

// RequestInput carries a new export request. IncludeAuditTrail defaults to
// true when omitted; IncludeDeletedArtifacts defaults to false.
type RequestInput struct {
	ExportKind              string `json:"exportKind,omitempty"`
	Format                  string `json:"format"`
	Scope                   string `json:"scope"`
	IncludeAuditTrail       *bool  `json:"includeAuditTrail,omitempty"`
	IncludeDeletedArtifacts bool   `json:"includeDeletedArtifacts,omitempty"`
}

// Request creates a new export request in status requested.
func (s *Service) Request(ctx context.Context, userID string, in RequestInput) (Request, error) {
	if !ValidKind(in.ExportKind) {
		return Request{}, fmt.Errorf("%w: %s", ErrInvalidKind, in.ExportKind)
	}
	if !ValidScope(in.Scope) {
		return Request{}, fmt.Errorf("%w: %s", ErrInvalidScope, in.Scope)
	}
	if !ValidFormat(in.Format) {
		return Request{}, fmt.Errorf("%w: %s", ErrInvalidFormat, in.Format)
	}

	includeAudit := true
	if in.IncludeAuditTrail != nil {
		includeAudit = *in.IncludeAuditTrail
	}

	req := Request{
		UserID:                  userID,
		ExportKind:              in.ExportKind,
		Format:                  in.Format,
		Scope:                   in.Scope,
		Status:                  StatusRequested,
		IncludeAuditTrail:       includeAudit,
		IncludeDeletedArtifacts: in.IncludeDeletedArtifacts,
		RequestedAt:             s.now().UTC(),
	}
	doc, err := store.Encode(req)
	if err != nil {
		return Request{}, err
	}
	row, err := s.store.Insert(ctx, store.TableExportRequests, doc)
	if err != nil {
		return Request{}, fmt.Errorf("insert export request: %w", err)
	}
	req.ID = row.ID
	req.UpdatedAt = row.UpdatedAt

	s.audit.Record(ctx, audit.Event{
		UserID:     userID,
		Action:     audit.ActionExportRequested,
		EntityType: store.TableExportRequests,
		EntityID:   req.ID,
		After:      audit.Snapshot(req),
	})
	return req, nil
}

// Get returns one of the caller's export requests.
func (s *Service) Get(ctx context.Context, userID, id string) (Request, error) {
	row, err := s.store.GetOwned(ctx, store.TableExportRequests, id, userID)
	if err != nil {
		return Request{}, err
	}
	return decodeRequest(row)
}

// List returns all of the caller's export requests in creation order.
func (s *Service) List(ctx context.Context, userID string) ([]Request, error) {
	rows, err := s.store.ListOwnedByUser(ctx, store.TableExportRequests, userID)
	if err != nil {
		return nil, fmt.Errorf("list export requests: %w", err)
	}
	out := make([]Request, 0, len(rows))
	for _, row := range rows {
		req, err := decodeRequest(row)
		if err != nil {
			s.logger.Warn("skipping undecodable export request",
				slog.String("id", row.ID),
				slog.String("error", err.Error()))
			continue
		}
		out = append(out, req)
	}
	return out, nil
}

// Generate builds, serializes and stores the artifact for a requested
// export, then finalizes the request. Generation marks the request
// processing before any expensive work so a concurrent attempt is rejected
// by the status guard. On failure the request is marked failed with the
// captured message; that marking is best-effort and the original error is
// still returned.
func (s *Service) Generate(ctx context.Context, userID, requestID string) (Request, Download, error) {
	row, err := s.store.GetOwned(ctx, store.TableExportRequests, requestID, userID)
	if err != nil {
		return Request{}, Download{}, err
	}
	req, err := decodeRequest(row)
	if err != nil {
		return Request{}, Download{}, err
	}

	if req.Status == StatusCancelled {
		return Request{}, Download{}, ErrRequestCancelled
	}
	if req.Status != StatusRequested {
		return Request{}, Download{}, fmt.Errorf("%w: cannot generate from %s", ErrInvalidState, req.Status)
	}

	before := req

	if _, err := s.store.Patch(ctx, store.TableExportRequests, req.ID, map[string]any{
		"status": StatusProcessing,
	}); err != nil {
		return Request{}, Download{}, fmt.Errorf("mark export processing: %w", err)
	}
	req.Status = StatusProcessing

	start := s.now()
	updated, dl, err := s.generate(ctx, req, before)
	s.metrics.ObserveJobDuration(jobs.JobTypeExportGeneration, s.now().Sub(start).Seconds())
	if err != nil {
		s.metrics.IncJobsTotal(jobs.JobTypeExportGeneration, jobs.StatusFailure)
		failed := s.fail(ctx, req, err)
		return failed, Download{}, err
	}
	s.metrics.IncJobsTotal(jobs.JobTypeExportGeneration, jobs.StatusSuccess)
	return updated, dl, nil
}

func (s *Service) generate(ctx context.Context, req, before Request) (Request, Download, error) {
	bundle, err := s.buildBundle(ctx, req)
	if err != nil {
		return Request{}, Download{}, err
	}

	data, err := Serialize(bundle, req.Format)
	if err != nil {
		return Request{}, Download{}, err
	}
	checksum := Checksum(data)
	contentType := ContentTypeFor(req.Format)

	storageID, err := s.blobs.Store(ctx, data, contentType)
	if err != nil {
		return Request{}, Download{}, fmt.Errorf("store export artifact: %w", err)
	}
	s.metrics.ObserveExportBytes(len(data))

	token, err := NewDownloadToken()
	if err != nil {
		return Request{}, Download{}, err
	}

	now := s.now().UTC()
	expiresAt := now.Add(ExpiryWindow)
	filename := Filename(req.ExportKind, req.Scope, req.Format, now)

	dl := Download{
		ExportID:       req.ID,
		UserID:         req.UserID,
		Status:         StatusReady,
		Filename:       filename,
		Format:         req.Format,
		ByteSize:       len(data),
		ChecksumSHA256: checksum,
		ContentType:    contentType,
		StorageID:      storageID,
		DownloadToken:  token,
		ExpiresAt:      expiresAt,
	}
	dlDoc, err := store.Encode(dl)
	if err != nil {
		return Request{}, Download{}, err
	}
	dlRow, err := s.store.Insert(ctx, store.TableExportDownloads, dlDoc)
	if err != nil {
		return Request{}, Download{}, fmt.Errorf("insert export download: %w", err)
	}
	dl.ID = dlRow.ID

	reqRow, err := s.store.Patch(ctx, store.TableExportRequests, req.ID, map[string]any{
		"status":          StatusReady,
		"completedAt":     now.Format(time.RFC3339Nano),
		"latestFilename":  filename,
		"latestExpiresAt": expiresAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return Request{}, Download{}, fmt.Errorf("finalize export request: %w", err)
	}
	updated, err := decodeRequest(reqRow)
	if err != nil {
		return Request{}, Download{}, err
	}

	s.audit.Record(ctx, audit.Event{
		UserID:     req.UserID,
		Action:     audit.ActionExportCompleted,
		EntityType: store.TableExportRequests,
		EntityID:   req.ID,
		Before:     audit.Snapshot(before),
		After:      audit.Snapshot(updated),
		Metadata: audit.Snapshot(map[string]any{
			"downloadId": dl.ID,
			"byteSize":   dl.ByteSize,
			"checksum":   dl.ChecksumSHA256,
			"rowCount":   bundle.RowCount(),
		}),
	})
	return updated, dl, nil
}

// buildBundle collects the owner-scoped rows for each resolved table. Rows
// are deep copies; the stored documents are never mutated.
func (s *Service) buildBundle(ctx context.Context, req Request) (Bundle, error) {
	tables, err := ResolveTables(req.ExportKind, req.Scope, req.IncludeAuditTrail)
	if err != nil {
		return Bundle{}, err
	}

	bundle := Bundle{
		UserID:     req.UserID,
		ExportKind: req.ExportKind,
		Scope:      req.Scope,
		ExportedAt: s.now().UTC(),
	}
	for _, table := range tables {
		rows, err := s.store.ListOwnedByUser(ctx, table, req.UserID)
		if err != nil {
			return Bundle{}, fmt.Errorf("collect %s rows: %w", table, err)
		}
		section := TableSection{Table: table, Rows: []map[string]any{}}
		for _, row := range rows {
			doc := store.CloneDoc(row.Doc)
			if table == store.TableExportDownloads {
				// Never leak another artifact's access secret inside an
				// export of export metadata.
				delete(doc, "downloadToken")
				if !req.IncludeDeletedArtifacts {
					if deleted, ok := doc["deleted"].(bool); ok && deleted {
						continue
					}
				}
			}
			section.Rows = append(section.Rows, doc)
		}
		bundle.Tables = append(bundle.Tables, section)
	}
	return bundle, nil
}

// fail marks the request failed and records the failure. This path must not
// raise: every error in here is logged and swallowed so the original
// generation error survives untouched.
func (s *Service) fail(ctx context.Context, req Request, cause error) Request {
	row, err := s.store.Patch(ctx, store.TableExportRequests, req.ID, map[string]any{
		"status":       StatusFailed,
		"errorMessage": cause.Error(),
	})
	if err != nil {
		s.logger.Error("failed to mark export request failed",
			slog.String("id", req.ID),
			slog.String("error", err.Error()))
		req.Status = StatusFailed
		req.ErrorMessage = cause.Error()
		return req
	}
	failed, err := decodeRequest(row)
	if err != nil {
		s.logger.Error("failed to decode failed export request",
			slog.String("id", req.ID),
			slog.String("error", err.Error()))
		failed = req
		failed.Status = StatusFailed
		failed.ErrorMessage = cause.Error()
	}

	s.audit.Record(ctx, audit.Event{
		UserID:     req.UserID,
		Action:     audit.ActionExportFailed,
		EntityType: store.TableExportRequests,
		EntityID:   req.ID,
		After:      audit.Snapshot(failed),
		Metadata:   audit.Snapshot(map[string]any{"error": cause.Error()}),
	})
	return failed
}

// Cancel marks a requested or processing export cancelled. Cancellation is
// advisory: work already in flight is not interrupted, only a future
// generation attempt is prevented.
func (s *Service) Cancel(ctx context.Context, userID, id string) (Request, error) {
	row, err := s.store.GetOwned(ctx, store.TableExportRequests, id, userID)
	if err != nil {
		return Request{}, err
	}
	req, err := decodeRequest(row)
	if err != nil {
		return Request{}, err
	}
	if req.Terminal() {
		return Request{}, fmt.Errorf("%w: cannot cancel from %s", ErrInvalidState, req.Status)
	}

	updatedRow, err := s.store.Patch(ctx, store.TableExportRequests, req.ID, map[string]any{
		"status": StatusCancelled,
	})
	if err != nil {
		return Request{}, fmt.Errorf("cancel export request: %w", err)
	}
	updated, err := decodeRequest(updatedRow)
	if err != nil {
		return Request{}, err
	}

	s.audit.Record(ctx, audit.Event{
		UserID:     userID,
		Action:     audit.ActionExportCancelled,
		EntityType: store.TableExportRequests,
		EntityID:   req.ID,
		Before:     audit.Snapshot(req),
		After:      audit.Snapshot(updated),
	})
	return updated, nil
}

func decodeRequest(row store.Row) (Request, error) {
	var req Request
	if err := store.Decode(row.Doc, &req); err != nil {
		return Request{}, err
	}
	req.ID = row.ID
	req.UpdatedAt = row.UpdatedAt
	return req, nil
}

// IsNotFound reports whether the error is the store's not-found sentinel.
// Convenience for HTTP handlers.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
