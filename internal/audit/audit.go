// Package audit provides the append-only audit trail for governance
// operations. Events are immutable once written and are deliberately exempt
// from referential integrity: they may outlive the entities they describe.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/onnwee/finance-governance/internal/store"
)

// Actions recorded by the governance engine.
const (
	ActionExportRequested        = "export_requested"
	ActionExportCompleted        = "export_completed"
	ActionExportFailed           = "export_failed"
	ActionExportCancelled        = "export_cancelled"
	ActionRetentionSweep         = "retention_sweep"
	ActionConsentUpdated         = "consent_updated"
	ActionRetentionPolicyUpdated = "retention_policy_updated"
	ActionDeletionJobUpdated     = "deletion_job_updated"
	ActionAccountErasure         = "account_erasure"
)

// ValidActions defines the allowed actions for audit events.
var ValidActions = map[string]bool{
	ActionExportRequested:        true,
	ActionExportCompleted:        true,
	ActionExportFailed:           true,
	ActionExportCancelled:        true,
	ActionRetentionSweep:         true,
	ActionConsentUpdated:         true,
	ActionRetentionPolicyUpdated: true,
	ActionDeletionJobUpdated:     true,
	ActionAccountErasure:         true,
}

// ErrInvalidAction is returned when an event names an unknown action.
var ErrInvalidAction = errors.New("invalid audit action")

// Event is one audit record. Before/After/Metadata hold already-marshaled
// JSON snapshots; Snapshot produces them from typed payloads.
type Event struct {
	ID         string          `json:"id,omitempty"`
	UserID     string          `json:"userId"`
	Action     string          `json:"action"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Before     json.RawMessage `json:"beforeJson,omitempty"`
	After      json.RawMessage `json:"afterJson,omitempty"`
	Metadata   json.RawMessage `json:"metadataJson,omitempty"`
	CreatedAt  time.Time       `json:"createdAt,omitempty"`
}

// Snapshot marshals a typed payload for an event's before/after/metadata
// field. Returns nil when the payload cannot be marshaled; an audit snapshot
// is never worth failing the primary operation for.
func Snapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		slog.Warn("audit snapshot failed", "error", err)
		return nil
	}
	return raw
}

// Writer appends events to the financeAuditEvents table. All writes are
// best-effort: a failed audit write is logged and swallowed so it can never
// break the operation being audited.
type Writer struct {
	store  store.Store
	logger *slog.Logger
}

// NewWriter creates a new audit writer.
func NewWriter(s store.Store, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{store: s, logger: logger}
}

// Record appends an event and returns its id. On failure it logs and
// returns "".
func (w *Writer) Record(ctx context.Context, event Event) string {
	if !ValidActions[event.Action] {
		w.logger.Warn("dropping audit event with invalid action",
			slog.String("action", event.Action))
		return ""
	}

	doc, err := store.Encode(event)
	if err != nil {
		w.logger.Warn("failed to encode audit event",
			slog.String("action", event.Action),
			slog.String("error", err.Error()))
		return ""
	}
	// id/createdAt are assigned by the store.
	delete(doc, store.FieldID)
	delete(doc, store.FieldCreatedAt)

	row, err := w.store.Insert(ctx, store.TableFinanceAuditEvents, doc)
	if err != nil {
		w.logger.Warn("failed to write audit event",
			slog.String("action", event.Action),
			slog.String("user_id", event.UserID),
			slog.String("error", err.Error()))
		return ""
	}
	return row.ID
}

// Discard removes a previously recorded event. Only the account-erasure
// workflow uses this, to clean up its ephemeral receipt; every other event
// is immutable. Best-effort like Record.
func (w *Writer) Discard(ctx context.Context, id string) {
	if id == "" {
		return
	}
	if err := w.store.Delete(ctx, store.TableFinanceAuditEvents, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		w.logger.Warn("failed to discard audit event",
			slog.String("id", id),
			slog.String("error", err.Error()))
	}
}
