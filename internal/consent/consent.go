// Package consent tracks per-user consent flags and their append-only change
// log. One log row is written per flag transition, never per call.
package consent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/finance-governance/internal/audit"
	"github.com/onnwee/finance-governance/internal/store"
)

// Consent types recorded in the change log.
const (
	TypeAnalytics   = "analytics"
	TypeDiagnostics = "diagnostics"
)

// Version identifies the consent wording in effect. Bump when the consent
// copy changes so old log rows stay attributable to the text the user saw.
const Version = "2025-06"

// Settings is the per-user consent singleton. Flags default to false until
// the user first sets them.
type Settings struct {
	ID                 string    `json:"id,omitempty"`
	UserID             string    `json:"userId"`
	AnalyticsEnabled   bool      `json:"analyticsEnabled"`
	DiagnosticsEnabled bool      `json:"diagnosticsEnabled"`
	UpdatedAt          time.Time `json:"updatedAt,omitempty"`
}

// Log is one consent transition. Rows are append-only; only the retention
// sweep ever removes them.
type Log struct {
	ID          string    `json:"id,omitempty"`
	UserID      string    `json:"userId"`
	ConsentType string    `json:"consentType"`
	Enabled     bool      `json:"enabled"`
	Version     string    `json:"version"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"createdAt,omitempty"`
}

// UpdateInput carries a consent update. Nil flags are left untouched.
type UpdateInput struct {
	Analytics   *bool  `json:"analyticsEnabled,omitempty"`
	Diagnostics *bool  `json:"diagnosticsEnabled,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Service stores consent settings and their change log.
type Service struct {
	store  store.Store
	audit  *audit.Writer
	logger *slog.Logger
}

// NewService creates a new consent service.
func NewService(s store.Store, auditWriter *audit.Writer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, audit: auditWriter, logger: logger}
}

// Get returns the user's consent settings. When no row exists yet the
// all-false defaults are returned without creating one.
func (s *Service) Get(ctx context.Context, userID string) (Settings, error) {
	existing, err := s.find(ctx, userID)
	if err != nil {
		return Settings{}, err
	}
	if existing == nil {
		return Settings{UserID: userID}, nil
	}
	return *existing, nil
}

// Update applies the input, appending one log row per flag that actually
// changed. Supplying a flag with its current value produces no log entry.
func (s *Service) Update(ctx context.Context, userID string, in UpdateInput) (Settings, error) {
	before, err := s.Get(ctx, userID)
	if err != nil {
		return Settings{}, err
	}

	after := before
	var changed []Log
	if in.Analytics != nil && *in.Analytics != before.AnalyticsEnabled {
		after.AnalyticsEnabled = *in.Analytics
		changed = append(changed, Log{
			UserID:      userID,
			ConsentType: TypeAnalytics,
			Enabled:     *in.Analytics,
			Version:     Version,
			Reason:      in.Reason,
		})
	}
	if in.Diagnostics != nil && *in.Diagnostics != before.DiagnosticsEnabled {
		after.DiagnosticsEnabled = *in.Diagnostics
		changed = append(changed, Log{
			UserID:      userID,
			ConsentType: TypeDiagnostics,
			Enabled:     *in.Diagnostics,
			Version:     Version,
			Reason:      in.Reason,
		})
	}

	if len(changed) == 0 {
		return before, nil
	}

	if before.ID == "" {
		doc, err := store.Encode(after)
		if err != nil {
			return Settings{}, err
		}
		row, err := s.store.Insert(ctx, store.TableConsentSettings, doc)
		if err != nil {
			return Settings{}, fmt.Errorf("insert consent settings: %w", err)
		}
		after.ID = row.ID
		after.UpdatedAt = row.UpdatedAt
	} else {
		row, err := s.store.Patch(ctx, store.TableConsentSettings, before.ID, map[string]any{
			"analyticsEnabled":   after.AnalyticsEnabled,
			"diagnosticsEnabled": after.DiagnosticsEnabled,
		})
		if err != nil {
			return Settings{}, fmt.Errorf("update consent settings: %w", err)
		}
		after.UpdatedAt = row.UpdatedAt
	}

	for _, entry := range changed {
		doc, err := store.Encode(entry)
		if err != nil {
			return Settings{}, err
		}
		if _, err := s.store.Insert(ctx, store.TableConsentLogs, doc); err != nil {
			return Settings{}, fmt.Errorf("append consent log: %w", err)
		}
	}

	s.audit.Record(ctx, audit.Event{
		UserID:     userID,
		Action:     audit.ActionConsentUpdated,
		EntityType: store.TableConsentSettings,
		EntityID:   after.ID,
		Before:     audit.Snapshot(before),
		After:      audit.Snapshot(after),
	})
	return after, nil
}

// Logs returns the user's consent change log, oldest first.
func (s *Service) Logs(ctx context.Context, userID string) ([]Log, error) {
	rows, err := s.store.ListOwnedByUser(ctx, store.TableConsentLogs, userID)
	if err != nil {
		return nil, fmt.Errorf("list consent logs: %w", err)
	}
	out := make([]Log, 0, len(rows))
	for _, row := range rows {
		var entry Log
		if err := store.Decode(row.Doc, &entry); err != nil {
			s.logger.Warn("skipping undecodable consent log",
				slog.String("id", row.ID),
				slog.String("error", err.Error()))
			continue
		}
		entry.ID = row.ID
		entry.CreatedAt = row.CreatedAt
		out = append(out, entry)
	}
	return out, nil
}

func (s *Service) find(ctx context.Context, userID string) (*Settings, error) {
	rows, err := s.store.ListOwnedByUser(ctx, store.TableConsentSettings, userID)
	if err != nil {
		return nil, fmt.Errorf("list consent settings: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	// Singleton per user; if duplicates ever appear, the oldest row wins.
	row := rows[0]
	var settings Settings
	if err := store.Decode(row.Doc, &settings); err != nil {
		return nil, err
	}
	settings.ID = row.ID
	settings.UpdatedAt = row.UpdatedAt
	return &settings, nil
}
