// Package policy provides per-user retention policies with system defaults.
// A user row overrides the default for its key only; every other key keeps
// the shipped default.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/finance-governance/internal/audit"
	"github.com/onnwee/finance-governance/internal/store"
)

// Policy keys shipped with the system.
const (
	KeyExports            = "exports"
	KeyDeletionJobs       = "deletion_jobs"
	KeyConsentLogs        = "consent_logs"
	KeyFinanceAuditEvents = "finance_audit_events"
)

// Retention day bounds; upserts clamp into this range.
const (
	MinRetentionDays = 0
	MaxRetentionDays = 3650
)

// keyOrder fixes the order policies are reported in.
var keyOrder = []string{KeyExports, KeyDeletionJobs, KeyConsentLogs, KeyFinanceAuditEvents}

// defaultDays holds the shipped retention window per key.
var defaultDays = map[string]int{
	KeyExports:            30,
	KeyDeletionJobs:       90,
	KeyConsentLogs:        365,
	KeyFinanceAuditEvents: 730,
}

// ErrUnknownPolicyKey is returned for keys outside the shipped set.
var ErrUnknownPolicyKey = errors.New("unknown retention policy key")

// Policy is one retention policy row, or a synthesized default when no user
// row exists for a key.
type Policy struct {
	ID            string    `json:"id,omitempty"`
	UserID        string    `json:"userId"`
	PolicyKey     string    `json:"policyKey"`
	RetentionDays int       `json:"retentionDays"`
	Enabled       bool      `json:"enabled"`
	UpdatedAt     time.Time `json:"updatedAt,omitempty"`
}

// Default returns the shipped policy for a key.
func Default(userID, key string) (Policy, error) {
	days, ok := defaultDays[key]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %s", ErrUnknownPolicyKey, key)
	}
	return Policy{UserID: userID, PolicyKey: key, RetentionDays: days, Enabled: true}, nil
}

// Keys returns the shipped policy keys in reporting order.
func Keys() []string {
	out := make([]string, len(keyOrder))
	copy(out, keyOrder)
	return out
}

// UpsertInput carries one policy upsert. When ID is set the upsert matches
// by id; otherwise it matches by (userId, policyKey).
type UpsertInput struct {
	ID            string `json:"id,omitempty"`
	PolicyKey     string `json:"policyKey"`
	RetentionDays int    `json:"retentionDays"`
	Enabled       bool   `json:"enabled"`
}

// Service stores and merges retention policies.
type Service struct {
	store  store.Store
	audit  *audit.Writer
	logger *slog.Logger
}

// NewService creates a new retention policy service.
func NewService(s store.Store, auditWriter *audit.Writer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, audit: auditWriter, logger: logger}
}

// Upsert creates or updates a policy row for the user. Retention days are
// clamped to [MinRetentionDays, MaxRetentionDays].
func (s *Service) Upsert(ctx context.Context, userID string, in UpsertInput) (Policy, error) {
	if _, ok := defaultDays[in.PolicyKey]; !ok {
		return Policy{}, fmt.Errorf("%w: %s", ErrUnknownPolicyKey, in.PolicyKey)
	}
	in.RetentionDays = clampDays(in.RetentionDays)

	existing, err := s.findExisting(ctx, userID, in)
	if err != nil {
		return Policy{}, err
	}

	if existing == nil {
		p := Policy{
			UserID:        userID,
			PolicyKey:     in.PolicyKey,
			RetentionDays: in.RetentionDays,
			Enabled:       in.Enabled,
		}
		doc, err := store.Encode(p)
		if err != nil {
			return Policy{}, err
		}
		row, err := s.store.Insert(ctx, store.TableRetentionPolicies, doc)
		if err != nil {
			return Policy{}, fmt.Errorf("insert retention policy: %w", err)
		}
		p.ID = row.ID
		p.UpdatedAt = row.UpdatedAt

		s.audit.Record(ctx, audit.Event{
			UserID:     userID,
			Action:     audit.ActionRetentionPolicyUpdated,
			EntityType: store.TableRetentionPolicies,
			EntityID:   p.ID,
			After:      audit.Snapshot(p),
		})
		return p, nil
	}

	row, err := s.store.Patch(ctx, store.TableRetentionPolicies, existing.ID, map[string]any{
		"retentionDays": in.RetentionDays,
		"enabled":       in.Enabled,
	})
	if err != nil {
		return Policy{}, fmt.Errorf("update retention policy: %w", err)
	}

	var updated Policy
	if err := store.Decode(row.Doc, &updated); err != nil {
		return Policy{}, err
	}
	updated.ID = row.ID
	updated.UpdatedAt = row.UpdatedAt

	s.audit.Record(ctx, audit.Event{
		UserID:     userID,
		Action:     audit.ActionRetentionPolicyUpdated,
		EntityType: store.TableRetentionPolicies,
		EntityID:   updated.ID,
		Before:     audit.Snapshot(existing),
		After:      audit.Snapshot(updated),
	})
	return updated, nil
}

func (s *Service) findExisting(ctx context.Context, userID string, in UpsertInput) (*Policy, error) {
	if in.ID != "" {
		row, err := s.store.GetOwned(ctx, store.TableRetentionPolicies, in.ID, userID)
		if err != nil {
			return nil, err
		}
		var p Policy
		if err := store.Decode(row.Doc, &p); err != nil {
			return nil, err
		}
		p.ID = row.ID
		p.UpdatedAt = row.UpdatedAt
		return &p, nil
	}

	rows, err := s.store.ListOwnedByUser(ctx, store.TableRetentionPolicies, userID)
	if err != nil {
		return nil, fmt.Errorf("list retention policies: %w", err)
	}
	for _, row := range rows {
		var p Policy
		if err := store.Decode(row.Doc, &p); err != nil {
			s.logger.Warn("skipping undecodable retention policy",
				slog.String("id", row.ID),
				slog.String("error", err.Error()))
			continue
		}
		if p.PolicyKey == in.PolicyKey {
			p.ID = row.ID
			p.UpdatedAt = row.UpdatedAt
			return &p, nil
		}
	}
	return nil, nil
}

// Effective returns the merged policy per key: the user's row when present,
// the shipped default otherwise. Every shipped key is always present.
func (s *Service) Effective(ctx context.Context, userID string) (map[string]Policy, error) {
	merged := make(map[string]Policy, len(defaultDays))
	for _, key := range keyOrder {
		p, _ := Default(userID, key)
		merged[key] = p
	}

	rows, err := s.store.ListOwnedByUser(ctx, store.TableRetentionPolicies, userID)
	if err != nil {
		return nil, fmt.Errorf("list retention policies: %w", err)
	}
	for _, row := range rows {
		var p Policy
		if err := store.Decode(row.Doc, &p); err != nil {
			s.logger.Warn("skipping undecodable retention policy",
				slog.String("id", row.ID),
				slog.String("error", err.Error()))
			continue
		}
		if _, ok := defaultDays[p.PolicyKey]; !ok {
			continue
		}
		p.ID = row.ID
		p.UpdatedAt = row.UpdatedAt
		p.RetentionDays = clampDays(p.RetentionDays)
		merged[p.PolicyKey] = p
	}
	return merged, nil
}

// List returns the effective policies in reporting order.
func (s *Service) List(ctx context.Context, userID string) ([]Policy, error) {
	merged, err := s.Effective(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Policy, 0, len(keyOrder))
	for _, key := range keyOrder {
		out = append(out, merged[key])
	}
	return out, nil
}

func clampDays(days int) int {
	if days < MinRetentionDays {
		return MinRetentionDays
	}
	if days > MaxRetentionDays {
		return MaxRetentionDays
	}
	return days
}
