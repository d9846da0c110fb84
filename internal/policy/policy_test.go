package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/onnwee/finance-governance/internal/audit"
	"github.com/onnwee/finance-governance/internal/store"
)

func newService(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	return NewService(s, audit.NewWriter(s, nil), nil), s
}

func TestUpsert_CreatesThenUpdatesByKey(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	created, err := svc.Upsert(ctx, "user-1", UpsertInput{
		PolicyKey:     KeyExports,
		RetentionDays: 7,
		Enabled:       true,
	})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if created.ID == "" {
		t.Fatal("Upsert() should assign an id")
	}
	if created.RetentionDays != 7 {
		t.Errorf("RetentionDays = %d, want 7", created.RetentionDays)
	}

	// Same key, no id: must update the existing row, not create a second.
	updated, err := svc.Upsert(ctx, "user-1", UpsertInput{
		PolicyKey:     KeyExports,
		RetentionDays: 14,
		Enabled:       false,
	})
	if err != nil {
		t.Fatalf("Upsert() update error = %v", err)
	}
	if updated.ID != created.ID {
		t.Errorf("update created new row %q, want %q", updated.ID, created.ID)
	}
	if updated.RetentionDays != 14 || updated.Enabled {
		t.Errorf("updated = %+v", updated)
	}
}

func TestUpsert_MatchesByIDWhenSupplied(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	created, err := svc.Upsert(ctx, "user-1", UpsertInput{PolicyKey: KeyConsentLogs, RetentionDays: 100, Enabled: true})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	updated, err := svc.Upsert(ctx, "user-1", UpsertInput{
		ID:            created.ID,
		PolicyKey:     KeyConsentLogs,
		RetentionDays: 200,
		Enabled:       true,
	})
	if err != nil {
		t.Fatalf("Upsert() by id error = %v", err)
	}
	if updated.ID != created.ID || updated.RetentionDays != 200 {
		t.Errorf("updated = %+v", updated)
	}

	// An id owned by someone else must not resolve.
	if _, err := svc.Upsert(ctx, "intruder", UpsertInput{
		ID:        created.ID,
		PolicyKey: KeyConsentLogs,
	}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Upsert() with foreign id error = %v, want ErrNotFound", err)
	}
}

func TestUpsert_ClampsRetentionDays(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	low, err := svc.Upsert(ctx, "u", UpsertInput{PolicyKey: KeyExports, RetentionDays: -5, Enabled: true})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if low.RetentionDays != MinRetentionDays {
		t.Errorf("RetentionDays = %d, want %d", low.RetentionDays, MinRetentionDays)
	}

	high, err := svc.Upsert(ctx, "u", UpsertInput{PolicyKey: KeyExports, RetentionDays: 99999, Enabled: true})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if high.RetentionDays != MaxRetentionDays {
		t.Errorf("RetentionDays = %d, want %d", high.RetentionDays, MaxRetentionDays)
	}
}

func TestUpsert_RejectsUnknownKey(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.Upsert(context.Background(), "u", UpsertInput{PolicyKey: "browser_history"})
	if !errors.Is(err, ErrUnknownPolicyKey) {
		t.Errorf("Upsert() error = %v, want ErrUnknownPolicyKey", err)
	}
}

func TestEffective_MergesUserRowsOverDefaults(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.Upsert(ctx, "user-1", UpsertInput{
		PolicyKey:     KeyExports,
		RetentionDays: 7,
		Enabled:       true,
	}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	merged, err := svc.Effective(ctx, "user-1")
	if err != nil {
		t.Fatalf("Effective() error = %v", err)
	}
	if len(merged) != len(Keys()) {
		t.Fatalf("Effective() returned %d keys, want %d", len(merged), len(Keys()))
	}

	if merged[KeyExports].RetentionDays != 7 {
		t.Errorf("exports days = %d, want user override 7", merged[KeyExports].RetentionDays)
	}
	// Keys without user rows keep the shipped defaults.
	if merged[KeyDeletionJobs].RetentionDays != defaultDays[KeyDeletionJobs] {
		t.Errorf("deletion_jobs days = %d, want default %d",
			merged[KeyDeletionJobs].RetentionDays, defaultDays[KeyDeletionJobs])
	}
	if merged[KeyDeletionJobs].ID != "" {
		t.Error("default policies should have no row id")
	}
	if !merged[KeyFinanceAuditEvents].Enabled {
		t.Error("defaults ship enabled")
	}
}

func TestList_ReportsInFixedOrder(t *testing.T) {
	svc, _ := newService(t)

	policies, err := svc.List(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := Keys()
	if len(policies) != len(want) {
		t.Fatalf("List() returned %d policies, want %d", len(policies), len(want))
	}
	for i, p := range policies {
		if p.PolicyKey != want[i] {
			t.Errorf("List()[%d].PolicyKey = %q, want %q", i, p.PolicyKey, want[i])
		}
	}
}
