//go:build integration

// Integration tests for the Postgres document store. They start a throwaway
// PostgreSQL container via testcontainers.
//
// Run with: go test -tags=integration -v ./internal/store/...
package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

func startPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("governance"),
		tcpostgres.WithUsername("governance"),
		tcpostgres.WithPassword("governance"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("could not start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema, err := os.ReadFile(filepath.Join("..", "..", "migrations", "000001_create_governance_documents.up.sql"))
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	if _, err := db.ExecContext(ctx, string(schema)); err != nil {
		t.Fatalf("apply migration: %v", err)
	}
	return db
}

func TestPostgresStore_CRUD(t *testing.T) {
	db := startPostgres(t)
	s := NewPostgresStore(db, nil)
	ctx := context.Background()

	row, err := s.Insert(ctx, TableExportRequests, map[string]any{
		FieldUserID: "user-1",
		"status":    "requested",
	})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := s.GetOwned(ctx, TableExportRequests, row.ID, "user-1")
	if err != nil {
		t.Fatalf("GetOwned() error = %v", err)
	}
	if StringField(got.Doc, "status") != "requested" {
		t.Errorf("status = %q, want requested", StringField(got.Doc, "status"))
	}

	if _, err := s.GetOwned(ctx, TableExportRequests, row.ID, "other"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetOwned() as non-owner error = %v, want ErrNotFound", err)
	}

	patched, err := s.Patch(ctx, TableExportRequests, row.ID, map[string]any{
		"status":  "processing",
		"scratch": nil,
	})
	if err != nil {
		t.Fatalf("Patch() error = %v", err)
	}
	if StringField(patched.Doc, "status") != "processing" {
		t.Errorf("patched status = %q, want processing", StringField(patched.Doc, "status"))
	}
	if patched.UpdatedAt.Before(row.UpdatedAt) {
		t.Errorf("UpdatedAt moved backwards: %v < %v", patched.UpdatedAt, row.UpdatedAt)
	}
	if TimeField(patched.Doc, FieldUpdatedAt).IsZero() {
		t.Error("patched doc should mirror updatedAt as RFC3339")
	}

	if err := s.Delete(ctx, TableExportRequests, row.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := s.Delete(ctx, TableExportRequests, row.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestPostgresStore_ListingAndUserIDs(t *testing.T) {
	db := startPostgres(t)
	s := NewPostgresStore(db, nil)
	ctx := context.Background()

	for _, seed := range []struct{ table, user string }{
		{TableTransactions, "alice"},
		{TableTransactions, "alice"},
		{TableTransactions, "bob"},
		{TableDeletionJobs, "carol"},
	} {
		if _, err := s.Insert(ctx, seed.table, map[string]any{FieldUserID: seed.user}); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}
	if _, err := s.Insert(ctx, TablePlannerDrafts, map[string]any{FieldOwnerKey: OwnerKey("alice")}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	owned, err := s.ListOwnedByUser(ctx, TableTransactions, "alice")
	if err != nil {
		t.Fatalf("ListOwnedByUser() error = %v", err)
	}
	if len(owned) != 2 {
		t.Errorf("ListOwnedByUser() returned %d rows, want 2", len(owned))
	}
	if len(owned) == 2 && owned[0].CreatedAt.After(owned[1].CreatedAt) {
		t.Error("ListOwnedByUser() should order oldest first")
	}

	keyed, err := s.ListByOwnerKey(ctx, TablePlannerDrafts, OwnerKey("alice"))
	if err != nil {
		t.Fatalf("ListByOwnerKey() error = %v", err)
	}
	if len(keyed) != 1 {
		t.Errorf("ListByOwnerKey() returned %d rows, want 1", len(keyed))
	}

	ids, err := s.ListUserIDs(ctx, TableTransactions, TableDeletionJobs)
	if err != nil {
		t.Fatalf("ListUserIDs() error = %v", err)
	}
	want := []string{"alice", "bob", "carol"}
	if len(ids) != len(want) {
		t.Fatalf("ListUserIDs() = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ListUserIDs()[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
}

func TestPostgresStore_UpdatedAtMonotonicUnderConcurrentPatches(t *testing.T) {
	db := startPostgres(t)
	s := NewPostgresStore(db, nil)
	ctx := context.Background()

	row, err := s.Insert(ctx, TableDeletionJobs, map[string]any{FieldUserID: "u"})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	prev := row.UpdatedAt
	for i := 0; i < 5; i++ {
		patched, err := s.Patch(ctx, TableDeletionJobs, row.ID, map[string]any{"seq": i})
		if err != nil {
			t.Fatalf("Patch() error = %v", err)
		}
		if patched.UpdatedAt.Before(prev) {
			t.Errorf("UpdatedAt regressed on patch %d: %v < %v", i, patched.UpdatedAt, prev)
		}
		prev = patched.UpdatedAt
		time.Sleep(2 * time.Millisecond)
	}
}
