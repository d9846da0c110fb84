package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory implementation of Store. Used for testing and
// development. Thread-safe via RWMutex.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]map[string]*Row
	// Maintain insertion order per table for deterministic listings
	order map[string][]string
	now   func() time.Time
}

// NewMemoryStore creates a new in-memory document store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables: make(map[string]map[string]*Row),
		order:  make(map[string][]string),
		now:    time.Now,
	}
}

// SetNow overrides the clock. Tests use it to backdate inserts.
func (s *MemoryStore) SetNow(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Insert stores a new document and returns the full row.
func (s *MemoryStore) Insert(ctx context.Context, table string, doc map[string]any) (Row, error) {
	if !KnownTable(table) {
		return Row{}, ErrUnknownTable
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	row := Row{
		ID:        uuid.New().String(),
		UserID:    stringField(doc, FieldUserID),
		OwnerKey:  stringField(doc, FieldOwnerKey),
		CreatedAt: now,
		UpdatedAt: now,
		Doc:       CloneDoc(doc),
	}
	if row.Doc == nil {
		row.Doc = make(map[string]any)
	}
	row.Doc[FieldID] = row.ID
	row.Doc[FieldCreatedAt] = now.Format(time.RFC3339Nano)
	row.Doc[FieldUpdatedAt] = now.Format(time.RFC3339Nano)

	if s.tables[table] == nil {
		s.tables[table] = make(map[string]*Row)
	}
	stored := row
	stored.Doc = CloneDoc(row.Doc)
	s.tables[table][row.ID] = &stored
	s.order[table] = append(s.order[table], row.ID)

	return row, nil
}

// Get retrieves a document by id regardless of owner.
func (s *MemoryStore) Get(ctx context.Context, table, id string) (Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.tables[table][id]
	if !ok {
		return Row{}, ErrNotFound
	}
	return copyRow(row), nil
}

// GetOwned retrieves a document by id, scoped to the owning user. A row
// owned by a different user is reported as not found rather than forbidden,
// so ids cannot be probed across users.
func (s *MemoryStore) GetOwned(ctx context.Context, table, id, userID string) (Row, error) {
	row, err := s.Get(ctx, table, id)
	if err != nil {
		return Row{}, err
	}
	if row.UserID != userID {
		return Row{}, ErrNotFound
	}
	return row, nil
}

// Patch merges fields into an existing document and bumps UpdatedAt.
func (s *MemoryStore) Patch(ctx context.Context, table, id string, fields map[string]any) (Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.tables[table][id]
	if !ok {
		return Row{}, ErrNotFound
	}

	for k, v := range CloneDoc(fields) {
		if v == nil {
			delete(row.Doc, k)
			continue
		}
		row.Doc[k] = v
	}

	// UpdatedAt is monotonically non-decreasing even under clock skew.
	now := s.now().UTC()
	if !now.After(row.UpdatedAt) {
		now = row.UpdatedAt
	}
	row.UpdatedAt = now
	row.Doc[FieldUpdatedAt] = now.Format(time.RFC3339Nano)

	return copyRow(row), nil
}

// Delete removes a document. Missing ids return ErrNotFound.
func (s *MemoryStore) Delete(ctx context.Context, table, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tables[table][id]; !ok {
		return ErrNotFound
	}
	delete(s.tables[table], id)

	ids := s.order[table]
	for i, existing := range ids {
		if existing == id {
			s.order[table] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

// ListOwnedByUser returns documents owned by the user in insertion order.
func (s *MemoryStore) ListOwnedByUser(ctx context.Context, table, userID string) ([]Row, error) {
	return s.list(table, func(r *Row) bool { return r.UserID == userID })
}

// ListByOwnerKey returns documents matching the derived owner key.
func (s *MemoryStore) ListByOwnerKey(ctx context.Context, table, ownerKey string) ([]Row, error) {
	return s.list(table, func(r *Row) bool { return r.OwnerKey == ownerKey })
}

// ListAll returns every document in the table. Unknown tables yield an empty
// result rather than an error.
func (s *MemoryStore) ListAll(ctx context.Context, table string) ([]Row, error) {
	return s.list(table, func(*Row) bool { return true })
}

// ListUserIDs returns the distinct user ids present in the given tables,
// sorted. With no arguments it spans every user-owned table.
func (s *MemoryStore) ListUserIDs(ctx context.Context, tables ...string) ([]string, error) {
	if len(tables) == 0 {
		tables = TablesOwnedBy(OwnedByUser)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	for _, table := range tables {
		for _, row := range s.tables[table] {
			if row.UserID != "" {
				seen[row.UserID] = true
			}
		}
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) list(table string, match func(*Row) bool) ([]Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []Row
	for _, id := range s.order[table] {
		row := s.tables[table][id]
		if row != nil && match(row) {
			results = append(results, copyRow(row))
		}
	}
	return results, nil
}

func copyRow(row *Row) Row {
	out := *row
	out.Doc = CloneDoc(row.Doc)
	return out
}
