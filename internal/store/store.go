// Package store provides the owner-scoped document store shared by every
// governance component. Rows are schemaless documents grouped into a closed
// catalog of tables; the store guarantees per-document atomic updates but no
// multi-row transactions, so callers must be safe to re-run.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when an id does not resolve to a document
	// visible to the caller.
	ErrNotFound = errors.New("document not found")

	// ErrUnknownTable is returned for writes against a table outside the
	// catalog. Reads are best-effort and return empty results instead.
	ErrUnknownTable = errors.New("unknown table")
)

// Reserved document keys maintained by the store itself.
const (
	FieldID        = "id"
	FieldUserID    = "userId"
	FieldOwnerKey  = "ownerKey"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
)

// Row is a stored document plus its envelope. CreatedAt and UpdatedAt are
// also mirrored into Doc (RFC3339 UTC) so exported rows are self-describing.
type Row struct {
	ID        string
	UserID    string
	OwnerKey  string
	CreatedAt time.Time
	UpdatedAt time.Time
	Doc       map[string]any
}

// Store is the row-repository contract consumed by the governance engine.
// Implementations must provide per-document atomic read-modify-write; they
// are not required to provide multi-row transactions.
type Store interface {
	// Insert stores a new document and returns the full row. The store
	// assigns the id and timestamps; userId/ownerKey are read from the doc.
	Insert(ctx context.Context, table string, doc map[string]any) (Row, error)

	// Get retrieves a document by id regardless of owner.
	Get(ctx context.Context, table, id string) (Row, error)

	// GetOwned retrieves a document by id, returning ErrNotFound when the
	// document does not exist or belongs to a different user.
	GetOwned(ctx context.Context, table, id, userID string) (Row, error)

	// Patch merges fields into an existing document. UpdatedAt never moves
	// backwards.
	Patch(ctx context.Context, table, id string, fields map[string]any) (Row, error)

	// Delete removes a document. Deleting a missing id returns ErrNotFound;
	// batch callers treat that as success-equivalent.
	Delete(ctx context.Context, table, id string) error

	// ListOwnedByUser returns all documents in the table owned by the user.
	ListOwnedByUser(ctx context.Context, table, userID string) ([]Row, error)

	// ListByOwnerKey returns all documents in an owner-key table matching
	// the derived key.
	ListByOwnerKey(ctx context.Context, table, ownerKey string) ([]Row, error)

	// ListAll returns every document in the table. Best-effort: an unknown
	// table yields an empty slice, not an error.
	ListAll(ctx context.Context, table string) ([]Row, error)

	// ListUserIDs returns the distinct user ids referenced by the given
	// tables (all user-owned tables when none are given), sorted.
	ListUserIDs(ctx context.Context, tables ...string) ([]string, error)
}

// Encode converts a typed record into a document via its JSON encoding.
func Encode(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return doc, nil
}

// Decode parses a document into a typed record. Unknown fields are ignored
// so older rows keep decoding as records grow fields.
func Decode(doc map[string]any, v any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

// CloneDoc deep-copies a document. Exports mutate copies (e.g. stripping
// download tokens) and must never touch the stored row.
func CloneDoc(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		// Documents always originate from JSON; a marshal failure here
		// means a programming error upstream.
		panic(fmt.Sprintf("store: unclonable document: %v", err))
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(fmt.Sprintf("store: unclonable document: %v", err))
	}
	return out
}

func stringField(doc map[string]any, key string) string {
	if v, ok := doc[key].(string); ok {
		return v
	}
	return ""
}

// StringField extracts a string-valued field from a document, returning ""
// when absent or of another type.
func StringField(doc map[string]any, key string) string {
	return stringField(doc, key)
}

// TimeField extracts an RFC3339 timestamp field from a document. The zero
// time is returned when the field is absent or malformed.
func TimeField(doc map[string]any, key string) time.Time {
	s := stringField(doc, key)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
