// Package blob provides storage for generated export artifacts. The engine
// only needs store-by-id and delete-by-id; artifact ids are opaque to every
// caller.
package blob

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrBlobNotFound is returned by Fetch when the id has no stored bytes.
var ErrBlobNotFound = errors.New("blob not found")

// Store is the blob-storage contract consumed by the export and sweep
// workflows. Delete of an id that no longer exists must not return an error:
// sweeps and erasure are re-entrant and may retry deletes.
type Store interface {
	// Store persists the bytes and returns an opaque storage id.
	Store(ctx context.Context, data []byte, contentType string) (string, error)

	// Fetch returns the stored bytes and content type for an id.
	// Returns ErrBlobNotFound for unknown ids.
	Fetch(ctx context.Context, storageID string) ([]byte, string, error)

	// Delete removes a stored blob. Missing ids are ignored.
	Delete(ctx context.Context, storageID string) error
}

// MemoryStore is an in-memory implementation of Store. Used for testing and
// development. Thread-safe via RWMutex.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]memoryBlob
}

type memoryBlob struct {
	data        []byte
	contentType string
}

// NewMemoryStore creates a new in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]memoryBlob)}
}

// Store persists the bytes and returns a generated storage id.
func (s *MemoryStore) Store(ctx context.Context, data []byte, contentType string) (string, error) {
	id := uuid.New().String()

	copied := make([]byte, len(data))
	copy(copied, data)

	s.mu.Lock()
	s.blobs[id] = memoryBlob{data: copied, contentType: contentType}
	s.mu.Unlock()

	return id, nil
}

// Fetch returns the stored bytes and content type.
func (s *MemoryStore) Fetch(ctx context.Context, storageID string) ([]byte, string, error) {
	data, contentType, ok := s.Get(storageID)
	if !ok {
		return nil, "", ErrBlobNotFound
	}
	return data, contentType, nil
}

// Delete removes a stored blob. Deleting a missing id is a no-op.
func (s *MemoryStore) Delete(ctx context.Context, storageID string) error {
	s.mu.Lock()
	delete(s.blobs, storageID)
	s.mu.Unlock()
	return nil
}

// Get returns the stored bytes and content type. Test helper.
func (s *MemoryStore) Get(storageID string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.blobs[storageID]
	if !ok {
		return nil, "", false
	}
	copied := make([]byte, len(b.data))
	copy(copied, b.data)
	return copied, b.contentType, true
}

// Len returns the number of stored blobs. Test helper.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
