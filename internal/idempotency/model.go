// Package idempotency stores request replay records so that retried POSTs
// return the original response instead of repeating their side effects.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// Record statuses. Only completed records are stored today; processing is
// reserved for in-flight markers if concurrent duplicate handling is added.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
)

var (
	// ErrKeyNotFound is returned when no record exists for a key.
	ErrKeyNotFound = errors.New("idempotency key not found")

	// ErrKeyExists is returned when storing a duplicate key.
	ErrKeyExists = errors.New("idempotency key already exists")

	// ErrInvalidKey is returned for an empty key.
	ErrInvalidKey = errors.New("invalid idempotency key")

	// ErrKeyTooLong is returned when the key exceeds MaxKeyLength.
	ErrKeyTooLong = errors.New("idempotency key exceeds maximum length")
)

// MaxKeyLength bounds client-supplied keys.
const MaxKeyLength = 64

// Record is one stored idempotency key with its cached response. Records are
// scoped to a user; two users may reuse the same key without collision.
type Record struct {
	UserID             string    `json:"userId"`
	Key                string    `json:"key"`
	Method             string    `json:"method"`
	Route              string    `json:"route"`
	ResponseHash       string    `json:"responseHash"`
	Status             string    `json:"status"`
	ResponseBody       string    `json:"responseBody"`
	ResponseStatusCode int       `json:"responseStatusCode"`
	CreatedAt          time.Time `json:"createdAt"`
}

// ValidateKey checks a client-supplied key.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	return nil
}

// ComputeResponseHash hashes a response body for integrity checks on replay.
func ComputeResponseHash(responseBody string) string {
	hash := sha256.Sum256([]byte(responseBody))
	return hex.EncodeToString(hash[:])
}

// Repository persists idempotency records.
type Repository interface {
	// Get returns the record for a user's key, or ErrKeyNotFound.
	Get(ctx context.Context, userID, key string) (*Record, error)

	// Store saves a new record. Returns ErrKeyExists for a duplicate.
	Store(ctx context.Context, record *Record) error

	// DeleteOlderThan removes records older than the given age and returns
	// how many were deleted.
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)
}
