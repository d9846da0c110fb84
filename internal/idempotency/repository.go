package idempotency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/finance-governance/internal/store"
)

// StoreRepository persists records in the governance document store.
type StoreRepository struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewStoreRepository creates a repository over the document store.
func NewStoreRepository(s store.Store, logger *slog.Logger) *StoreRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreRepository{store: s, logger: logger, now: time.Now}
}

// Get returns the record for a user's key, or ErrKeyNotFound.
func (r *StoreRepository) Get(ctx context.Context, userID, key string) (*Record, error) {
	row, err := r.find(ctx, userID, key)
	if err != nil {
		return nil, err
	}

	var record Record
	if err := store.Decode(row.Doc, &record); err != nil {
		return nil, fmt.Errorf("decode idempotency record: %w", err)
	}
	record.CreatedAt = row.CreatedAt
	return &record, nil
}

// Store saves a new record. Returns ErrKeyExists for a duplicate key.
func (r *StoreRepository) Store(ctx context.Context, record *Record) error {
	if err := ValidateKey(record.Key); err != nil {
		return err
	}
	if record.UserID == "" {
		return errors.New("idempotency record requires a user id")
	}

	if _, err := r.find(ctx, record.UserID, record.Key); err == nil {
		return ErrKeyExists
	} else if !errors.Is(err, ErrKeyNotFound) {
		return err
	}

	doc, err := store.Encode(record)
	if err != nil {
		return err
	}
	row, err := r.store.Insert(ctx, store.TableIdempotencyKeys, doc)
	if err != nil {
		return fmt.Errorf("store idempotency record: %w", err)
	}
	record.CreatedAt = row.CreatedAt
	return nil
}

// DeleteOlderThan removes records older than the given age, row by row.
// Per-row failures are logged and skipped so one stuck row cannot stall the
// cleanup forever.
func (r *StoreRepository) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	rows, err := r.store.ListAll(ctx, store.TableIdempotencyKeys)
	if err != nil {
		return 0, fmt.Errorf("list idempotency records: %w", err)
	}

	cutoff := r.now().Add(-age)
	var deleted int64
	for _, row := range rows {
		if !row.CreatedAt.Before(cutoff) {
			continue
		}
		if err := r.store.Delete(ctx, store.TableIdempotencyKeys, row.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				deleted++
				continue
			}
			r.logger.Warn("failed to delete expired idempotency record",
				slog.String("id", row.ID),
				slog.String("error", err.Error()))
			continue
		}
		deleted++
	}
	return deleted, nil
}

// SetNow overrides the clock. Test hook.
func (r *StoreRepository) SetNow(now func() time.Time) {
	r.now = now
}

func (r *StoreRepository) find(ctx context.Context, userID, key string) (store.Row, error) {
	rows, err := r.store.ListOwnedByUser(ctx, store.TableIdempotencyKeys, userID)
	if err != nil {
		return store.Row{}, fmt.Errorf("list idempotency records: %w", err)
	}
	for _, row := range rows {
		if store.StringField(row.Doc, "key") == key {
			return row, nil
		}
	}
	return store.Row{}, ErrKeyNotFound
}
