package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/onnwee/finance-governance/internal/tracing"
)

// PostgresStore implements Store on a single jsonb documents table
// (governance_documents). Every statement touches exactly one row, which is
// what gives the engine its per-document atomicity without transactions.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new Postgres-backed document store.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{db: db, logger: logger}
}

const rowColumns = "id, user_id, owner_key, created_at, updated_at, doc"

// Insert stores a new document and returns the full row.
func (s *PostgresStore) Insert(ctx context.Context, table string, doc map[string]any) (Row, error) {
	if !KnownTable(table) {
		return Row{}, ErrUnknownTable
	}

	now := time.Now().UTC()
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

	raw, err := json.Marshal(row.Doc)
	if err != nil {
		return Row{}, fmt.Errorf("marshal document: %w", err)
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, table, tracing.DBOperationInsert)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO governance_documents (table_name, id, user_id, owner_key, created_at, updated_at, doc)
		VALUES ($1, $2, $3, $4, $5, $5, $6)`,
		table, row.ID, row.UserID, row.OwnerKey, now, raw)
	endSpan(err)
	if err != nil {
		return Row{}, fmt.Errorf("insert into %s: %w", table, err)
	}
	return row, nil
}

// Get retrieves a document by id regardless of owner.
func (s *PostgresStore) Get(ctx context.Context, table, id string) (Row, error) {
	return s.queryRowSpan(ctx, table, tracing.DBOperationQuery, `
		SELECT `+rowColumns+` FROM governance_documents
		WHERE table_name = $1 AND id = $2`,
		table, id)
}

// GetOwned retrieves a document by id scoped to the owning user. Rows owned
// by someone else are reported as not found.
func (s *PostgresStore) GetOwned(ctx context.Context, table, id, userID string) (Row, error) {
	return s.queryRowSpan(ctx, table, tracing.DBOperationQuery, `
		SELECT `+rowColumns+` FROM governance_documents
		WHERE table_name = $1 AND id = $2 AND user_id = $3`,
		table, id, userID)
}

// Patch merges fields into an existing document in a single atomic UPDATE.
// Fields with a nil value are removed from the document.
func (s *PostgresStore) Patch(ctx context.Context, table, id string, fields map[string]any) (Row, error) {
	set := make(map[string]any, len(fields))
	var unset []string
	for k, v := range fields {
		if v == nil {
			unset = append(unset, k)
			continue
		}
		set[k] = v
	}
	raw, err := json.Marshal(set)
	if err != nil {
		return Row{}, fmt.Errorf("marshal patch: %w", err)
	}
	if unset == nil {
		unset = []string{}
	}

	// GREATEST keeps updated_at monotonically non-decreasing under clock
	// skew; the mirrored doc field is rewritten in the same statement.
	return s.queryRowSpan(ctx, table, tracing.DBOperationUpdate, `
		UPDATE governance_documents
		SET updated_at = GREATEST(now(), updated_at),
		    doc = jsonb_set(
		        (doc - $4::text[]) || $3::jsonb,
		        '{updatedAt}',
		        to_jsonb(to_char(GREATEST(now(), updated_at) AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS.US"Z"'))
		    )
		WHERE table_name = $1 AND id = $2
		RETURNING `+rowColumns,
		table, id, raw, pq.Array(unset))
}

// Delete removes a document. Missing ids return ErrNotFound.
func (s *PostgresStore) Delete(ctx context.Context, table, id string) error {
	ctx, endSpan := tracing.StartDBSpan(ctx, table, tracing.DBOperationDelete)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM governance_documents
		WHERE table_name = $1 AND id = $2`,
		table, id)
	endSpan(err)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListOwnedByUser returns documents owned by the user, oldest first.
func (s *PostgresStore) ListOwnedByUser(ctx context.Context, table, userID string) ([]Row, error) {
	return s.queryRowsSpan(ctx, table, `
		SELECT `+rowColumns+` FROM governance_documents
		WHERE table_name = $1 AND user_id = $2
		ORDER BY created_at, id`,
		table, userID)
}

// ListByOwnerKey returns documents matching the derived owner key.
func (s *PostgresStore) ListByOwnerKey(ctx context.Context, table, ownerKey string) ([]Row, error) {
	return s.queryRowsSpan(ctx, table, `
		SELECT `+rowColumns+` FROM governance_documents
		WHERE table_name = $1 AND owner_key = $2
		ORDER BY created_at, id`,
		table, ownerKey)
}

// ListAll returns every document in the table. Best-effort: query failures
// are logged and produce an empty result so batch callers keep going.
func (s *PostgresStore) ListAll(ctx context.Context, table string) ([]Row, error) {
	rows, err := s.queryRowsSpan(ctx, table, `
		SELECT `+rowColumns+` FROM governance_documents
		WHERE table_name = $1
		ORDER BY created_at, id`,
		table)
	if err != nil {
		s.logger.Warn("list all failed, returning empty result",
			slog.String("table", table),
			slog.String("error", err.Error()))
		return nil, nil
	}
	return rows, nil
}

// ListUserIDs returns the distinct user ids present in the given tables,
// sorted. With no arguments it spans every user-owned table.
func (s *PostgresStore) ListUserIDs(ctx context.Context, tables ...string) ([]string, error) {
	if len(tables) == 0 {
		tables = TablesOwnedBy(OwnedByUser)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT user_id FROM governance_documents
		WHERE table_name = ANY($1) AND user_id <> ''
		ORDER BY user_id`,
		pq.Array(tables))
	if err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list user ids: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *PostgresStore) queryRowSpan(ctx context.Context, table string, op tracing.DBOperation, query string, args ...any) (Row, error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, table, op)
	row, err := s.queryRow(ctx, query, args...)
	if err == ErrNotFound {
		// Absence is a result, not a span error
		endSpan(nil)
	} else {
		endSpan(err)
	}
	return row, err
}

func (s *PostgresStore) queryRowsSpan(ctx context.Context, table string, query string, args ...any) ([]Row, error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, table, tracing.DBOperationQuery)
	rows, err := s.queryRows(ctx, query, args...)
	endSpan(err)
	return rows, err
}

func (s *PostgresStore) queryRow(ctx context.Context, query string, args ...any) (Row, error) {
	var (
		row Row
		raw []byte
	)
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&row.ID, &row.UserID, &row.OwnerKey, &row.CreatedAt, &row.UpdatedAt, &raw)
	if err == sql.ErrNoRows {
		return Row{}, ErrNotFound
	}
	if err != nil {
		return Row{}, fmt.Errorf("query document: %w", err)
	}
	if err := json.Unmarshal(raw, &row.Doc); err != nil {
		return Row{}, fmt.Errorf("unmarshal document %s: %w", row.ID, err)
	}
	row.CreatedAt = row.CreatedAt.UTC()
	row.UpdatedAt = row.UpdatedAt.UTC()
	return row, nil
}

func (s *PostgresStore) queryRows(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			row Row
			raw []byte
		)
		if err := rows.Scan(&row.ID, &row.UserID, &row.OwnerKey, &row.CreatedAt, &row.UpdatedAt, &raw); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if err := json.Unmarshal(raw, &row.Doc); err != nil {
			return nil, fmt.Errorf("unmarshal document %s: %w", row.ID, err)
		}
		row.CreatedAt = row.CreatedAt.UTC()
		row.UpdatedAt = row.UpdatedAt.UTC()
		out = append(out, row)
	}
	return out, rows.Err()
}
