package export

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/onnwee/finance-governance/internal/store"
)

// DownloadTokenBytes is the entropy of a download token before hex encoding.
const DownloadTokenBytes = 32

// ExpiryWindow is how long a generated artifact stays downloadable.
const ExpiryWindow = 7 * 24 * time.Hour

// csvHeader is the fixed column set for CSV exports. The trailing json
// column carries the full serialized row.
var csvHeader = []string{
	"table", "row_id", "created_at", "updated_at", "user_id",
	"entity_type", "entity_id", "action", "status", "json",
}

// Bundle is the in-memory form of one export before serialization. Tables
// appear in catalog order so re-serializing the same bundle is byte-stable.
type Bundle struct {
	UserID     string         `json:"userId"`
	ExportKind string         `json:"exportKind,omitempty"`
	Scope      string         `json:"scope"`
	ExportedAt time.Time      `json:"exportedAt"`
	Tables     []TableSection `json:"tables"`
}

// TableSection is one table's exported rows.
type TableSection struct {
	Table string           `json:"table"`
	Rows  []map[string]any `json:"rows"`
}

// RowCount returns the total number of rows across all sections.
func (b Bundle) RowCount() int {
	n := 0
	for _, s := range b.Tables {
		n += len(s.Rows)
	}
	return n
}

// Serialize renders the bundle in the requested format. Map keys inside each
// row are emitted sorted, so identical bundles always produce identical
// bytes.
func Serialize(b Bundle, format string) ([]byte, error) {
	switch format {
	case FormatJSON:
		return serializeJSON(b)
	case FormatCSV:
		return serializeCSV(b)
	case FormatZIP:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	return nil, fmt.Errorf("%w: %s", ErrInvalidFormat, format)
}

func serializeJSON(b Bundle) ([]byte, error) {
	out, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serialize export json: %w", err)
	}
	return out, nil
}

func serializeCSV(b Bundle) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("serialize export csv: %w", err)
	}
	for _, section := range b.Tables {
		for _, row := range section.Rows {
			raw, err := json.Marshal(row)
			if err != nil {
				return nil, fmt.Errorf("serialize export csv: %w", err)
			}
			record := []string{
				section.Table,
				store.StringField(row, store.FieldID),
				store.StringField(row, store.FieldCreatedAt),
				store.StringField(row, store.FieldUpdatedAt),
				store.StringField(row, store.FieldUserID),
				store.StringField(row, "entityType"),
				store.StringField(row, "entityId"),
				store.StringField(row, "action"),
				store.StringField(row, "status"),
				string(raw),
			}
			if err := w.Write(record); err != nil {
				return nil, fmt.Errorf("serialize export csv: %w", err)
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("serialize export csv: %w", err)
	}
	return buf.Bytes(), nil
}

// Checksum returns the hex SHA-256 of the exact serialized bytes.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// NewDownloadToken returns an opaque high-entropy access token.
func NewDownloadToken() (string, error) {
	buf := make([]byte, DownloadTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate download token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Filename builds the artifact filename. Timestamps use UTC with colons
// replaced by dashes and sub-second precision stripped.
func Filename(kind, scope, format string, t time.Time) string {
	if kind == "" {
		kind = "export"
	}
	stamp := t.UTC().Format("2006-01-02T15-04-05Z")
	return fmt.Sprintf("finance-%s-%s-%s.%s", kind, scope, stamp, format)
}

// ContentTypeFor returns the MIME type served for a format.
func ContentTypeFor(format string) string {
	switch format {
	case FormatCSV:
		return "text/csv"
	default:
		return "application/json"
	}
}
