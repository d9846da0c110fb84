// Package export implements the user-data export workflow: request,
// bundle-build, serialize, store, finalize, plus the token-gated download
// path for the generated artifacts.
package export

import (
	"errors"
	"fmt"
	"time"

	"github.com/onnwee/finance-governance/internal/store"
)

// Export kinds. A kind narrows or replaces the scope's base table set; an
// empty kind leaves the scope untouched.
const (
	KindTransactions = "transactions"
	KindLedger       = "ledger"
	KindAudit        = "audit"
	KindGDPRBundle   = "gdpr_bundle"
)

// Export scopes, each mapping to a base table group.
const (
	ScopeFullAccount = "full_account"
	ScopeFinanceOnly = "finance_only"
	ScopePrivacyOnly = "privacy_only"
	ScopeAuditOnly   = "audit_only"
)

// Serialization formats. FormatZIP is accepted on requests but generation
// rejects it; it exists so the request surface matches what callers ask for.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatZIP  = "zip"
)

// Request statuses. Ready, failed and cancelled are terminal.
const (
	StatusRequested  = "requested"
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

var (
	// ErrInvalidKind is returned for an export kind outside the known set.
	ErrInvalidKind = errors.New("invalid export kind")

	// ErrInvalidScope is returned for a scope outside the known set.
	ErrInvalidScope = errors.New("invalid export scope")

	// ErrInvalidFormat is returned for a format outside the known set.
	ErrInvalidFormat = errors.New("invalid export format")

	// ErrUnsupportedFormat is returned when generation hits a declared but
	// unimplemented format instead of silently falling back to another one.
	ErrUnsupportedFormat = errors.New("export format not implemented")

	// ErrRequestCancelled is returned when generation is attempted for a
	// cancelled request.
	ErrRequestCancelled = errors.New("export request is cancelled")

	// ErrInvalidState is returned for a transition the request's current
	// status does not allow.
	ErrInvalidState = errors.New("invalid export request state")
)

// Request is one user-data export request. A request is owned by exactly one
// user and is terminal once ready, failed or cancelled.
type Request struct {
	ID                      string     `json:"id,omitempty"`
	UserID                  string     `json:"userId"`
	ExportKind              string     `json:"exportKind,omitempty"`
	Format                  string     `json:"format"`
	Scope                   string     `json:"scope"`
	Status                  string     `json:"status"`
	IncludeAuditTrail       bool       `json:"includeAuditTrail"`
	IncludeDeletedArtifacts bool       `json:"includeDeletedArtifacts"`
	ErrorMessage            string     `json:"errorMessage,omitempty"`
	RequestedAt             time.Time  `json:"requestedAt"`
	UpdatedAt               time.Time  `json:"updatedAt,omitempty"`
	CompletedAt             *time.Time `json:"completedAt,omitempty"`
	LatestFilename          string     `json:"latestFilename,omitempty"`
	LatestExpiresAt         *time.Time `json:"latestExpiresAt,omitempty"`
}

// Terminal reports whether the request can no longer transition.
func (r Request) Terminal() bool {
	return TerminalStatus(r.Status)
}

// TerminalStatus reports whether a request status is terminal.
func TerminalStatus(status string) bool {
	switch status {
	case StatusReady, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Download is the stored artifact record created when a request completes.
// Possession of DownloadToken plus non-expiry grants read access to the blob.
type Download struct {
	ID               string     `json:"id,omitempty"`
	ExportID         string     `json:"exportId"`
	UserID           string     `json:"userId"`
	Status           string     `json:"status"`
	Filename         string     `json:"filename"`
	Format           string     `json:"format"`
	ByteSize         int        `json:"byteSize"`
	ChecksumSHA256   string     `json:"checksumSha256"`
	ContentType      string     `json:"contentType"`
	StorageID        string     `json:"storageId"`
	DownloadToken    string     `json:"downloadToken"`
	ExpiresAt        time.Time  `json:"expiresAt"`
	DownloadCount    int        `json:"downloadCount"`
	LastDownloadedAt *time.Time `json:"lastDownloadedAt,omitempty"`
}

var financeTables = []string{
	store.TableAccounts,
	store.TableTransactions,
	store.TablePurchases,
	store.TableBudgets,
	store.TableLedgerEntries,
	store.TableLedgerLines,
}

var privacyTables = []string{
	store.TableExportRequests,
	store.TableExportDownloads,
	store.TableRetentionPolicies,
	store.TableDeletionJobs,
	store.TableConsentSettings,
	store.TableConsentLogs,
}

func scopeTables(scope string) ([]string, error) {
	switch scope {
	case ScopeFullAccount:
		out := append([]string{}, financeTables...)
		out = append(out, store.TableFinanceAuditEvents)
		return append(out, privacyTables...), nil
	case ScopeFinanceOnly:
		return append([]string{}, financeTables...), nil
	case ScopePrivacyOnly:
		return append([]string{}, privacyTables...), nil
	case ScopeAuditOnly:
		return []string{store.TableFinanceAuditEvents}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrInvalidScope, scope)
}

// ResolveTables computes the table set a request exports, in catalog order.
// The kind overrides the scope's base set; gdpr_bundle unions the full
// account with the privacy tables; includeAuditTrail=false strips the audit
// table last, regardless of how it entered the set.
func ResolveTables(kind, scope string, includeAuditTrail bool) ([]string, error) {
	base, err := scopeTables(scope)
	if err != nil {
		return nil, err
	}

	switch kind {
	case "":
	case KindTransactions:
		base = []string{store.TableTransactions}
	case KindLedger:
		base = []string{store.TableLedgerEntries, store.TableLedgerLines}
	case KindAudit:
		base = []string{store.TableFinanceAuditEvents}
	case KindGDPRBundle:
		base, _ = scopeTables(ScopeFullAccount)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidKind, kind)
	}

	include := make(map[string]bool, len(base))
	for _, t := range base {
		include[t] = true
	}
	if !includeAuditTrail {
		delete(include, store.TableFinanceAuditEvents)
	}

	var out []string
	for _, t := range store.Tables() {
		if include[t] {
			out = append(out, t)
		}
	}
	return out, nil
}

// ValidKind reports whether the kind is known. The empty kind is valid and
// means scope-driven.
func ValidKind(kind string) bool {
	switch kind {
	case "", KindTransactions, KindLedger, KindAudit, KindGDPRBundle:
		return true
	}
	return false
}

// ValidScope reports whether the scope is known.
func ValidScope(scope string) bool {
	switch scope {
	case ScopeFullAccount, ScopeFinanceOnly, ScopePrivacyOnly, ScopeAuditOnly:
		return true
	}
	return false
}

// ValidFormat reports whether the format is known. FormatZIP is known even
// though generation rejects it.
func ValidFormat(format string) bool {
	switch format {
	case FormatJSON, FormatCSV, FormatZIP:
		return true
	}
	return false
}
