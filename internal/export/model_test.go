package export

import (
	"errors"
	"reflect"
	"testing"

	"github.com/onnwee/finance-governance/internal/store"
)

func TestResolveTables(t *testing.T) {
	tests := []struct {
		name         string
		kind         string
		scope        string
		includeAudit bool
		want         []string
	}{
		{
			name:         "ledger kind ignores audit flag",
			kind:         KindLedger,
			scope:        ScopeFullAccount,
			includeAudit: true,
			want:         []string{store.TableLedgerEntries, store.TableLedgerLines},
		},
		{
			name:         "transactions kind narrows to one table",
			kind:         KindTransactions,
			scope:        ScopeFinanceOnly,
			includeAudit: true,
			want:         []string{store.TableTransactions},
		},
		{
			name:         "audit kind without audit trail is empty",
			kind:         KindAudit,
			scope:        ScopeAuditOnly,
			includeAudit: false,
			want:         nil,
		},
		{
			name:         "finance only scope has no audit table",
			kind:         "",
			scope:        ScopeFinanceOnly,
			includeAudit: true,
			want: []string{
				store.TableAccounts,
				store.TableTransactions,
				store.TablePurchases,
				store.TableBudgets,
				store.TableLedgerEntries,
				store.TableLedgerLines,
			},
		},
		{
			name:         "privacy only scope",
			kind:         "",
			scope:        ScopePrivacyOnly,
			includeAudit: true,
			want: []string{
				store.TableExportRequests,
				store.TableExportDownloads,
				store.TableRetentionPolicies,
				store.TableDeletionJobs,
				store.TableConsentSettings,
				store.TableConsentLogs,
			},
		},
		{
			name:         "full account without audit trail strips audit table",
			kind:         "",
			scope:        ScopeFullAccount,
			includeAudit: false,
			want: []string{
				store.TableAccounts,
				store.TableTransactions,
				store.TablePurchases,
				store.TableBudgets,
				store.TableLedgerEntries,
				store.TableLedgerLines,
				store.TableExportRequests,
				store.TableExportDownloads,
				store.TableRetentionPolicies,
				store.TableDeletionJobs,
				store.TableConsentSettings,
				store.TableConsentLogs,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveTables(tt.kind, tt.scope, tt.includeAudit)
			if err != nil {
				t.Fatalf("ResolveTables() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ResolveTables() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResolveTablesGDPRBundle(t *testing.T) {
	got, err := ResolveTables(KindGDPRBundle, ScopeAuditOnly, true)
	if err != nil {
		t.Fatalf("ResolveTables() error = %v", err)
	}

	// The bundle always covers every finance and privacy table regardless of
	// the requested scope.
	want := map[string]bool{}
	full, _ := ResolveTables("", ScopeFullAccount, true)
	for _, table := range full {
		want[table] = true
	}
	if len(got) != len(want) {
		t.Fatalf("ResolveTables() returned %d tables, want %d", len(got), len(want))
	}
	for _, table := range got {
		if !want[table] {
			t.Errorf("unexpected table %q in bundle", table)
		}
	}
}

func TestResolveTablesCatalogOrder(t *testing.T) {
	got, err := ResolveTables("", ScopeFullAccount, true)
	if err != nil {
		t.Fatalf("ResolveTables() error = %v", err)
	}

	pos := map[string]int{}
	for i, table := range store.Tables() {
		pos[table] = i
	}
	for i := 1; i < len(got); i++ {
		if pos[got[i-1]] >= pos[got[i]] {
			t.Errorf("tables out of catalog order: %q before %q", got[i-1], got[i])
		}
	}
}

func TestResolveTablesInvalid(t *testing.T) {
	if _, err := ResolveTables("bogus", ScopeFullAccount, true); !errors.Is(err, ErrInvalidKind) {
		t.Errorf("ResolveTables(bogus kind) error = %v, want ErrInvalidKind", err)
	}
	if _, err := ResolveTables("", "bogus", true); !errors.Is(err, ErrInvalidScope) {
		t.Errorf("ResolveTables(bogus scope) error = %v, want ErrInvalidScope", err)
	}
}

func TestTerminalStatus(t *testing.T) {
	terminal := []string{StatusReady, StatusFailed, StatusCancelled}
	for _, status := range terminal {
		if !TerminalStatus(status) {
			t.Errorf("TerminalStatus(%q) = false, want true", status)
		}
	}
	for _, status := range []string{StatusRequested, StatusProcessing, ""} {
		if TerminalStatus(status) {
			t.Errorf("TerminalStatus(%q) = true, want false", status)
		}
	}
}
