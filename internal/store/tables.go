package store

import (
	"crypto/sha256"
	"encoding/hex"
)

// Table names for the finance domain tables the engine reads and deletes.
const (
	TableAccounts           = "accounts"
	TableTransactions       = "transactions"
	TablePurchases          = "purchases"
	TableBudgets            = "budgets"
	TableLedgerEntries      = "ledgerEntries"
	TableLedgerLines        = "ledgerLines"
	TableFinanceAuditEvents = "financeAuditEvents"
)

// Table names for the governance tables this engine owns.
const (
	TableExportRequests    = "userExportRequests"
	TableExportDownloads   = "userExportDownloads"
	TableRetentionPolicies = "userRetentionPolicies"
	TableDeletionJobs      = "userDeletionJobs"
	TableConsentSettings   = "userConsentSettings"
	TableConsentLogs       = "userConsentLogs"
	TableIdempotencyKeys   = "idempotencyKeys"
)

// Table names for tables keyed by a derived owner key rather than user id.
const (
	TableDashboardSnapshots = "dashboardSnapshots"
	TablePlannerDrafts      = "plannerDrafts"
)

// Table names for global reference tables. These are shared across users and
// are never touched by sweeps or erasure.
const (
	TableCategories    = "categories"
	TableExchangeRates = "exchangeRates"
)

// Ownership describes how rows in a table are scoped to a user.
type Ownership int

const (
	// OwnedByUser means rows carry the raw user id.
	OwnedByUser Ownership = iota
	// OwnedByOwnerKey means rows carry a derived owner key (see OwnerKey).
	OwnedByOwnerKey
	// Global means rows are shared reference data with no owner.
	Global
)

// tableOrder fixes a deterministic iteration order for the catalog. Export
// serialization and erasure reporting both depend on this order being stable.
var tableOrder = []string{
	TableAccounts,
	TableTransactions,
	TablePurchases,
	TableBudgets,
	TableLedgerEntries,
	TableLedgerLines,
	TableFinanceAuditEvents,
	TableExportRequests,
	TableExportDownloads,
	TableRetentionPolicies,
	TableDeletionJobs,
	TableConsentSettings,
	TableConsentLogs,
	TableIdempotencyKeys,
	TableDashboardSnapshots,
	TablePlannerDrafts,
	TableCategories,
	TableExchangeRates,
}

var catalog = map[string]Ownership{
	TableAccounts:           OwnedByUser,
	TableTransactions:       OwnedByUser,
	TablePurchases:          OwnedByUser,
	TableBudgets:            OwnedByUser,
	TableLedgerEntries:      OwnedByUser,
	TableLedgerLines:        OwnedByUser,
	TableFinanceAuditEvents: OwnedByUser,
	TableExportRequests:     OwnedByUser,
	TableExportDownloads:    OwnedByUser,
	TableRetentionPolicies:  OwnedByUser,
	TableDeletionJobs:       OwnedByUser,
	TableConsentSettings:    OwnedByUser,
	TableConsentLogs:        OwnedByUser,
	TableIdempotencyKeys:    OwnedByUser,
	TableDashboardSnapshots: OwnedByOwnerKey,
	TablePlannerDrafts:      OwnedByOwnerKey,
	TableCategories:         Global,
	TableExchangeRates:      Global,
}

// Tables returns every table in the catalog in deterministic order.
func Tables() []string {
	out := make([]string, len(tableOrder))
	copy(out, tableOrder)
	return out
}

// TablesOwnedBy returns the tables with the given ownership mode, in
// deterministic catalog order.
func TablesOwnedBy(mode Ownership) []string {
	var out []string
	for _, t := range tableOrder {
		if catalog[t] == mode {
			out = append(out, t)
		}
	}
	return out
}

// OwnershipOf reports the ownership mode for a table. The second return value
// is false for tables outside the catalog.
func OwnershipOf(table string) (Ownership, bool) {
	mode, ok := catalog[table]
	return mode, ok
}

// KnownTable reports whether the table is part of the catalog.
func KnownTable(table string) bool {
	_, ok := catalog[table]
	return ok
}

// OwnerKey derives the namespaced owner key used by owner-key tables. It is
// intentionally not the raw user id: those tables predate direct user
// scoping and key rows by this value instead.
func OwnerKey(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return "user:" + hex.EncodeToString(sum[:])[:16]
}
