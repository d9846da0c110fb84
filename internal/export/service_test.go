package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/onnwee/finance-governance/internal/audit"
	"github.com/onnwee/finance-governance/internal/blob"
	"github.com/onnwee/finance-governance/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.MemoryStore, *blob.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	blobs := blob.NewMemoryStore()
	svc := NewService(st, blobs, audit.NewWriter(st, nil), nil, nil)
	return svc, st, blobs
}

func boolPtr(b bool) *bool { return &b }

func TestRequestValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Request(ctx, "user-1", RequestInput{Scope: ScopeFullAccount, Format: "xml"}); !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("Request(xml) error = %v, want ErrInvalidFormat", err)
	}
	if _, err := svc.Request(ctx, "user-1", RequestInput{Scope: "everything", Format: FormatJSON}); !errors.Is(err, ErrInvalidScope) {
		t.Errorf("Request(bad scope) error = %v, want ErrInvalidScope", err)
	}
	if _, err := svc.Request(ctx, "user-1", RequestInput{ExportKind: "wat", Scope: ScopeFullAccount, Format: FormatJSON}); !errors.Is(err, ErrInvalidKind) {
		t.Errorf("Request(bad kind) error = %v, want ErrInvalidKind", err)
	}
}

func TestRequestDefaults(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	req, err := svc.Request(ctx, "user-1", RequestInput{Scope: ScopeFullAccount, Format: FormatJSON})
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if req.Status != StatusRequested {
		t.Errorf("status = %q, want %q", req.Status, StatusRequested)
	}
	if !req.IncludeAuditTrail {
		t.Error("IncludeAuditTrail should default to true")
	}
	if req.IncludeDeletedArtifacts {
		t.Error("IncludeDeletedArtifacts should default to false")
	}
	if req.ID == "" {
		t.Error("request id not assigned")
	}
	if req.RequestedAt.IsZero() {
		t.Error("requestedAt not stamped")
	}
}

func TestGenerateHappyPath(t *testing.T) {
	svc, st, blobs := newTestService(t)
	ctx := context.Background()

	if _, err := st.Insert(ctx, store.TableTransactions, map[string]any{
		"userId": "user-1", "amount": 1250, "memo": "rent",
	}); err != nil {
		t.Fatalf("seed transaction: %v", err)
	}
	if _, err := st.Insert(ctx, store.TableTransactions, map[string]any{
		"userId": "user-2", "amount": 999, "memo": "someone else",
	}); err != nil {
		t.Fatalf("seed transaction: %v", err)
	}

	req, err := svc.Request(ctx, "user-1", RequestInput{
		ExportKind: KindTransactions,
		Scope:      ScopeFinanceOnly,
		Format:     FormatJSON,
	})
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}

	updated, dl, err := svc.Generate(ctx, "user-1", req.ID)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if updated.Status != StatusReady {
		t.Errorf("status = %q, want %q", updated.Status, StatusReady)
	}
	if updated.CompletedAt == nil {
		t.Error("completedAt not stamped")
	}
	if updated.LatestFilename != dl.Filename {
		t.Errorf("latestFilename = %q, download filename = %q", updated.LatestFilename, dl.Filename)
	}

	data, contentType, ok := blobs.Get(dl.StorageID)
	if !ok {
		t.Fatal("artifact missing from blob store")
	}
	if contentType != "application/json" {
		t.Errorf("content type = %q, want application/json", contentType)
	}
	if got := Checksum(data); got != dl.ChecksumSHA256 {
		t.Errorf("stored checksum = %q, artifact checksum = %q", dl.ChecksumSHA256, got)
	}
	if dl.ByteSize != len(data) {
		t.Errorf("byteSize = %d, artifact is %d bytes", dl.ByteSize, len(data))
	}
	if len(dl.DownloadToken) != DownloadTokenBytes*2 {
		t.Errorf("token length = %d, want %d", len(dl.DownloadToken), DownloadTokenBytes*2)
	}
	if !dl.ExpiresAt.After(time.Now()) {
		t.Error("artifact already expired")
	}

	var bundle Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		t.Fatalf("artifact is not valid json: %v", err)
	}
	if len(bundle.Tables) != 1 || bundle.Tables[0].Table != store.TableTransactions {
		t.Fatalf("bundle tables = %+v, want only transactions", bundle.Tables)
	}
	if got := len(bundle.Tables[0].Rows); got != 1 {
		t.Errorf("exported %d transaction rows, want 1 (owner-scoped)", got)
	}

	// Completion must be audited.
	events, err := st.ListOwnedByUser(ctx, store.TableFinanceAuditEvents, "user-1")
	if err != nil {
		t.Fatalf("list audit events: %v", err)
	}
	var sawCompleted bool
	for _, row := range events {
		if store.StringField(row.Doc, "action") == audit.ActionExportCompleted {
			sawCompleted = true
		}
	}
	if !sawCompleted {
		t.Error("no export_completed audit event recorded")
	}
}

func TestGenerateStripsDownloadTokens(t *testing.T) {
	svc, st, blobs := newTestService(t)
	ctx := context.Background()

	// A pre-existing artifact whose token must not appear inside a later
	// export of the downloads table.
	if _, err := st.Insert(ctx, store.TableExportDownloads, map[string]any{
		"userId":        "user-1",
		"exportId":      "earlier",
		"status":        StatusReady,
		"downloadToken": "super-secret-token",
	}); err != nil {
		t.Fatalf("seed download: %v", err)
	}

	req, err := svc.Request(ctx, "user-1", RequestInput{Scope: ScopePrivacyOnly, Format: FormatJSON})
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	_, dl, err := svc.Generate(ctx, "user-1", req.ID)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	data, _, ok := blobs.Get(dl.StorageID)
	if !ok {
		t.Fatal("artifact missing from blob store")
	}
	if bytes.Contains(data, []byte("super-secret-token")) {
		t.Error("exported bundle leaked a download token")
	}

	// The seeded row itself must be untouched.
	rows, err := st.ListOwnedByUser(ctx, store.TableExportDownloads, "user-1")
	if err != nil {
		t.Fatalf("list downloads: %v", err)
	}
	var sawToken bool
	for _, row := range rows {
		if store.StringField(row.Doc, "downloadToken") == "super-secret-token" {
			sawToken = true
		}
	}
	if !sawToken {
		t.Error("stored download row lost its token")
	}
}

func TestGenerateSkipsDeletedArtifacts(t *testing.T) {
	svc, st, blobs := newTestService(t)
	ctx := context.Background()

	if _, err := st.Insert(ctx, store.TableExportDownloads, map[string]any{
		"userId": "user-1", "exportId": "old", "status": StatusReady, "deleted": true,
	}); err != nil {
		t.Fatalf("seed download: %v", err)
	}

	req, err := svc.Request(ctx, "user-1", RequestInput{Scope: ScopePrivacyOnly, Format: FormatJSON})
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	_, dl, err := svc.Generate(ctx, "user-1", req.ID)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	data, _, _ := blobs.Get(dl.StorageID)
	var bundle Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		t.Fatalf("artifact is not valid json: %v", err)
	}
	for _, section := range bundle.Tables {
		if section.Table != store.TableExportDownloads {
			continue
		}
		for _, row := range section.Rows {
			if deleted, _ := row["deleted"].(bool); deleted {
				t.Error("deleted artifact row was exported")
			}
		}
	}
}

func TestGenerateFromCancelled(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	req, err := svc.Request(ctx, "user-1", RequestInput{Scope: ScopeFullAccount, Format: FormatJSON})
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if _, err := svc.Cancel(ctx, "user-1", req.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	if _, _, err := svc.Generate(ctx, "user-1", req.ID); !errors.Is(err, ErrRequestCancelled) {
		t.Errorf("Generate(cancelled) error = %v, want ErrRequestCancelled", err)
	}
}

func TestGenerateTwice(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	req, err := svc.Request(ctx, "user-1", RequestInput{Scope: ScopeFinanceOnly, Format: FormatJSON})
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if _, _, err := svc.Generate(ctx, "user-1", req.ID); err != nil {
		t.Fatalf("first Generate() error = %v", err)
	}

	// Terminal states never re-enter processing.
	if _, _, err := svc.Generate(ctx, "user-1", req.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Generate() error = %v, want ErrInvalidState", err)
	}
}

func TestGenerateWrongOwner(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	req, err := svc.Request(ctx, "user-1", RequestInput{Scope: ScopeFinanceOnly, Format: FormatJSON})
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if _, _, err := svc.Generate(ctx, "user-2", req.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Generate(foreign owner) error = %v, want ErrNotFound", err)
	}
}

func TestGenerateZIPFailsRequest(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	req, err := svc.Request(ctx, "user-1", RequestInput{Scope: ScopeFullAccount, Format: FormatZIP})
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}

	_, _, err = svc.Generate(ctx, "user-1", req.ID)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("Generate(zip) error = %v, want ErrUnsupportedFormat", err)
	}

	failed, err := svc.Get(ctx, "user-1", req.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if failed.Status != StatusFailed {
		t.Errorf("status = %q, want %q", failed.Status, StatusFailed)
	}
	if failed.ErrorMessage == "" {
		t.Error("errorMessage not captured")
	}

	events, err := st.ListOwnedByUser(ctx, store.TableFinanceAuditEvents, "user-1")
	if err != nil {
		t.Fatalf("list audit events: %v", err)
	}
	var sawFailed bool
	for _, row := range events {
		if store.StringField(row.Doc, "action") == audit.ActionExportFailed {
			sawFailed = true
		}
	}
	if !sawFailed {
		t.Error("no export_failed audit event recorded")
	}
}

func TestCancelTerminal(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	req, err := svc.Request(ctx, "user-1", RequestInput{Scope: ScopeFinanceOnly, Format: FormatJSON})
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if _, _, err := svc.Generate(ctx, "user-1", req.ID); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if _, err := svc.Cancel(ctx, "user-1", req.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Cancel(ready) error = %v, want ErrInvalidState", err)
	}
}

func TestList(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	for range 3 {
		if _, err := svc.Request(ctx, "user-1", RequestInput{Scope: ScopeFinanceOnly, Format: FormatJSON}); err != nil {
			t.Fatalf("Request() error = %v", err)
		}
	}
	if _, err := svc.Request(ctx, "user-2", RequestInput{Scope: ScopeFinanceOnly, Format: FormatJSON}); err != nil {
		t.Fatalf("Request() error = %v", err)
	}

	got, err := svc.List(ctx, "user-1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 3 {
		t.Errorf("List() returned %d requests, want 3", len(got))
	}
}

func TestRequestIncludeAuditTrailExplicitFalse(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	req, err := svc.Request(ctx, "user-1", RequestInput{
		Scope:             ScopeFullAccount,
		Format:            FormatJSON,
		IncludeAuditTrail: boolPtr(false),
	})
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if req.IncludeAuditTrail {
		t.Error("IncludeAuditTrail = true, want false")
	}
}
