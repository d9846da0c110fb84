package consent

import (
	"context"
	"testing"

	"github.com/onnwee/finance-governance/internal/audit"
	"github.com/onnwee/finance-governance/internal/store"
)

func boolPtr(b bool) *bool { return &b }

func newService(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	return NewService(s, audit.NewWriter(s, nil), nil), s
}

func TestGet_DefaultsWithoutCreating(t *testing.T) {
	svc, s := newService(t)
	ctx := context.Background()

	settings, err := svc.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if settings.AnalyticsEnabled || settings.DiagnosticsEnabled {
		t.Errorf("defaults = %+v, want all false", settings)
	}

	rows, _ := s.ListAll(ctx, store.TableConsentSettings)
	if len(rows) != 0 {
		t.Errorf("Get() created %d rows, want 0", len(rows))
	}
}

func TestUpdate_OneLogRowPerChangedFlag(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	// analytics false→true, diagnostics explicitly unchanged (false→false).
	settings, err := svc.Update(ctx, "user-1", UpdateInput{
		Analytics:   boolPtr(true),
		Diagnostics: boolPtr(false),
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if !settings.AnalyticsEnabled {
		t.Error("analytics should be enabled")
	}

	logs, err := svc.Logs(ctx, "user-1")
	if err != nil {
		t.Fatalf("Logs() error = %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("got %d log rows, want exactly 1", len(logs))
	}
	if logs[0].ConsentType != TypeAnalytics {
		t.Errorf("ConsentType = %q, want %q", logs[0].ConsentType, TypeAnalytics)
	}
	if !logs[0].Enabled {
		t.Error("log row should record enabled=true")
	}
	if logs[0].Version != Version {
		t.Errorf("Version = %q, want %q", logs[0].Version, Version)
	}
}

func TestUpdate_NoChangesNoLogs(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.Update(ctx, "user-1", UpdateInput{Analytics: boolPtr(true)}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	// Re-sending the same value must not log.
	if _, err := svc.Update(ctx, "user-1", UpdateInput{Analytics: boolPtr(true)}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	logs, err := svc.Logs(ctx, "user-1")
	if err != nil {
		t.Fatalf("Logs() error = %v", err)
	}
	if len(logs) != 1 {
		t.Errorf("got %d log rows, want 1", len(logs))
	}
}

func TestUpdate_BothFlagsChangedLogsBoth(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.Update(ctx, "user-1", UpdateInput{
		Analytics:   boolPtr(true),
		Diagnostics: boolPtr(true),
		Reason:      "onboarding",
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	logs, err := svc.Logs(ctx, "user-1")
	if err != nil {
		t.Fatalf("Logs() error = %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("got %d log rows, want 2", len(logs))
	}
	types := map[string]bool{}
	for _, l := range logs {
		types[l.ConsentType] = true
		if l.Reason != "onboarding" {
			t.Errorf("Reason = %q, want onboarding", l.Reason)
		}
	}
	if !types[TypeAnalytics] || !types[TypeDiagnostics] {
		t.Errorf("logged types = %v", types)
	}
}

func TestUpdate_SingletonRowReused(t *testing.T) {
	svc, s := newService(t)
	ctx := context.Background()

	first, err := svc.Update(ctx, "user-1", UpdateInput{Analytics: boolPtr(true)})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	second, err := svc.Update(ctx, "user-1", UpdateInput{Diagnostics: boolPtr(true)})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("settings row changed id: %q then %q", first.ID, second.ID)
	}

	rows, _ := s.ListAll(ctx, store.TableConsentSettings)
	if len(rows) != 1 {
		t.Errorf("got %d settings rows, want 1", len(rows))
	}
	if !second.AnalyticsEnabled || !second.DiagnosticsEnabled {
		t.Errorf("settings = %+v, want both flags set", second)
	}
}
