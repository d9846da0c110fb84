package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/onnwee/finance-governance/internal/idempotency"
	"github.com/onnwee/finance-governance/internal/store"
)

func newIdempotencyHandler(t *testing.T) (http.Handler, *int) {
	t.Helper()
	repo := idempotency.NewStoreRepository(store.NewMemoryStore(), nil)
	routes := map[string]bool{"/v1/exports": true}

	calls := 0
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"export":{"call":%d}}`, calls)
	})

	return Idempotency(repo, routes)(inner), &calls
}

func doIdempotent(handler http.Handler, method, path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req = req.WithContext(SetUserID(req.Context(), "user-1"))
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestIdempotency_ReplaysStoredResponse(t *testing.T) {
	handler, calls := newIdempotencyHandler(t)

	first := doIdempotent(handler, http.MethodPost, "/v1/exports", "key-1")
	if first.Code != http.StatusCreated {
		t.Fatalf("first status = %d, want %d", first.Code, http.StatusCreated)
	}

	second := doIdempotent(handler, http.MethodPost, "/v1/exports", "key-1")
	if second.Code != http.StatusCreated {
		t.Errorf("replay status = %d, want %d", second.Code, http.StatusCreated)
	}
	if got, want := second.Body.String(), first.Body.String(); got != want {
		t.Errorf("replay body = %q, want original %q", got, want)
	}
	if *calls != 1 {
		t.Errorf("handler ran %d times, want 1", *calls)
	}
}

func TestIdempotency_DistinctKeysRunSeparately(t *testing.T) {
	handler, calls := newIdempotencyHandler(t)

	doIdempotent(handler, http.MethodPost, "/v1/exports", "key-1")
	doIdempotent(handler, http.MethodPost, "/v1/exports", "key-2")

	if *calls != 2 {
		t.Errorf("handler ran %d times, want 2", *calls)
	}
}

func TestIdempotency_MissingKey(t *testing.T) {
	handler, calls := newIdempotencyHandler(t)

	rec := doIdempotent(handler, http.MethodPost, "/v1/exports", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp.Error.Code != "missing_idempotency_key" {
		t.Errorf("error code = %q, want missing_idempotency_key", resp.Error.Code)
	}
	if *calls != 0 {
		t.Errorf("handler ran %d times, want 0", *calls)
	}
}

func TestIdempotency_KeyTooLong(t *testing.T) {
	handler, calls := newIdempotencyHandler(t)

	rec := doIdempotent(handler, http.MethodPost, "/v1/exports", strings.Repeat("k", idempotency.MaxKeyLength+1))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if *calls != 0 {
		t.Errorf("handler ran %d times, want 0", *calls)
	}
}

func TestIdempotency_IgnoresOtherRoutesAndMethods(t *testing.T) {
	handler, calls := newIdempotencyHandler(t)

	// No key needed off the configured routes or for non-POST methods.
	rec := doIdempotent(handler, http.MethodPost, "/v1/consent", "")
	if rec.Code != http.StatusCreated {
		t.Errorf("other route status = %d, want pass-through %d", rec.Code, http.StatusCreated)
	}
	rec = doIdempotent(handler, http.MethodGet, "/v1/exports", "")
	if rec.Code != http.StatusCreated {
		t.Errorf("GET status = %d, want pass-through %d", rec.Code, http.StatusCreated)
	}
	if *calls != 2 {
		t.Errorf("handler ran %d times, want 2", *calls)
	}
}

func TestIdempotency_FailuresAreNotCached(t *testing.T) {
	repo := idempotency.NewStoreRepository(store.NewMemoryStore(), nil)
	routes := map[string]bool{"/v1/exports": true}

	calls := 0
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})
	handler := Idempotency(repo, routes)(inner)

	first := doIdempotent(handler, http.MethodPost, "/v1/exports", "key-1")
	if first.Code != http.StatusServiceUnavailable {
		t.Fatalf("first status = %d, want %d", first.Code, http.StatusServiceUnavailable)
	}

	// The failed attempt is retryable with the same key.
	second := doIdempotent(handler, http.MethodPost, "/v1/exports", "key-1")
	if second.Code != http.StatusCreated {
		t.Errorf("retry status = %d, want %d", second.Code, http.StatusCreated)
	}
	if calls != 2 {
		t.Errorf("handler ran %d times, want 2", calls)
	}
}
