package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/onnwee/finance-governance/internal/auth"
)

const testSigningSecret = "test-signing-secret-for-middleware"

func mintTestToken(t *testing.T, subject string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestAuth_ValidToken(t *testing.T) {
	verifier := auth.NewVerifier(testSigningSecret)

	var capturedUserID string
	handler := Auth(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedUserID = GetUserID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/exports", nil)
	req.Header.Set("Authorization", "Bearer "+mintTestToken(t, "user-42"))
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rr.Code)
	}
	if capturedUserID != "user-42" {
		t.Errorf("got user ID %q, want user-42", capturedUserID)
	}
}

func TestAuth_MissingHeader(t *testing.T) {
	verifier := auth.NewVerifier(testSigningSecret)

	handler := Auth(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called without a token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/exports", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("got status %d, want 401", rr.Code)
	}
}

func TestAuth_MalformedHeader(t *testing.T) {
	verifier := auth.NewVerifier(testSigningSecret)

	handler := Auth(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called with a malformed header")
	}))

	tests := []string{
		"Bearer",
		"Bearer ",
		"Basic dXNlcjpwYXNz",
		mintTestToken(t, "user-42"), // missing Bearer prefix
	}

	for _, header := range tests {
		req := httptest.NewRequest(http.MethodGet, "/v1/exports", nil)
		req.Header.Set("Authorization", header)
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("header %q: got status %d, want 401", header, rr.Code)
		}
	}
}

func TestAuth_InvalidToken(t *testing.T) {
	verifier := auth.NewVerifier(testSigningSecret)

	handler := Auth(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called with an invalid token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/exports", nil)
	req.Header.Set("Authorization", "Bearer not-a-real-token")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("got status %d, want 401", rr.Code)
	}
}

// failingResolver always returns an error, for exercising the rejection path
// without a real verifier.
type failingResolver struct{}

func (failingResolver) Resolve(string) (string, error) {
	return "", errors.New("resolver unavailable")
}

func TestAuth_ResolverError(t *testing.T) {
	handler := Auth(failingResolver{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called when the resolver fails")
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/exports", nil)
	req.Header.Set("Authorization", "Bearer "+mintTestToken(t, "user-42"))
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("got status %d, want 401", rr.Code)
	}
}
