package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/onnwee/finance-governance/internal/idempotency"
)

// IdempotencyKeyHeader is the HTTP header carrying the client's key.
const IdempotencyKeyHeader = "Idempotency-Key"

type idempotencyKeyContextKey struct{}

// idempotencyResponseWriter captures the response for replay storage while
// still writing it through.
type idempotencyResponseWriter struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
	written    bool
}

func newIdempotencyResponseWriter(w http.ResponseWriter) *idempotencyResponseWriter {
	return &idempotencyResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
		body:           &bytes.Buffer{},
	}
}

func (w *idempotencyResponseWriter) WriteHeader(statusCode int) {
	if !w.written {
		w.statusCode = statusCode
		w.written = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *idempotencyResponseWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.body.Write(b)
	return n, err
}

func (w *idempotencyResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// SetIdempotencyKey stores the key in the context.
func SetIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKeyContextKey{}, key)
}

// GetIdempotencyKey retrieves the key from context, or "" when absent.
func GetIdempotencyKey(ctx context.Context) string {
	if key, ok := ctx.Value(idempotencyKeyContextKey{}).(string); ok {
		return key
	}
	return ""
}

// writeIdempotencyError emits the standard error envelope. The api package
// owns the full error writer; it cannot be imported from here without a
// cycle, so the envelope is reproduced for these few responses.
func writeIdempotencyError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	UpdateResponseContext(w, ctx)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, `{"error":{"code":"`+code+`","message":"`+message+`"}}`)
}

// Idempotency requires an Idempotency-Key header on POSTs to the given
// paths and replays the stored response when a key repeats. Keys are scoped
// to the authenticated user, so it must run inside the auth middleware.
// Only 2xx responses are stored; a failed request may be retried with the
// same key.
func Idempotency(repo idempotency.Repository, routes map[string]bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || !routes[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(IdempotencyKeyHeader)
			if key == "" {
				ctx := SetErrorCode(r.Context(), "missing_idempotency_key")
				writeIdempotencyError(w, ctx, http.StatusBadRequest,
					"missing_idempotency_key", "Idempotency-Key header is required for this request")
				return
			}
			if err := idempotency.ValidateKey(key); err != nil {
				code := "invalid_idempotency_key"
				message := "Invalid Idempotency-Key format"
				if errors.Is(err, idempotency.ErrKeyTooLong) {
					code = "idempotency_key_too_long"
					message = "Idempotency-Key exceeds the maximum length"
				}
				ctx := SetErrorCode(r.Context(), code)
				writeIdempotencyError(w, ctx, http.StatusBadRequest, code, message)
				return
			}

			userID := GetUserID(r.Context())
			ctx := SetIdempotencyKey(r.Context(), key)
			r = r.WithContext(ctx)

			existing, err := repo.Get(ctx, userID, key)
			if err == nil {
				slog.InfoContext(ctx, "replaying stored idempotent response",
					"key", key,
					"status", existing.ResponseStatusCode)
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(existing.ResponseStatusCode)
				io.WriteString(w, existing.ResponseBody)
				return
			}
			if !errors.Is(err, idempotency.ErrKeyNotFound) {
				// Lookup failure degrades to a non-idempotent request
				// rather than blocking it.
				slog.ErrorContext(ctx, "failed to check idempotency key", "key", key, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			capture := newIdempotencyResponseWriter(w)
			next.ServeHTTP(capture, r)

			if capture.statusCode < 200 || capture.statusCode >= 300 {
				return
			}

			responseBody := capture.body.String()
			record := &idempotency.Record{
				UserID:             userID,
				Key:                key,
				Method:             r.Method,
				Route:              r.URL.Path,
				ResponseHash:       idempotency.ComputeResponseHash(responseBody),
				Status:             idempotency.StatusCompleted,
				ResponseBody:       responseBody,
				ResponseStatusCode: capture.statusCode,
			}
			if err := repo.Store(ctx, record); err != nil {
				// The response is already sent; losing the record only
				// loses replay protection for this key.
				slog.ErrorContext(ctx, "failed to store idempotency record", "key", key, "error", err)
			}
		})
	}
}
