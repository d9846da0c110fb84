package middleware

import (
	"net/http"
	"strings"

	"github.com/onnwee/finance-governance/internal/auth"
)

// TokenResolver resolves a bearer token to a user ID.
type TokenResolver interface {
	Resolve(tokenString string) (string, error)
}

var _ TokenResolver = (*auth.Verifier)(nil)

// Auth creates middleware that requires a valid bearer token on every
// request. The resolved user ID is stored in the request context for
// handlers and the logging middleware.
func Auth(resolver TokenResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				ctx := SetErrorCode(r.Context(), "missing_token")
				r = r.WithContext(ctx)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			userID, err := resolver.Resolve(token)
			if err != nil {
				ctx := SetErrorCode(r.Context(), "invalid_token")
				r = r.WithContext(ctx)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := SetUserID(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
