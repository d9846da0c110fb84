// Package api provides HTTP API handlers and standardized error handling
// for the governance service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/finance-governance/internal/deletion"
	"github.com/onnwee/finance-governance/internal/erasure"
	"github.com/onnwee/finance-governance/internal/export"
	"github.com/onnwee/finance-governance/internal/middleware"
	"github.com/onnwee/finance-governance/internal/policy"
	"github.com/onnwee/finance-governance/internal/store"
)

// Common error codes used throughout the API.
const (
	// ErrCodeValidation indicates input validation failure.
	ErrCodeValidation = "validation_error"

	// ErrCodeAuthFailed indicates authentication failure.
	ErrCodeAuthFailed = "auth_failed"

	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound = "not_found"

	// ErrCodeRateLimited indicates rate limit exceeded.
	ErrCodeRateLimited = "rate_limited"

	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal = "internal_error"

	// ErrCodeForbidden indicates the request is forbidden.
	ErrCodeForbidden = "forbidden"

	// ErrCodeConflict indicates a conflict with the current state.
	ErrCodeConflict = "conflict"

	// ErrCodeBadRequest indicates a malformed request.
	ErrCodeBadRequest = "bad_request"

	// ErrCodeInvalidState indicates an export request state that does not
	// permit the attempted transition.
	ErrCodeInvalidState = "invalid_state"

	// ErrCodeRequestCancelled indicates generation was attempted on a
	// cancelled export request.
	ErrCodeRequestCancelled = "request_cancelled"

	// ErrCodeUnsupportedFormat indicates a declared but unimplemented
	// export format.
	ErrCodeUnsupportedFormat = "unsupported_format"

	// ErrCodeUnknownPolicyKey indicates a retention policy key outside the
	// known set.
	ErrCodeUnknownPolicyKey = "unknown_policy_key"

	// ErrCodeInvalidTransition indicates a deletion job status transition
	// that the lifecycle does not allow.
	ErrCodeInvalidTransition = "invalid_transition"

	// ErrCodeConfirmationMismatch indicates the erasure confirmation phrase
	// did not match.
	ErrCodeConfirmationMismatch = "confirmation_mismatch"
)

// ErrorResponse represents the standard error response format.
// All API errors return JSON in this structure: {"error": {"code": "...", "message": "..."}}
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code and human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes a standardized JSON error response.
//
// Format: {"error": {"code": "error_code", "message": "Error description"}}
//
// The error_code is logged by the logging middleware for 4xx and 5xx
// responses when SetErrorCode has been called on the context and the
// updated context is passed here.
func WriteError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	// Propagate the context to the logging middleware's response writer
	middleware.UpdateResponseContext(w, ctx)

	errResp := ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	}

	data, err := json.Marshal(errResp)
	if err != nil {
		// Fallback to plain text if JSON marshaling fails
		slog.ErrorContext(ctx, "failed to marshal error response", "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error"))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(ctx, "failed to write error response", "error", err)
	}
}

// writeDomainError maps service-layer sentinel errors to HTTP responses.
// Unmapped errors are logged and reported as internal errors without
// leaking their message to the client.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := classifyError(err)
	if status == http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "error", err, "path", r.URL.Path)
	}
	ctx := middleware.SetErrorCode(r.Context(), code)
	WriteError(w, ctx, status, code, message)
}

// classifyError resolves an error to its HTTP status, error code, and
// client-safe message.
func classifyError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound, "Resource not found"
	case errors.Is(err, export.ErrRequestCancelled):
		return http.StatusConflict, ErrCodeRequestCancelled, "Export request is cancelled"
	case errors.Is(err, export.ErrInvalidState):
		return http.StatusConflict, ErrCodeInvalidState, "Export request state does not allow this operation"
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, ErrCodeUnsupportedFormat, "Export format is not implemented"
	case errors.Is(err, export.ErrInvalidKind),
		errors.Is(err, export.ErrInvalidScope),
		errors.Is(err, export.ErrInvalidFormat):
		return http.StatusBadRequest, ErrCodeValidation, err.Error()
	case errors.Is(err, policy.ErrUnknownPolicyKey):
		return http.StatusBadRequest, ErrCodeUnknownPolicyKey, "Unknown retention policy key"
	case errors.Is(err, deletion.ErrInvalidTransition):
		return http.StatusConflict, ErrCodeInvalidTransition, "Deletion job status transition is not allowed"
	case errors.Is(err, deletion.ErrInvalidStatus),
		errors.Is(err, deletion.ErrInvalidJobType),
		errors.Is(err, deletion.ErrScopeRequired):
		return http.StatusBadRequest, ErrCodeValidation, err.Error()
	case errors.Is(err, erasure.ErrConfirmationMismatch):
		return http.StatusBadRequest, ErrCodeConfirmationMismatch, "Confirmation phrase does not match"
	default:
		return http.StatusInternalServerError, ErrCodeInternal, "Internal server error"
	}
}

// StatusCodeMapping returns the recommended HTTP status code for common error codes.
func StatusCodeMapping(code string) int {
	switch code {
	case ErrCodeValidation, ErrCodeBadRequest, ErrCodeUnknownPolicyKey, ErrCodeConfirmationMismatch:
		return http.StatusBadRequest
	case ErrCodeAuthFailed:
		return http.StatusUnauthorized
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeConflict, ErrCodeInvalidState, ErrCodeInvalidTransition, ErrCodeRequestCancelled:
		return http.StatusConflict
	case ErrCodeUnsupportedFormat:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// requireUser extracts the authenticated user id from the request context.
// Writes a 401 response and returns false when absent.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return "", false
	}
	return userID, true
}

// decodeJSON decodes the request body into dst.
// Writes a 400 response and returns false on malformed input.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return false
	}
	return true
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, ctx context.Context, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}
