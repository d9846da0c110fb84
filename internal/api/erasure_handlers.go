package api

import (
	"net/http"

	"github.com/onnwee/finance-governance/internal/erasure"
)

// ErasureHandlers holds dependencies for account erasure HTTP handlers.
type ErasureHandlers struct {
	erasures *erasure.Service
}

// NewErasureHandlers creates a new ErasureHandlers instance.
func NewErasureHandlers(erasures *erasure.Service) *ErasureHandlers {
	return &ErasureHandlers{erasures: erasures}
}

// Erase handles POST /v1/erasure.
// Dry run is the default; a destructive run requires the exact
// confirmation phrase in the request body.
func (h *ErasureHandlers) Erase(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var in erasure.Input
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &in) {
			return
		}
	}

	result, err := h.erasures.Erase(r.Context(), userID, in)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r.Context(), http.StatusOK, result)
}
