package api

import (
	"net/http"

	"github.com/onnwee/finance-governance/internal/consent"
)

// ConsentHandlers holds dependencies for consent HTTP handlers.
type ConsentHandlers struct {
	consents *consent.Service
}

// NewConsentHandlers creates a new ConsentHandlers instance.
func NewConsentHandlers(consents *consent.Service) *ConsentHandlers {
	return &ConsentHandlers{consents: consents}
}

// GetConsent handles GET /v1/consent.
// Returns the caller's consent settings, creating conservative defaults
// on first read.
func (h *ConsentHandlers) GetConsent(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	settings, err := h.consents.Get(r.Context(), userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r.Context(), http.StatusOK, settings)
}

// UpdateConsent handles PUT /v1/consent.
// Absent flags are left untouched; each changed flag appends a consent log
// entry.
func (h *ConsentHandlers) UpdateConsent(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var in consent.UpdateInput
	if !decodeJSON(w, r, &in) {
		return
	}

	settings, err := h.consents.Update(r.Context(), userID, in)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r.Context(), http.StatusOK, settings)
}

// ListConsentLogs handles GET /v1/consent/logs.
// Returns the caller's consent transitions, newest first.
func (h *ConsentHandlers) ListConsentLogs(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	logs, err := h.consents.Logs(r.Context(), userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r.Context(), http.StatusOK, map[string]any{"logs": logs})
}
