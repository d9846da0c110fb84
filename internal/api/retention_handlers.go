package api

import (
	"net/http"

	"github.com/onnwee/finance-governance/internal/policy"
	"github.com/onnwee/finance-governance/internal/retention"
)

// RetentionHandlers holds dependencies for retention policy and sweep
// HTTP handlers.
type RetentionHandlers struct {
	policies *policy.Service
	engine   *retention.Engine
}

// NewRetentionHandlers creates a new RetentionHandlers instance.
func NewRetentionHandlers(policies *policy.Service, engine *retention.Engine) *RetentionHandlers {
	return &RetentionHandlers{policies: policies, engine: engine}
}

// EffectivePolicies handles GET /v1/retention/policies.
// Returns the caller's effective policy per key: the stored override where
// one exists, the shipped default otherwise.
func (h *RetentionHandlers) EffectivePolicies(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	effective, err := h.policies.Effective(r.Context(), userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r.Context(), http.StatusOK, map[string]any{"policies": effective})
}

// UpsertPolicy handles PUT /v1/retention/policies.
// Creates or updates one policy override. Retention days are clamped to
// the allowed range rather than rejected.
func (h *RetentionHandlers) UpsertPolicy(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var in policy.UpsertInput
	if !decodeJSON(w, r, &in) {
		return
	}

	p, err := h.policies.Upsert(r.Context(), userID, in)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r.Context(), http.StatusOK, p)
}

// SweepRequest is the request body for a manual sweep run.
type SweepRequest struct {
	DryRun bool `json:"dryRun"`
}

// Sweep handles POST /v1/retention/sweep.
// Runs a retention sweep for the caller only. The scheduled worker covers
// all users; this endpoint exists for dry-run previews and manual runs.
func (h *RetentionHandlers) Sweep(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var in SweepRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &in) {
			return
		}
	}

	result, err := h.engine.SweepUser(r.Context(), userID, in.DryRun)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r.Context(), http.StatusOK, result)
}
