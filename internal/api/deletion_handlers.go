package api

import (
	"net/http"
	"strings"

	"github.com/onnwee/finance-governance/internal/deletion"
	"github.com/onnwee/finance-governance/internal/middleware"
)

// DeletionJobHandlers holds dependencies for deletion job HTTP handlers.
type DeletionJobHandlers struct {
	jobs *deletion.Service
}

// NewDeletionJobHandlers creates a new DeletionJobHandlers instance.
func NewDeletionJobHandlers(jobs *deletion.Service) *DeletionJobHandlers {
	return &DeletionJobHandlers{jobs: jobs}
}

// CreateJob handles POST /v1/deletion-jobs.
// Records a deletion job in the "pending" state.
func (h *DeletionJobHandlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var in deletion.CreateInput
	if !decodeJSON(w, r, &in) {
		return
	}

	job, err := h.jobs.Create(r.Context(), userID, in)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r.Context(), http.StatusCreated, job)
}

// ListJobs handles GET /v1/deletion-jobs.
func (h *DeletionJobHandlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	jobs, err := h.jobs.List(r.Context(), userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r.Context(), http.StatusOK, map[string]any{"jobs": jobs})
}

// GetJob handles GET /v1/deletion-jobs/{id}.
func (h *DeletionJobHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	job, err := h.jobs.Get(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r.Context(), http.StatusOK, job)
}

// UpdateJobStatusRequest is the request body for a job status transition.
type UpdateJobStatusRequest struct {
	Status string `json:"status"`
}

// UpdateJobStatus handles POST /v1/deletion-jobs/{id}/status.
// Moves the job through its lifecycle; illegal transitions are rejected.
func (h *DeletionJobHandlers) UpdateJobStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var in UpdateJobStatusRequest
	if !decodeJSON(w, r, &in) {
		return
	}

	status := strings.TrimSpace(in.Status)
	if status == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "status is required")
		return
	}

	job, err := h.jobs.UpdateStatus(r.Context(), userID, r.PathValue("id"), status)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r.Context(), http.StatusOK, job)
}
