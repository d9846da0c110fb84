package api

import (
	"net/http"

	"github.com/onnwee/finance-governance/internal/export"
)

// ExportHandlers holds dependencies for export request HTTP handlers.
type ExportHandlers struct {
	exports *export.Service
}

// NewExportHandlers creates a new ExportHandlers instance.
func NewExportHandlers(exports *export.Service) *ExportHandlers {
	return &ExportHandlers{exports: exports}
}

// CreateExport handles POST /v1/exports.
// Validates the requested kind, scope, and format and records the request
// in the "requested" state. Generation is a separate call.
func (h *ExportHandlers) CreateExport(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var in export.RequestInput
	if !decodeJSON(w, r, &in) {
		return
	}

	req, err := h.exports.Request(r.Context(), userID, in)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r.Context(), http.StatusCreated, req)
}

// ListExports handles GET /v1/exports.
// Returns all export requests owned by the authenticated user.
func (h *ExportHandlers) ListExports(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	reqs, err := h.exports.List(r.Context(), userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r.Context(), http.StatusOK, map[string]any{"exports": reqs})
}

// GetExport handles GET /v1/exports/{id}.
func (h *ExportHandlers) GetExport(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	req, err := h.exports.Get(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r.Context(), http.StatusOK, req)
}

// GenerateExportResponse bundles the updated request and the produced
// download artifact.
type GenerateExportResponse struct {
	Export   export.Request  `json:"export"`
	Download export.Download `json:"download"`
}

// GenerateExport handles POST /v1/exports/{id}/generate.
// Runs the export synchronously: builds the bundle, serializes it, stores
// the artifact, and returns the download record with its access token.
func (h *ExportHandlers) GenerateExport(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	req, dl, err := h.exports.Generate(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r.Context(), http.StatusOK, GenerateExportResponse{Export: req, Download: dl})
}

// CancelExport handles POST /v1/exports/{id}/cancel.
func (h *ExportHandlers) CancelExport(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	req, err := h.exports.Cancel(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r.Context(), http.StatusOK, req)
}
