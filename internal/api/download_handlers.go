package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/onnwee/finance-governance/internal/blob"
	"github.com/onnwee/finance-governance/internal/export"
	"github.com/onnwee/finance-governance/internal/middleware"
)

// DownloadHandlers holds dependencies for artifact download HTTP handlers.
type DownloadHandlers struct {
	exports *export.Service
	blobs   blob.Store
}

// NewDownloadHandlers creates a new DownloadHandlers instance.
func NewDownloadHandlers(exports *export.Service, blobs blob.Store) *DownloadHandlers {
	return &DownloadHandlers{exports: exports, blobs: blobs}
}

// Download handles GET /v1/downloads/{id}?token=...
// Token possession plus non-expiry is the whole access model: the route is
// not behind the auth middleware, and denial reasons map to distinct
// statuses. Serving the bytes increments the download counter.
func (h *DownloadHandlers) Download(w http.ResponseWriter, r *http.Request) {
	downloadID := r.PathValue("id")
	token := r.URL.Query().Get("token")

	access, err := h.exports.CheckAccess(r.Context(), downloadID, token)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	if !access.Granted() {
		status, code, message := denialResponse(access.Decision)
		ctx := middleware.SetErrorCode(r.Context(), code)
		WriteError(w, ctx, status, code, message)
		return
	}

	data, contentType, err := h.blobs.Fetch(r.Context(), access.StorageID)
	if err != nil {
		if errors.Is(err, blob.ErrBlobNotFound) {
			ctx := middleware.SetErrorCode(r.Context(), export.DecisionMissingStorage)
			WriteError(w, ctx, http.StatusGone, export.DecisionMissingStorage, "Export artifact is no longer stored")
			return
		}
		writeDomainError(w, r, err)
		return
	}

	if contentType == "" {
		contentType = access.ContentType
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", access.Filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(r.Context(), "failed to stream export artifact", "error", err, "download_id", downloadID)
		return
	}

	// Best-effort: a failed counter update must not fail the served download
	if err := h.exports.RecordDownload(r.Context(), downloadID); err != nil {
		slog.WarnContext(r.Context(), "failed to record download", "error", err, "download_id", downloadID)
	}
}

// GetDownload handles GET /v1/exports/{id}/download.
// Returns the download record for an export request, owner-scoped. The
// record includes the token so the owner can re-fetch a lost link.
func (h *DownloadHandlers) GetDownload(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	dl, err := h.exports.DownloadForRequest(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r.Context(), http.StatusOK, dl)
}

// denialResponse maps a gate decision to its HTTP representation.
func denialResponse(decision string) (int, string, string) {
	switch decision {
	case export.DecisionNotFound:
		return http.StatusNotFound, decision, "Download not found"
	case export.DecisionInvalidToken:
		return http.StatusForbidden, decision, "Download token is invalid"
	case export.DecisionNotReady:
		return http.StatusConflict, decision, "Export is not ready for download"
	case export.DecisionExpired:
		return http.StatusGone, decision, "Download link has expired"
	case export.DecisionMissingStorage:
		return http.StatusGone, decision, "Export artifact is no longer stored"
	default:
		return http.StatusInternalServerError, ErrCodeInternal, "Internal server error"
	}
}
