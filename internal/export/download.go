package export

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/onnwee/finance-governance/internal/store"
)

// Access decisions returned by the download gate.
const (
	DecisionNotFound       = "not_found"
	DecisionInvalidToken   = "invalid_token"
	DecisionNotReady       = "not_ready"
	DecisionExpired        = "expired"
	DecisionMissingStorage = "missing_storage"
	DecisionOK             = "ok"
)

// Access is the gate's verdict for one (downloadId, token) pair. The
// artifact fields are populated only when Decision is ok.
type Access struct {
	Decision    string `json:"decision"`
	StorageID   string `json:"storageId,omitempty"`
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"contentType,omitempty"`
}

// Granted reports whether the decision allows the download.
func (a Access) Granted() bool {
	return a.Decision == DecisionOK
}

// CheckAccess evaluates a download attempt. The check is read-only; use
// RecordDownload after actually serving the artifact. Token possession plus
// non-expiry is the whole access model, so the lookup is not owner-scoped.
func (s *Service) CheckAccess(ctx context.Context, downloadID, token string) (Access, error) {
	row, err := s.store.Get(ctx, store.TableExportDownloads, downloadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Access{Decision: DecisionNotFound}, nil
		}
		return Access{}, fmt.Errorf("load export download: %w", err)
	}
	var dl Download
	if err := store.Decode(row.Doc, &dl); err != nil {
		return Access{}, err
	}

	if dl.DownloadToken == "" || subtle.ConstantTimeCompare([]byte(dl.DownloadToken), []byte(token)) != 1 {
		return Access{Decision: DecisionInvalidToken}, nil
	}
	if dl.Status != StatusReady {
		return Access{Decision: DecisionNotReady}, nil
	}
	if !dl.ExpiresAt.IsZero() && s.now().After(dl.ExpiresAt) {
		return Access{Decision: DecisionExpired}, nil
	}
	if dl.StorageID == "" {
		return Access{Decision: DecisionMissingStorage}, nil
	}

	return Access{
		Decision:    DecisionOK,
		StorageID:   dl.StorageID,
		Filename:    dl.Filename,
		ContentType: dl.ContentType,
	}, nil
}

// RecordDownload bumps the download counter and stamps the access time.
// Called once per successfully served artifact.
func (s *Service) RecordDownload(ctx context.Context, downloadID string) error {
	row, err := s.store.Get(ctx, store.TableExportDownloads, downloadID)
	if err != nil {
		return err
	}
	var dl Download
	if err := store.Decode(row.Doc, &dl); err != nil {
		return err
	}

	_, err = s.store.Patch(ctx, store.TableExportDownloads, downloadID, map[string]any{
		"downloadCount":    dl.DownloadCount + 1,
		"lastDownloadedAt": s.now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("record download: %w", err)
	}
	return nil
}

// GetDownload returns one of the caller's download records.
func (s *Service) GetDownload(ctx context.Context, userID, id string) (Download, error) {
	row, err := s.store.GetOwned(ctx, store.TableExportDownloads, id, userID)
	if err != nil {
		return Download{}, err
	}
	var dl Download
	if err := store.Decode(row.Doc, &dl); err != nil {
		return Download{}, err
	}
	dl.ID = row.ID
	return dl, nil
}

// DownloadForRequest returns the download row created for an export request,
// or ErrNotFound when the request never completed.
func (s *Service) DownloadForRequest(ctx context.Context, userID, requestID string) (Download, error) {
	rows, err := s.store.ListOwnedByUser(ctx, store.TableExportDownloads, userID)
	if err != nil {
		return Download{}, fmt.Errorf("list export downloads: %w", err)
	}
	for _, row := range rows {
		var dl Download
		if err := store.Decode(row.Doc, &dl); err != nil {
			continue
		}
		if dl.ExportID == requestID {
			dl.ID = row.ID
			return dl, nil
		}
	}
	return Download{}, store.ErrNotFound
}
