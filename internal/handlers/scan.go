package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"media-index/internal/logging"
)

type scanRequest struct {
	Root          string `json:"root,omitempty"`
	ThumbnailsDir string `json:"thumbnailsDir,omitempty"`
}

// StartScan serves POST /api/scan. The body may name a root and
// thumbnails directory; defaults come from the configuration. An
// already-running scan is cancelled and awaited before the new one
// starts.
func (h *Handler) StartScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Root == "" {
		req.Root = h.cfg.MediaDir
	}
	if req.ThumbnailsDir == "" {
		req.ThumbnailsDir = h.cfg.ThumbnailsDir
	}

	if _, err := h.scanner.Start(req.Root, req.ThumbnailsDir); err != nil {
		logging.Error("scan start failed: %v", err)
		writeError(w, http.StatusInternalServerError, "scan start failed")
		return
	}

	writeJSON(w, http.StatusAccepted, h.scanner.Status())
}

// ScanStatus serves GET /api/scan/status.
func (h *Handler) ScanStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.scanner.Status())
}

// CancelScan serves POST /api/scan/cancel. Cancellation is
// cooperative; the run stops at the next file boundary.
func (h *Handler) CancelScan(w http.ResponseWriter, _ *http.Request) {
	cancelled := h.scanner.Cancel()
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}
