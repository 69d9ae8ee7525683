package handlers

import (
	"net/http"

	"media-index/internal/logging"
)

// Healthz serves GET /healthz: liveness only.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz serves GET /readyz: ready once the index is reachable.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "index unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Stats serves GET /api/stats: index totals plus scanner state.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context())
	if err != nil {
		logging.Error("stats failed: %v", err)
		writeError(w, http.StatusInternalServerError, "stats failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"index": stats,
		"scan":  h.scanner.Status(),
	})
}
