package handlers

import (
	"errors"
	"net/http"
	"strings"

	"media-index/internal/database"
	"media-index/internal/logging"
)

const (
	defaultPageSize = 100
	maxPageSize     = 500
)

type mediaPage struct {
	Items  []*database.MediaRecord `json:"items"`
	Total  int                     `json:"total"`
	Limit  int                     `json:"limit"`
	Offset int                     `json:"offset"`
}

// ListMedia serves GET /api/media. Filters: tags (comma-separated),
// matchAll, q (filename substring), root, sort, order, limit, offset.
// Bad filter input degrades to broader results, never an error.
func (h *Handler) ListMedia(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	opts := database.QueryOptions{
		Text:     q.Get("q"),
		RootDir:  q.Get("root"),
		MatchAll: queryBool(r, "matchAll", false),
		Limit:    queryInt(r, "limit", defaultPageSize),
		Offset:   queryInt(r, "offset", 0),
		OrderBy:  database.SortField(q.Get("sort")),
		Order:    database.SortOrder(q.Get("order")),
	}
	if raw := q.Get("tags"); raw != "" {
		opts.Tags = strings.Split(raw, ",")
	}
	if opts.Limit < 1 || opts.Limit > maxPageSize {
		opts.Limit = defaultPageSize
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	records, total, err := h.store.QueryMedia(r.Context(), opts)
	if err != nil {
		logging.Error("media query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if records == nil {
		records = []*database.MediaRecord{}
	}

	writeJSON(w, http.StatusOK, mediaPage{
		Items:  records,
		Total:  total,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

// GetMedia serves GET /api/media/{id}.
func (h *Handler) GetMedia(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid media id")
		return
	}

	rec, err := h.store.GetMedia(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "media not found")
		return
	}
	if err != nil {
		logging.Error("get media %d failed: %v", id, err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// DeleteMedia serves DELETE /api/media/{id}. This is the explicit
// hard delete; the scanner only ever soft-deletes. Pending thumbnail
// work for the row is cancelled.
func (h *Handler) DeleteMedia(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid media id")
		return
	}

	err := h.store.DeleteMedia(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "media not found")
		return
	}
	if err != nil {
		logging.Error("delete media %d failed: %v", id, err)
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}

	h.cache.Cancel(id)
	w.WriteHeader(http.StatusNoContent)
}
