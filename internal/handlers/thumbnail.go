package handlers

import (
	"errors"
	"image"
	"net/http"

	"github.com/disintegration/imaging"

	"media-index/internal/database"
	"media-index/internal/logging"
	"media-index/internal/mediatypes"
	"media-index/internal/startup"
)

// GetThumbnail serves GET /api/thumbnail/{id}?size=N as JPEG. The
// tile comes from the thumbnail cache, so repeated requests for a
// visible grid are served from memory and concurrent requests for one
// tile share a single decode. Media without a thumbnail (audio,
// failed generation) gets a placeholder tile, not an error.
func (h *Handler) GetThumbnail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid media id")
		return
	}

	size := queryInt(r, "size", h.cfg.DisplaySize)
	if size < startup.MinDisplaySize {
		size = startup.MinDisplaySize
	}
	if size > startup.MaxDisplaySize {
		size = startup.MaxDisplaySize
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

	if rec.ThumbnailPath == "" {
		if rec.Kind == mediatypes.KindAudio {
			h.writeTile(w, h.cache.AudioPlaceholder(size), true)
		} else {
			h.writeTile(w, h.cache.Placeholder(size), true)
		}
		return
	}

	tile, err := h.cache.Fetch(r.Context(), id, rec.ThumbnailPath, size)
	if err != nil {
		if r.Context().Err() != nil {
			// Client went away mid-load.
			return
		}
		logging.Warn("thumbnail %d (size %d): %v", id, size, err)
		h.writeTile(w, h.cache.Placeholder(size), true)
		return
	}

	h.writeTile(w, tile, false)
}

func (h *Handler) writeTile(w http.ResponseWriter, tile image.Image, placeholder bool) {
	w.Header().Set("Content-Type", "image/jpeg")
	if placeholder {
		// Placeholders must not be cached by clients: the real tile
		// may exist on the next request.
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("X-Placeholder", "true")
	} else {
		w.Header().Set("Cache-Control", "private, max-age=3600")
	}
	if err := imaging.Encode(w, tile, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		logging.Debug("failed to write thumbnail response: %v", err)
	}
}
