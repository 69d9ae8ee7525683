package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"media-index/internal/database"
	"media-index/internal/logging"
)

type tagsBody struct {
	Tags []string `json:"tags"`
}

func decodeTags(w http.ResponseWriter, r *http.Request) ([]string, bool) {
	var body tagsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return nil, false
	}
	return body.Tags, true
}

// mediaMustExist resolves the {id} route variable to an existing row.
func (h *Handler) mediaMustExist(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid media id")
		return 0, false
	}
	if _, err := h.store.GetMedia(r.Context(), id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "media not found")
		} else {
			logging.Error("lookup media %d failed: %v", id, err)
			writeError(w, http.StatusInternalServerError, "lookup failed")
		}
		return 0, false
	}
	return id, true
}

// respondWithTags returns the row's tag set after a mutation.
func (h *Handler) respondWithTags(w http.ResponseWriter, r *http.Request, id int64) {
	tags, err := h.store.TagsForMedia(r.Context(), id)
	if err != nil {
		logging.Error("tags for %d failed: %v", id, err)
		writeError(w, http.StatusInternalServerError, "tag lookup failed")
		return
	}
	if tags == nil {
		tags = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "tags": tags})
}

// SetTags serves PUT /api/media/{id}/tags.
func (h *Handler) SetTags(w http.ResponseWriter, r *http.Request) {
	id, ok := h.mediaMustExist(w, r)
	if !ok {
		return
	}
	tags, ok := decodeTags(w, r)
	if !ok {
		return
	}
	if err := h.store.SetTags(r.Context(), id, tags); err != nil {
		logging.Error("set tags on %d failed: %v", id, err)
		writeError(w, http.StatusInternalServerError, "tag update failed")
		return
	}
	h.respondWithTags(w, r, id)
}

// AddTags serves POST /api/media/{id}/tags.
func (h *Handler) AddTags(w http.ResponseWriter, r *http.Request) {
	id, ok := h.mediaMustExist(w, r)
	if !ok {
		return
	}
	tags, ok := decodeTags(w, r)
	if !ok {
		return
	}
	if err := h.store.AddTags(r.Context(), id, tags); err != nil {
		logging.Error("add tags on %d failed: %v", id, err)
		writeError(w, http.StatusInternalServerError, "tag update failed")
		return
	}
	h.respondWithTags(w, r, id)
}

// RemoveTags serves DELETE /api/media/{id}/tags.
func (h *Handler) RemoveTags(w http.ResponseWriter, r *http.Request) {
	id, ok := h.mediaMustExist(w, r)
	if !ok {
		return
	}
	tags, ok := decodeTags(w, r)
	if !ok {
		return
	}
	if err := h.store.RemoveTags(r.Context(), id, tags); err != nil {
		logging.Error("remove tags on %d failed: %v", id, err)
		writeError(w, http.StatusInternalServerError, "tag update failed")
		return
	}
	h.respondWithTags(w, r, id)
}

// ListTags serves GET /api/tags.
func (h *Handler) ListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.store.ListTags(r.Context())
	if err != nil {
		logging.Error("list tags failed: %v", err)
		writeError(w, http.StatusInternalServerError, "tag list failed")
		return
	}
	if tags == nil {
		tags = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tags": tags})
}

// TagCounts serves GET /api/tags/counts.
func (h *Handler) TagCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.TagCounts(r.Context())
	if err != nil {
		logging.Error("tag counts failed: %v", err)
		writeError(w, http.StatusInternalServerError, "tag counts failed")
		return
	}
	if counts == nil {
		counts = []database.TagCount{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"counts": counts})
}

// UntaggedCount serves GET /api/tags/untagged.
func (h *Handler) UntaggedCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.store.UntaggedCount(r.Context())
	if err != nil {
		logging.Error("untagged count failed: %v", err)
		writeError(w, http.StatusInternalServerError, "untagged count failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}

// DeleteTag serves DELETE /api/tags/{name}: removes the tag from all
// media and deletes the tag itself.
func (h *Handler) DeleteTag(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if database.NormalizeTag(name) == "" {
		writeError(w, http.StatusBadRequest, "invalid tag name")
		return
	}

	removed, err := h.store.RemoveTagGlobally(r.Context(), name)
	if err != nil {
		logging.Error("delete tag %q failed: %v", name, err)
		writeError(w, http.StatusInternalServerError, "tag delete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}
