package handlers

import (
	"errors"
	"net/http"
	"sort"

	"media-index/internal/database"
	"media-index/internal/hashing"
	"media-index/internal/logging"
)

const (
	defaultSimilarDistance = 10
	defaultSimilarLimit    = 20
	maxSimilarLimit        = 100
)

type similarMatch struct {
	Media    *database.MediaRecord `json:"media"`
	Distance int                   `json:"distance"`
}

type similarPage struct {
	Items []similarMatch `json:"items"`
}

// SimilarMedia serves GET /api/media/{id}/similar?maxDistance=N&limit=N.
// Candidates are ranked by Hamming distance between perceptual hashes.
// Media without a hash (audio, video, failed decodes) yields an empty
// result, not an error.
func (h *Handler) SimilarMedia(w http.ResponseWriter, r *http.Request) {
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

	maxDistance := queryInt(r, "maxDistance", defaultSimilarDistance)
	if maxDistance < 0 {
		maxDistance = 0
	}
	if maxDistance > 64 {
		maxDistance = 64
	}
	limit := queryInt(r, "limit", defaultSimilarLimit)
	if limit < 1 || limit > maxSimilarLimit {
		limit = defaultSimilarLimit
	}

	items := []similarMatch{}
	if rec.PHash == "" {
		writeJSON(w, http.StatusOK, similarPage{Items: items})
		return
	}

	entries, err := h.store.ActivePerceptualHashes(r.Context())
	if err != nil {
		logging.Error("similar lookup for %d failed: %v", id, err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	type scored struct {
		id       int64
		distance int
	}
	var matches []scored
	for _, e := range entries {
		if e.ID == id {
			continue
		}
		d := hashing.Distance(rec.PHash, e.PHash)
		if d < 0 || d > maxDistance {
			continue
		}
		matches = append(matches, scored{id: e.ID, distance: d})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].distance != matches[j].distance {
			return matches[i].distance < matches[j].distance
		}
		return matches[i].id < matches[j].id
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}

	for _, m := range matches {
		candidate, err := h.store.GetMedia(r.Context(), m.id)
		if err != nil {
			// Row vanished between listing and hydration.
			continue
		}
		items = append(items, similarMatch{Media: candidate, Distance: m.distance})
	}

	writeJSON(w, http.StatusOK, similarPage{Items: items})
}
