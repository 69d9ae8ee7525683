package handlers

import (
	"media-index/internal/database"
	"media-index/internal/scanner"
	"media-index/internal/startup"
	"media-index/internal/thumbcache"
)

// Handler bundles the dependencies the API routes need.
type Handler struct {
	cfg     *startup.Config
	store   *database.Store
	scanner *scanner.Scanner
	cache   *thumbcache.Cache
}

// New returns a Handler serving the JSON API over the given
// components.
func New(cfg *startup.Config, store *database.Store, sc *scanner.Scanner, cache *thumbcache.Cache) *Handler {
	return &Handler{cfg: cfg, store: store, scanner: sc, cache: cache}
}
