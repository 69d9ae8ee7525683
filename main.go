package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"media-index/internal/database"
	"media-index/internal/handlers"
	"media-index/internal/logging"
	"media-index/internal/middleware"
	"media-index/internal/scanner"
	"media-index/internal/startup"
	"media-index/internal/thumbcache"
)

func main() {
	cfg, err := startup.LoadConfig()
	if err != nil {
		logging.Fatal("configuration error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := database.New(ctx, cfg.DatabasePath())
	if err != nil {
		logging.Fatal("failed to open index: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error("failed to close index: %v", err)
		}
	}()

	sc := scanner.New(store, cfg.ThumbnailMaxEdge)
	cache := thumbcache.New(cfg.CacheCapacity)
	defer cache.Close()

	// Tag and media mutations invalidate cached tiles.
	go invalidateOnChange(store, cache)

	if cfg.ScanOnStart {
		if _, err := sc.Start(cfg.MediaDir, cfg.ThumbnailsDir); err != nil {
			logging.Error("initial scan failed to start: %v", err)
		}
	}
	if cfg.Watch {
		go func() {
			if err := sc.Watch(ctx, cfg.MediaDir, cfg.ThumbnailsDir, cfg.WatchDebounce); err != nil && !errors.Is(err, context.Canceled) {
				logging.Error("watcher stopped: %v", err)
			}
		}()
	}

	h := handlers.New(cfg, store, sc, cache)

	r := mux.NewRouter()
	r.Use(middleware.RequestMetrics)
	r.Use(middleware.RequestLogging)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/media", h.ListMedia).Methods(http.MethodGet)
	api.HandleFunc("/media/{id:[0-9]+}", h.GetMedia).Methods(http.MethodGet)
	api.HandleFunc("/media/{id:[0-9]+}", h.DeleteMedia).Methods(http.MethodDelete)
	api.HandleFunc("/media/{id:[0-9]+}/similar", h.SimilarMedia).Methods(http.MethodGet)
	api.HandleFunc("/media/{id:[0-9]+}/tags", h.SetTags).Methods(http.MethodPut)
	api.HandleFunc("/media/{id:[0-9]+}/tags", h.AddTags).Methods(http.MethodPost)
	api.HandleFunc("/media/{id:[0-9]+}/tags", h.RemoveTags).Methods(http.MethodDelete)
	api.HandleFunc("/thumbnail/{id:[0-9]+}", h.GetThumbnail).Methods(http.MethodGet)
	api.HandleFunc("/scan", h.StartScan).Methods(http.MethodPost)
	api.HandleFunc("/scan/status", h.ScanStatus).Methods(http.MethodGet)
	api.HandleFunc("/scan/cancel", h.CancelScan).Methods(http.MethodPost)
	api.HandleFunc("/tags", h.ListTags).Methods(http.MethodGet)
	api.HandleFunc("/tags/counts", h.TagCounts).Methods(http.MethodGet)
	api.HandleFunc("/tags/untagged", h.UntaggedCount).Methods(http.MethodGet)
	api.HandleFunc("/tags/{name}", h.DeleteTag).Methods(http.MethodDelete)
	api.HandleFunc("/stats", h.Stats).Methods(http.MethodGet)

	r.HandleFunc("/healthz", h.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", h.Readyz).Methods(http.MethodGet)
	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logging.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("server error: %v", err)
		}
	}

	sc.Cancel()
	cache.CancelAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("server shutdown: %v", err)
	}

	logging.Info("Shutdown complete")
	_ = os.Stdout.Sync()
}

// invalidateOnChange drops cached tiles when the index mutates.
// Media events for a known row cancel just that row's pending work;
// bulk events clear the cache outright.
func invalidateOnChange(store *database.Store, cache *thumbcache.Cache) {
	events, cancel := store.Subscribe(64)
	defer cancel()

	for ev := range events {
		if ev.Kind != database.ChangeMedia {
			continue
		}
		if ev.MediaID > 0 {
			cache.Invalidate(ev.MediaID)
		} else {
			cache.Clear()
		}
	}
}
