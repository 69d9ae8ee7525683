package startup

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"media-index/internal/logging"
)

// Display-size bounds for thumbnail tiles.
const (
	MinDisplaySize = 120
	MaxDisplaySize = 512
)

// Config is the explicit application configuration, loaded once from
// the environment and passed into constructors. Nothing reads the
// environment after startup.
type Config struct {
	// MediaDir is the root directory to index.
	MediaDir string

	// ThumbnailsDir is where content-addressed thumbnails live.
	// Defaults to <MediaDir>/thumbnails.
	ThumbnailsDir string

	// DatabaseDir holds the index file (media-index.db).
	DatabaseDir string

	// Port is the HTTP listen port.
	Port int

	// ThumbnailMaxEdge bounds generated thumbnails' longer edge.
	ThumbnailMaxEdge int

	// DisplaySize is the default served tile size, clamped to
	// [MinDisplaySize, MaxDisplaySize].
	DisplaySize int

	// CacheCapacity is the thumbnail cache's entry bound.
	CacheCapacity int

	// ScanOnStart triggers a full scan as soon as the server is up.
	ScanOnStart bool

	// Watch enables the filesystem watcher with its debounce.
	Watch         bool
	WatchDebounce time.Duration

	// MetricsEnabled exposes /metrics.
	MetricsEnabled bool
}

// DatabasePath returns the full path of the index file.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DatabaseDir, "media-index.db")
}

// LoadConfig reads the environment, validates directories, and logs
// the effective configuration.
func LoadConfig() (*Config, error) {
	logging.Info("========================================")
	logging.Info("media-index starting")
	logging.Info("Log level: %s", logging.GetLevel())
	logging.Info("========================================")

	cfg := &Config{
		MediaDir:         getEnv("MEDIA_DIR", "/media"),
		DatabaseDir:      getEnv("DATABASE_DIR", "/database"),
		Port:             getEnvInt("PORT", 8080),
		ThumbnailMaxEdge: getEnvInt("THUMBNAIL_MAX_EDGE", 480),
		DisplaySize:      getEnvInt("THUMBNAIL_DISPLAY_SIZE", 240),
		CacheCapacity:    getEnvInt("CACHE_CAPACITY", 512),
		ScanOnStart:      getEnvBool("SCAN_ON_START", true),
		Watch:            getEnvBool("WATCH", false),
		WatchDebounce:    getEnvDuration("WATCH_DEBOUNCE", 2*time.Second),
		MetricsEnabled:   getEnvBool("METRICS_ENABLED", true),
	}
	cfg.ThumbnailsDir = getEnv("THUMBNAILS_DIR", filepath.Join(cfg.MediaDir, "thumbnails"))

	if cfg.DisplaySize < MinDisplaySize {
		logging.Warn("THUMBNAIL_DISPLAY_SIZE %d below minimum, using %d", cfg.DisplaySize, MinDisplaySize)
		cfg.DisplaySize = MinDisplaySize
	}
	if cfg.DisplaySize > MaxDisplaySize {
		logging.Warn("THUMBNAIL_DISPLAY_SIZE %d above maximum, using %d", cfg.DisplaySize, MaxDisplaySize)
		cfg.DisplaySize = MaxDisplaySize
	}
	if cfg.ThumbnailMaxEdge < cfg.DisplaySize {
		// Generated thumbnails must not be smaller than the largest
		// tile they will be scaled into.
		cfg.ThumbnailMaxEdge = cfg.DisplaySize
	}

	if err := validateDir("MEDIA_DIR", cfg.MediaDir, false); err != nil {
		return nil, err
	}
	if err := validateDir("DATABASE_DIR", cfg.DatabaseDir, true); err != nil {
		return nil, err
	}

	logging.Info("Media directory:      %s", cfg.MediaDir)
	logging.Info("Thumbnails directory: %s", cfg.ThumbnailsDir)
	logging.Info("Database path:        %s", cfg.DatabasePath())
	logging.Info("Listen port:          %d", cfg.Port)
	logging.Info("Thumbnail max edge:   %d", cfg.ThumbnailMaxEdge)
	logging.Info("Display tile size:    %d", cfg.DisplaySize)
	logging.Info("Cache capacity:       %d entries", cfg.CacheCapacity)
	logging.Info("Scan on start:        %t", cfg.ScanOnStart)
	logging.Info("Watch mode:           %t (debounce %s)", cfg.Watch, cfg.WatchDebounce)
	logging.Info("Metrics enabled:      %t", cfg.MetricsEnabled)

	return cfg, nil
}

func validateDir(name, path string, create bool) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) && create {
			if mkErr := os.MkdirAll(path, 0o755); mkErr != nil {
				return fmt.Errorf("%s: cannot create %s: %w", name, path, mkErr)
			}
			return nil
		}
		return fmt.Errorf("%s: %s is not accessible: %w", name, path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %s is not a directory", name, path)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		logging.Warn("%s=%q is not an integer, using %d", key, v, fallback)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	logging.Warn("%s=%q is not a boolean, using %t", key, v, fallback)
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
		logging.Warn("%s=%q is not a duration, using %s", key, v, fallback)
	}
	return fallback
}
