package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"media-index/internal/logging"
	"media-index/internal/metrics"
)

// Watch blocks, watching rootDir recursively and starting an
// incremental rescan after the tree has been quiet for the debounce
// interval. New subdirectories are picked up as they appear. Returns
// when ctx is cancelled.
func (s *Scanner) Watch(ctx context.Context, rootDir, thumbsDir string, debounce time.Duration) error {
	root, err := filepath.Abs(rootDir)
	if err != nil {
		return err
	}
	if thumbsDir == "" {
		thumbsDir = filepath.Join(root, "thumbnails")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			logging.Warn("failed to close watcher: %v", err)
		}
	}()

	if err := addRecursive(watcher, root, thumbsDir); err != nil {
		return err
	}
	logging.Info("Watching %s for changes (debounce %s)", root, debounce)

	// The timer only counts down while dirty; a fresh event while
	// pending pushes the rescan back out.
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if strings.HasPrefix(event.Name, thumbsDir+string(filepath.Separator)) || event.Name == thumbsDir {
				continue
			}
			metrics.WatcherEventsTotal.WithLabelValues(event.Op.String()).Inc()
			logging.Debug("watcher: %s %s", event.Op, event.Name)

			if event.Op.Has(fsnotify.Create) {
				// A created directory needs its own watch before
				// events inside it can be seen.
				if err := addRecursive(watcher, event.Name, thumbsDir); err != nil {
					logging.Debug("watcher: cannot watch %s: %v", event.Name, err)
				}
			}

			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			metrics.WatcherErrors.Inc()
			logging.Warn("watcher error: %v", err)

		case <-timer.C:
			logging.Info("Watcher: changes settled, rescanning %s", root)
			if _, err := s.Start(root, thumbsDir); err != nil {
				logging.Error("watcher-triggered scan failed to start: %v", err)
			}
		}
	}
}

// addRecursive watches path and every directory below it, skipping
// the thumbnails directory. Non-directories are ignored.
func addRecursive(watcher *fsnotify.Watcher, path, thumbsDir string) error {
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			logging.Debug("watcher: skipping %s: %v", p, err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p == thumbsDir {
			return filepath.SkipDir
		}
		if err := watcher.Add(p); err != nil {
			logging.Warn("watcher: cannot watch %s: %v", p, err)
		}
		return nil
	})
}
