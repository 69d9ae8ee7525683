// Package scanner reconciles the media index with a directory tree:
// it soft-deletes vanished paths, fast-skips unchanged files, repairs
// missing thumbnails, and fully reprocesses anything new or changed.
// One run is in flight at a time and cancellation is cooperative at
// file boundaries. A watch mode turns filesystem events into
// debounced rescans.
package scanner
