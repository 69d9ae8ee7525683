package scanner

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"media-index/internal/database"
	"media-index/internal/hashing"
	"media-index/internal/logging"
	"media-index/internal/mediatypes"
	"media-index/internal/metrics"
	"media-index/internal/thumbs"
)

// State is the lifecycle of one scan run.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
)

// Progress is one per-file notification emitted before the file is
// processed.
type Progress struct {
	Index int    `json:"index"`
	Total int    `json:"total"`
	Path  string `json:"path"`
}

// Summary is the terminal report of a run. Scanned counts every
// visited file, including files that errored.
type Summary struct {
	Scanned        int           `json:"scanned"`
	AddedOrUpdated int           `json:"addedOrUpdated"`
	Errors         int           `json:"errors"`
	Duration       time.Duration `json:"-"`
}

// Status is a point-in-time view of the scanner for status queries.
type Status struct {
	State    State     `json:"state"`
	RootDir  string    `json:"rootDir,omitempty"`
	Progress *Progress `json:"progress,omitempty"`
	Summary  *Summary  `json:"summary,omitempty"`
}

// Scanner walks a root directory and reconciles the index with what
// is on disk. At most one run is in flight; starting a new run
// cancels and awaits the previous one.
type Scanner struct {
	store   *database.Store
	maxEdge int

	mu      sync.Mutex
	current *Run
	last    *Run
}

// Run is one scan invocation.
type Run struct {
	rootDir   string
	thumbsDir string

	cancel context.CancelFunc
	done   chan struct{}

	progress chan Progress

	mu       sync.Mutex
	state    State
	lastProg Progress
	summary  Summary
}

// New returns a Scanner persisting into store, generating thumbnails
// bounded by maxEdge pixels on the longer side.
func New(store *database.Store, maxEdge int) *Scanner {
	return &Scanner{store: store, maxEdge: maxEdge}
}

// Start begins scanning rootDir in the background. thumbsDir may be
// empty, in which case <rootDir>/thumbnails is used. If a run is
// already active it is cancelled and awaited first.
func (s *Scanner) Start(rootDir, thumbsDir string) (*Run, error) {
	root, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, err
	}
	if thumbsDir == "" {
		thumbsDir = filepath.Join(root, "thumbnails")
	}

	s.mu.Lock()
	prev := s.current
	s.mu.Unlock()
	if prev != nil {
		prev.Cancel()
		<-prev.done
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := &Run{
		rootDir:   root,
		thumbsDir: thumbsDir,
		cancel:    cancel,
		done:      make(chan struct{}),
		progress:  make(chan Progress, 64),
		state:     StateRunning,
	}

	s.mu.Lock()
	s.current = run
	s.mu.Unlock()

	metrics.ScanRunsTotal.Inc()
	metrics.ScanRunning.Set(1)

	go func() {
		defer close(run.done)
		defer close(run.progress)
		start := time.Now()

		cancelled := s.execute(ctx, run)

		run.mu.Lock()
		run.summary.Duration = time.Since(start)
		if cancelled {
			run.state = StateCancelled
		} else {
			run.state = StateCompleted
		}
		summary := run.summary
		state := run.state
		run.mu.Unlock()

		metrics.ScanRunning.Set(0)
		metrics.ScanLastRunTimestamp.SetToCurrentTime()
		metrics.ScanLastRunDuration.Set(summary.Duration.Seconds())

		s.mu.Lock()
		if s.current == run {
			s.current = nil
		}
		s.last = run
		s.mu.Unlock()

		logging.Info("Scan of %s %s: scanned=%d addedOrUpdated=%d errors=%d in %s",
			root, state, summary.Scanned, summary.AddedOrUpdated, summary.Errors,
			summary.Duration.Round(time.Millisecond))
	}()

	return run, nil
}

// Cancel stops the active run, if any, without waiting for it.
func (s *Scanner) Cancel() bool {
	s.mu.Lock()
	run := s.current
	s.mu.Unlock()
	if run == nil {
		return false
	}
	run.Cancel()
	return true
}

// Status reports the active run, or the last finished one.
func (s *Scanner) Status() Status {
	s.mu.Lock()
	run := s.current
	if run == nil {
		run = s.last
	}
	s.mu.Unlock()

	if run == nil {
		return Status{State: StateIdle}
	}

	run.mu.Lock()
	defer run.mu.Unlock()
	st := Status{State: run.state, RootDir: run.rootDir}
	switch run.state {
	case StateRunning:
		p := run.lastProg
		st.Progress = &p
	default:
		sum := run.summary
		st.Summary = &sum
	}
	return st
}

// Progress returns the run's progress stream. The channel is closed
// when the run terminates; slow consumers miss events rather than
// stalling the scan.
func (r *Run) Progress() <-chan Progress {
	return r.progress
}

// Cancel requests cooperative cancellation; it takes effect at the
// next file boundary.
func (r *Run) Cancel() {
	r.cancel()
}

// Wait blocks until the run terminates and returns its summary.
func (r *Run) Wait() Summary {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary
}

func (r *Run) emit(p Progress) {
	r.mu.Lock()
	r.lastProg = p
	r.mu.Unlock()
	select {
	case r.progress <- p:
	default:
	}
}

// execute runs the scan loop. Returns true when the run was cut short
// by cancellation.
func (s *Scanner) execute(ctx context.Context, run *Run) bool {
	files, err := enumerate(run.rootDir, run.thumbsDir)
	if err != nil {
		logging.Error("Scan of %s failed to enumerate: %v", run.rootDir, err)
		run.mu.Lock()
		run.summary.Errors++
		run.mu.Unlock()
		return false
	}

	observed := make(map[string]struct{}, len(files))
	for _, f := range files {
		observed[f.path] = struct{}{}
	}

	// Sweep vanished paths first so a failure later in the run cannot
	// leave stale rows un-flagged.
	if n, err := s.store.MarkMissingDeleted(ctx, run.rootDir, observed); err != nil {
		logging.Error("Scan of %s: soft-delete sweep failed: %v", run.rootDir, err)
	} else if n > 0 {
		logging.Info("Scan of %s: marked %d vanished files deleted", run.rootDir, n)
	}

	snapshot, err := s.store.SnapshotForRoot(ctx, run.rootDir)
	if err != nil {
		logging.Error("Scan of %s: snapshot failed: %v", run.rootDir, err)
		run.mu.Lock()
		run.summary.Errors++
		run.mu.Unlock()
		return false
	}

	gen := thumbs.New(run.thumbsDir, s.maxEdge)
	total := len(files)

	for i, f := range files {
		if ctx.Err() != nil {
			return true
		}
		run.emit(Progress{Index: i + 1, Total: total, Path: f.path})

		outcome := s.processFile(ctx, gen, run.rootDir, snapshot, f)

		run.mu.Lock()
		run.summary.Scanned++
		switch outcome {
		case outcomeRefreshed, outcomeProcessed:
			run.summary.AddedOrUpdated++
		case outcomeError:
			run.summary.Errors++
		}
		run.mu.Unlock()
		metrics.ScanFilesProcessed.WithLabelValues(string(outcome)).Inc()
	}

	return ctx.Err() != nil
}

type fileEntry struct {
	path    string
	size    int64
	modTime int64
}

// enumerate walks root collecting every file with a known media
// extension, skipping the thumbnails directory. The returned order is
// the walk order and defines the progress indices.
func enumerate(root, thumbsDir string) ([]fileEntry, error) {
	var files []fileEntry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logging.Warn("enumerate: skipping %s: %v", path, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path == thumbsDir {
				return filepath.SkipDir
			}
			return nil
		}
		if !mediatypes.IsMediaPath(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			logging.Warn("enumerate: cannot stat %s: %v", path, err)
			return nil
		}
		files = append(files, fileEntry{
			path:    path,
			size:    info.Size(),
			modTime: info.ModTime().UTC().Unix(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

type outcome string

const (
	outcomeSkipped   outcome = "skipped"
	outcomeRefreshed outcome = "refreshed"
	outcomeProcessed outcome = "processed"
	outcomeError     outcome = "error"
)

// processFile applies the skip/refresh/reprocess decision for one
// file. Errors are isolated: the file gets an error record and the
// scan moves on.
func (s *Scanner) processFile(ctx context.Context, gen *thumbs.Generator, rootDir string, snapshot map[string]database.SnapshotEntry, f fileEntry) outcome {
	kind := mediatypes.KindForPath(f.path)

	// Cancellation takes effect at the next file boundary: the file
	// already in flight commits its row, so store writes must outlive
	// a cancel that lands mid-file.
	dbCtx := context.WithoutCancel(ctx)

	entry, known := snapshot[f.path]
	unchanged := known && entry.SizeBytes == f.size && entry.ModifiedTimeUTC == f.modTime && entry.SHA256 != ""

	if unchanged {
		// Audio never has a thumbnail, so an unchanged row is final.
		if kind == mediatypes.KindAudio || gen.Exists(entry.SHA256) {
			return outcomeSkipped
		}
		// Thumbnails directory was cleared: regenerate from the known
		// hash without re-hashing the source.
		thumbPath, err := s.generateThumbnail(ctx, gen, kind, f.path, entry.SHA256)
		if err != nil {
			logging.Warn("refresh thumbnail for %s: %v", f.path, err)
			s.recordError(dbCtx, rootDir, f, kind, err)
			return outcomeError
		}
		if thumbPath != entry.ThumbnailPath {
			if err := s.store.UpdateThumbnailPath(dbCtx, f.path, thumbPath); err != nil {
				logging.Error("update thumbnail path for %s: %v", f.path, err)
				return outcomeError
			}
		}
		return outcomeRefreshed
	}

	rec, err := s.buildRecord(ctx, gen, rootDir, f, kind)
	if err != nil {
		logging.Warn("process %s: %v", f.path, err)
		s.recordError(dbCtx, rootDir, f, kind, err)
		return outcomeError
	}

	if _, err := s.store.UpsertMedia(dbCtx, rec); err != nil {
		logging.Error("upsert %s: %v", f.path, err)
		return outcomeError
	}
	return outcomeProcessed
}

// buildRecord fully reprocesses one file: content hash, perceptual
// hash and capture time for images, dimensions, and the
// content-addressed thumbnail (reused when the bytes were seen
// before).
func (s *Scanner) buildRecord(ctx context.Context, gen *thumbs.Generator, rootDir string, f fileEntry, kind mediatypes.Kind) (*database.MediaRecord, error) {
	sha, err := hashing.ContentHash(f.path)
	if err != nil {
		return nil, err
	}

	rec := &database.MediaRecord{
		FilePath:        f.path,
		FileName:        filepath.Base(f.path),
		RootDir:         rootDir,
		Kind:            kind,
		SHA256:          sha,
		SizeBytes:       f.size,
		ModifiedTimeUTC: f.modTime,
	}

	switch kind {
	case mediatypes.KindImage:
		rec.PHash = hashing.PerceptualHash(f.path)
		rec.CapturedTimeUTC = thumbs.CaptureTime(f.path)
		if w, h, err := thumbs.ImageDimensions(f.path); err == nil {
			rec.Width, rec.Height = w, h
		} else {
			logging.Debug("dimensions of %s: %v", f.path, err)
		}
	case mediatypes.KindVideo:
		if w, h, err := thumbs.VideoDimensions(ctx, f.path); err == nil {
			rec.Width, rec.Height = w, h
		} else {
			logging.Debug("dimensions of %s: %v", f.path, err)
		}
	}

	if kind == mediatypes.KindImage || kind == mediatypes.KindVideo {
		if gen.Exists(sha) {
			// Identical bytes already have a thumbnail; content
			// addressing makes the re-encode free.
			rec.ThumbnailPath = gen.Path(sha)
		} else {
			thumbPath, err := s.generateThumbnail(ctx, gen, kind, f.path, sha)
			if err != nil {
				return nil, err
			}
			rec.ThumbnailPath = thumbPath
		}
	}

	return rec, nil
}

func (s *Scanner) generateThumbnail(ctx context.Context, gen *thumbs.Generator, kind mediatypes.Kind, path, sha string) (string, error) {
	switch kind {
	case mediatypes.KindImage:
		return gen.FromImage(path, sha)
	case mediatypes.KindVideo:
		return gen.FromVideo(ctx, path, sha)
	default:
		return "", nil
	}
}

// recordError upserts an error row so the failure is visible in the
// index. Kind comes from the extension; hash and thumbnail stay
// empty, which forces a full reprocess on the next run.
func (s *Scanner) recordError(ctx context.Context, rootDir string, f fileEntry, kind mediatypes.Kind, cause error) {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	rec := &database.MediaRecord{
		FilePath:        f.path,
		FileName:        filepath.Base(f.path),
		RootDir:         rootDir,
		Kind:            kind,
		SizeBytes:       f.size,
		ModifiedTimeUTC: f.modTime,
		LastError:       msg,
	}
	if _, err := s.store.UpsertMedia(ctx, rec); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error("record error for %s: %v", f.path, err)
	}
}
