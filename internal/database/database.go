package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"media-index/internal/logging"
	"media-index/internal/metrics"
)

// Default timeout for connection establishment.
const defaultTimeout = 5 * time.Second

// Store is the persistent media/tag index. It is safe for concurrent
// use; WAL mode keeps readers unblocked by the single writer.
type Store struct {
	db     *sql.DB
	dbPath string

	subMu   sync.Mutex
	subs    map[int]chan ChangeEvent
	nextSub int
}

// New opens (or creates) the index at dbPath and ensures the schema.
// The parent directory must already exist and be writable; use
// startup.LoadConfig() for that validation.
func New(ctx context.Context, dbPath string) (*Store, error) {
	logging.Info("Index path: %s", dbPath)

	// WAL so scan upserts never block query readers. busy_timeout
	// covers the brief writer handoff between scanner and tag edits.
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close index after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to index: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{
		db:     db,
		dbPath: dbPath,
		subs:   make(map[int]chan ChangeEvent),
	}

	if err := s.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close index after schema failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	metrics.DBConnectionsOpen.Set(float64(db.Stats().OpenConnections))
	logging.Info("Index initialized at %s", dbPath)
	return s, nil
}

func (s *Store) initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS media (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_path TEXT NOT NULL UNIQUE,
		file_name TEXT NOT NULL,
		root_dir TEXT NOT NULL,
		kind TEXT NOT NULL,
		sha256 TEXT,
		phash TEXT,
		width INTEGER,
		height INTEGER,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		captured_time_utc INTEGER,
		modified_time_utc INTEGER NOT NULL DEFAULT 0,
		thumbnail_path TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		last_error TEXT,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	CREATE INDEX IF NOT EXISTS idx_media_sha256 ON media(sha256);
	CREATE INDEX IF NOT EXISTS idx_media_phash ON media(phash);
	CREATE INDEX IF NOT EXISTS idx_media_mod_time ON media(modified_time_utc);
	CREATE INDEX IF NOT EXISTS idx_media_root_dir ON media(root_dir);
	CREATE INDEX IF NOT EXISTS idx_media_root_status ON media(root_dir, status);

	CREATE TABLE IF NOT EXISTS tags (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS media_tags (
		media_id INTEGER NOT NULL REFERENCES media(id) ON DELETE CASCADE,
		tag_id INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
		PRIMARY KEY (media_id, tag_id)
	);

	CREATE INDEX IF NOT EXISTS idx_media_tags_tag ON media_tags(tag_id);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	return nil
}

// Ping verifies the underlying database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close shuts the underlying database and closes all subscriber
// channels.
func (s *Store) Close() error {
	s.subMu.Lock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.subMu.Unlock()

	return s.db.Close()
}

// observe records one query's outcome and latency.
func observe(op string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.DBQueryTotal.WithLabelValues(op, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// nullString maps "" to SQL NULL on write.
func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// nullInt64 maps 0 to SQL NULL on write.
func nullInt64(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
