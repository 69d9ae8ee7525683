package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a lookup by id or path matches no row.
var ErrNotFound = errors.New("media record not found")

const mediaColumns = `m.id, m.file_path, m.file_name, m.root_dir, m.kind,
	m.sha256, m.phash, m.width, m.height, m.size_bytes,
	m.captured_time_utc, m.modified_time_utc, m.thumbnail_path,
	m.status, m.last_error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMediaRow(row rowScanner) (*MediaRecord, error) {
	var rec MediaRecord
	var sha, phash, thumb, lastErr sql.NullString
	var width, height, captured sql.NullInt64

	err := row.Scan(
		&rec.ID, &rec.FilePath, &rec.FileName, &rec.RootDir, &rec.Kind,
		&sha, &phash, &width, &height, &rec.SizeBytes,
		&captured, &rec.ModifiedTimeUTC, &thumb,
		&rec.Status, &lastErr,
	)
	if err != nil {
		return nil, err
	}

	rec.SHA256 = sha.String
	rec.PHash = phash.String
	rec.Width = int(width.Int64)
	rec.Height = int(height.Int64)
	rec.CapturedTimeUTC = captured.Int64
	rec.ThumbnailPath = thumb.String
	rec.LastError = lastErr.String
	return &rec, nil
}

// UpsertMedia inserts a record or, on a path conflict, updates every
// mutable column of the existing row and forces status back to
// active. A single statement keeps it atomic against concurrent
// readers. Returns the row's stable id.
func (s *Store) UpsertMedia(ctx context.Context, rec *MediaRecord) (int64, error) {
	start := time.Now()

	const query = `
	INSERT INTO media (
		file_path, file_name, root_dir, kind, sha256, phash,
		width, height, size_bytes, captured_time_utc,
		modified_time_utc, thumbnail_path, status, last_error, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'active', ?, strftime('%s', 'now'))
	ON CONFLICT(file_path) DO UPDATE SET
		file_name = excluded.file_name,
		root_dir = excluded.root_dir,
		kind = excluded.kind,
		sha256 = excluded.sha256,
		phash = excluded.phash,
		width = excluded.width,
		height = excluded.height,
		size_bytes = excluded.size_bytes,
		captured_time_utc = excluded.captured_time_utc,
		modified_time_utc = excluded.modified_time_utc,
		thumbnail_path = excluded.thumbnail_path,
		status = 'active',
		last_error = excluded.last_error,
		updated_at = excluded.updated_at
	RETURNING id`

	var id int64
	err := s.db.QueryRowContext(ctx, query,
		rec.FilePath, rec.FileName, rec.RootDir, string(rec.Kind),
		nullString(rec.SHA256), nullString(rec.PHash),
		nullInt64(int64(rec.Width)), nullInt64(int64(rec.Height)),
		rec.SizeBytes, nullInt64(rec.CapturedTimeUTC),
		rec.ModifiedTimeUTC, nullString(rec.ThumbnailPath),
		nullString(rec.LastError),
	).Scan(&id)
	observe("upsert_media", start, err)
	if err != nil {
		return 0, fmt.Errorf("upsert %s: %w", rec.FilePath, err)
	}

	rec.ID = id
	rec.Status = StatusActive
	s.notify(ChangeEvent{Kind: ChangeMedia, MediaID: id})
	return id, nil
}

// GetMedia returns one record, with its tags, by id.
func (s *Store) GetMedia(ctx context.Context, id int64) (*MediaRecord, error) {
	start := time.Now()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+mediaColumns+` FROM media m WHERE m.id = ?`, id)
	rec, err := scanMediaRow(row)
	observe("get_media", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get media %d: %w", id, err)
	}

	tags, err := s.TagsForMedia(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.Tags = tags
	return rec, nil
}

// GetMediaByPath returns one record by its absolute file path.
func (s *Store) GetMediaByPath(ctx context.Context, path string) (*MediaRecord, error) {
	start := time.Now()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+mediaColumns+` FROM media m WHERE m.file_path = ?`, path)
	rec, err := scanMediaRow(row)
	observe("get_media_by_path", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get media %s: %w", path, err)
	}
	return rec, nil
}

// DeleteMedia hard-deletes a row. This is the explicit user action;
// scans only ever soft-delete. Tag rows orphaned by the cascade are
// garbage-collected.
func (s *Store) DeleteMedia(ctx context.Context, id int64) error {
	start := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		observe("delete_media", start, err)
		return fmt.Errorf("delete media %d: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM media WHERE id = ?`, id)
	if err == nil {
		var n int64
		if n, err = res.RowsAffected(); err == nil && n == 0 {
			err = ErrNotFound
		}
	}
	if err == nil {
		err = gcTags(ctx, tx)
	}
	if err == nil {
		err = tx.Commit()
	}
	observe("delete_media", start, err)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete media %d: %w", id, err)
	}

	s.notify(ChangeEvent{Kind: ChangeMedia, MediaID: id})
	s.notify(ChangeEvent{Kind: ChangeTags})
	return nil
}

// UpdateThumbnailPath points an existing row at a new thumbnail file.
func (s *Store) UpdateThumbnailPath(ctx context.Context, path, thumbnailPath string) error {
	start := time.Now()

	_, err := s.db.ExecContext(ctx,
		`UPDATE media SET thumbnail_path = ?, updated_at = strftime('%s', 'now') WHERE file_path = ?`,
		nullString(thumbnailPath), path)
	observe("update_thumbnail_path", start, err)
	if err != nil {
		return fmt.Errorf("update thumbnail for %s: %w", path, err)
	}
	return nil
}

// QueryMedia returns one page of active records plus the total count
// of rows matching the same predicate. The count is computed before
// pagination so it reflects the filtered universe, not the page.
//
// Tag semantics: with MatchAll, a media id qualifies only when its
// count of distinct matching associations equals the number of
// requested tags; otherwise any single match qualifies. An empty tag
// set means no tag filter. An unknown root yields zero rows, not an
// error.
func (s *Store) QueryMedia(ctx context.Context, opts QueryOptions) ([]*MediaRecord, int, error) {
	start := time.Now()

	where := []string{"m.status = 'active'"}
	var args []any

	if opts.RootDir != "" {
		where = append(where, "m.root_dir = ?")
		args = append(args, opts.RootDir)
	}
	if opts.Text != "" {
		where = append(where, "m.file_name LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(opts.Text)+"%")
	}

	tags := NormalizeTags(opts.Tags)
	if len(tags) > 0 {
		placeholders := strings.Repeat("?,", len(tags)-1) + "?"
		sub := `m.id IN (
			SELECT mt.media_id FROM media_tags mt
			JOIN tags t ON t.id = mt.tag_id
			WHERE t.name IN (` + placeholders + `)
			GROUP BY mt.media_id`
		for _, tag := range tags {
			args = append(args, tag)
		}
		if opts.MatchAll {
			// AND via count-equality: one pass for any tag-set size.
			sub += ` HAVING COUNT(DISTINCT t.id) = ?`
			args = append(args, len(tags))
		}
		sub += `)`
		where = append(where, sub)
	}

	predicate := strings.Join(where, " AND ")

	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM media m WHERE `+predicate, args...).Scan(&total)
	if err != nil {
		observe("query_media", start, err)
		return nil, 0, fmt.Errorf("count media: %w", err)
	}

	column, ok := sortColumns[opts.OrderBy]
	if !ok {
		column = sortColumns[SortByModified]
	}
	direction := "DESC"
	if opts.Order == OrderAsc {
		direction = "ASC"
	}

	query := `SELECT ` + mediaColumns + ` FROM media m WHERE ` + predicate +
		` ORDER BY ` + column + ` ` + direction + `, m.id DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		observe("query_media", start, err)
		return nil, 0, fmt.Errorf("query media: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*MediaRecord
	for rows.Next() {
		rec, err := scanMediaRow(rows)
		if err != nil {
			observe("query_media", start, err)
			return nil, 0, fmt.Errorf("scan media row: %w", err)
		}
		records = append(records, rec)
	}
	err = rows.Err()
	observe("query_media", start, err)
	if err != nil {
		return nil, 0, fmt.Errorf("query media: %w", err)
	}

	return records, total, nil
}

// escapeLike guards user text against LIKE metacharacters.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// PHashEntry pairs a media id with its perceptual hash for in-memory
// distance comparison.
type PHashEntry struct {
	ID    int64
	PHash string
}

// ActivePerceptualHashes returns the id and perceptual hash of every
// active row that has one. The result is small (16 hex chars per row)
// and is scored in memory; SQLite has no Hamming-distance operator.
func (s *Store) ActivePerceptualHashes(ctx context.Context) ([]PHashEntry, error) {
	start := time.Now()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, phash FROM media
		WHERE status = 'active' AND phash IS NOT NULL AND phash != ''`)
	if err != nil {
		observe("active_phashes", start, err)
		return nil, fmt.Errorf("list perceptual hashes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []PHashEntry
	for rows.Next() {
		var e PHashEntry
		if err := rows.Scan(&e.ID, &e.PHash); err != nil {
			observe("active_phashes", start, err)
			return nil, fmt.Errorf("scan perceptual hash row: %w", err)
		}
		entries = append(entries, e)
	}
	err = rows.Err()
	observe("active_phashes", start, err)
	if err != nil {
		return nil, fmt.Errorf("list perceptual hashes: %w", err)
	}

	return entries, nil
}

// SnapshotForRoot returns the compact per-path state of every active
// row under rootDir, loaded once per scan rather than per file.
func (s *Store) SnapshotForRoot(ctx context.Context, rootDir string) (map[string]SnapshotEntry, error) {
	start := time.Now()

	rows, err := s.db.QueryContext(ctx, `
		SELECT file_path, size_bytes, modified_time_utc, thumbnail_path, sha256, kind
		FROM media WHERE root_dir = ? AND status = 'active'`, rootDir)
	if err != nil {
		observe("snapshot_for_root", start, err)
		return nil, fmt.Errorf("snapshot for %s: %w", rootDir, err)
	}
	defer func() { _ = rows.Close() }()

	snapshot := make(map[string]SnapshotEntry)
	for rows.Next() {
		var path string
		var entry SnapshotEntry
		var thumb, sha sql.NullString
		if err := rows.Scan(&path, &entry.SizeBytes, &entry.ModifiedTimeUTC, &thumb, &sha, &entry.Kind); err != nil {
			observe("snapshot_for_root", start, err)
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		entry.ThumbnailPath = thumb.String
		entry.SHA256 = sha.String
		snapshot[path] = entry
	}
	err = rows.Err()
	observe("snapshot_for_root", start, err)
	if err != nil {
		return nil, fmt.Errorf("snapshot for %s: %w", rootDir, err)
	}

	return snapshot, nil
}

// MarkMissingDeleted soft-deletes every active row under rootDir
// whose path is not in observed, and returns the number of rows
// flipped. An empty observed set soft-deletes everything under the
// root; that is the intended result of scanning an emptied or
// unmounted directory.
func (s *Store) MarkMissingDeleted(ctx context.Context, rootDir string, observed map[string]struct{}) (int64, error) {
	start := time.Now()

	rows, err := s.db.QueryContext(ctx,
		`SELECT file_path FROM media WHERE root_dir = ? AND status = 'active'`, rootDir)
	if err != nil {
		observe("mark_missing_deleted", start, err)
		return 0, fmt.Errorf("list active under %s: %w", rootDir, err)
	}

	var missing []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			_ = rows.Close()
			observe("mark_missing_deleted", start, err)
			return 0, fmt.Errorf("scan path row: %w", err)
		}
		if _, ok := observed[path]; !ok {
			missing = append(missing, path)
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		observe("mark_missing_deleted", start, err)
		return 0, fmt.Errorf("list active under %s: %w", rootDir, err)
	}
	_ = rows.Close()

	if len(missing) == 0 {
		observe("mark_missing_deleted", start, nil)
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		observe("mark_missing_deleted", start, err)
		return 0, fmt.Errorf("mark missing under %s: %w", rootDir, err)
	}
	defer func() { _ = tx.Rollback() }()

	var affected int64
	const batchSize = 400 // stay well under SQLite's bound-parameter cap
	for i := 0; i < len(missing); i += batchSize {
		end := i + batchSize
		if end > len(missing) {
			end = len(missing)
		}
		batch := missing[i:end]

		placeholders := strings.Repeat("?,", len(batch)-1) + "?"
		args := make([]any, len(batch))
		for j, p := range batch {
			args[j] = p
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE media SET status = 'deleted', updated_at = strftime('%s', 'now')
			WHERE file_path IN (`+placeholders+`)`, args...)
		if err != nil {
			observe("mark_missing_deleted", start, err)
			return 0, fmt.Errorf("mark missing under %s: %w", rootDir, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			observe("mark_missing_deleted", start, err)
			return 0, fmt.Errorf("mark missing under %s: %w", rootDir, err)
		}
		affected += n
	}

	err = tx.Commit()
	observe("mark_missing_deleted", start, err)
	if err != nil {
		return 0, fmt.Errorf("mark missing under %s: %w", rootDir, err)
	}

	if affected > 0 {
		s.notify(ChangeEvent{Kind: ChangeMedia})
	}
	return affected, nil
}
