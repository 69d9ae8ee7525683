package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// NormalizeTag canonicalizes a tag name: trimmed, lowercase.
func NormalizeTag(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NormalizeTags normalizes a tag list, dropping empties and
// duplicates while preserving first-seen order.
func NormalizeTags(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		n := NormalizeTag(name)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// ensureTag returns the id of the named tag, creating the row if
// needed. The no-op DO UPDATE makes RETURNING yield the id on the
// conflict path too.
func ensureTag(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO tags (name) VALUES (?)
		ON CONFLICT(name) DO UPDATE SET name = excluded.name
		RETURNING id`, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ensure tag %q: %w", name, err)
	}
	return id, nil
}

// gcTags removes tag rows with no remaining associations. Tags have a
// reference-counted lifetime: last association gone, tag gone.
func gcTags(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		DELETE FROM tags WHERE id NOT IN (SELECT DISTINCT tag_id FROM media_tags)`)
	if err != nil {
		return fmt.Errorf("collect orphaned tags: %w", err)
	}
	return nil
}

// SetTags replaces a media row's tag set.
func (s *Store) SetTags(ctx context.Context, mediaID int64, tags []string) error {
	start := time.Now()
	err := s.mutateTags(ctx, "set_tags", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM media_tags WHERE media_id = ?`, mediaID); err != nil {
			return fmt.Errorf("clear tags for %d: %w", mediaID, err)
		}
		return insertAssociations(ctx, tx, mediaID, NormalizeTags(tags))
	})
	observe("set_tags", start, err)
	return err
}

// AddTags adds tags to a media row; already-present tags are ignored.
func (s *Store) AddTags(ctx context.Context, mediaID int64, tags []string) error {
	start := time.Now()
	err := s.mutateTags(ctx, "add_tags", func(tx *sql.Tx) error {
		return insertAssociations(ctx, tx, mediaID, NormalizeTags(tags))
	})
	observe("add_tags", start, err)
	return err
}

// RemoveTags removes the named tags from a media row.
func (s *Store) RemoveTags(ctx context.Context, mediaID int64, tags []string) error {
	start := time.Now()
	err := s.mutateTags(ctx, "remove_tags", func(tx *sql.Tx) error {
		normalized := NormalizeTags(tags)
		if len(normalized) == 0 {
			return nil
		}
		placeholders := strings.Repeat("?,", len(normalized)-1) + "?"
		args := make([]any, 0, len(normalized)+1)
		args = append(args, mediaID)
		for _, tag := range normalized {
			args = append(args, tag)
		}
		_, err := tx.ExecContext(ctx, `
			DELETE FROM media_tags WHERE media_id = ?
			AND tag_id IN (SELECT id FROM tags WHERE name IN (`+placeholders+`))`, args...)
		if err != nil {
			return fmt.Errorf("remove tags from %d: %w", mediaID, err)
		}
		return nil
	})
	observe("remove_tags", start, err)
	return err
}

// mutateTags runs fn in a transaction, garbage-collects orphaned tag
// rows, and emits a tags-changed event on success.
func (s *Store) mutateTags(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := gcTags(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.notify(ChangeEvent{Kind: ChangeTags})
	return nil
}

func insertAssociations(ctx context.Context, tx *sql.Tx, mediaID int64, tags []string) error {
	for _, tag := range tags {
		tagID, err := ensureTag(ctx, tx, tag)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO media_tags (media_id, tag_id) VALUES (?, ?)`, mediaID, tagID)
		if err != nil {
			return fmt.Errorf("tag %d with %q: %w", mediaID, tag, err)
		}
	}
	return nil
}

// RemoveTagGlobally deletes a tag everywhere and returns how many
// associations were removed. The tag row itself goes with them.
func (s *Store) RemoveTagGlobally(ctx context.Context, name string) (int64, error) {
	start := time.Now()
	normalized := NormalizeTag(name)
	if normalized == "" {
		observe("remove_tag_globally", start, nil)
		return 0, nil
	}

	var affected int64
	err := s.mutateTags(ctx, "remove_tag_globally", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM media_tags
			WHERE tag_id IN (SELECT id FROM tags WHERE name = ?)`, normalized)
		if err != nil {
			return fmt.Errorf("remove tag %q: %w", normalized, err)
		}
		if affected, err = res.RowsAffected(); err != nil {
			return fmt.Errorf("remove tag %q: %w", normalized, err)
		}
		// gcTags in mutateTags only reaps unreferenced rows; a tag
		// that never had associations still needs to go.
		if _, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE name = ?`, normalized); err != nil {
			return fmt.Errorf("remove tag %q: %w", normalized, err)
		}
		return nil
	})
	observe("remove_tag_globally", start, err)
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// TagsForMedia returns a media row's tags sorted by name.
func (s *Store) TagsForMedia(ctx context.Context, mediaID int64) ([]string, error) {
	start := time.Now()

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.name FROM tags t
		JOIN media_tags mt ON mt.tag_id = t.id
		WHERE mt.media_id = ?
		ORDER BY t.name`, mediaID)
	if err != nil {
		observe("tags_for_media", start, err)
		return nil, fmt.Errorf("tags for %d: %w", mediaID, err)
	}
	defer func() { _ = rows.Close() }()

	var tags []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			observe("tags_for_media", start, err)
			return nil, fmt.Errorf("scan tag row: %w", err)
		}
		tags = append(tags, name)
	}
	err = rows.Err()
	observe("tags_for_media", start, err)
	if err != nil {
		return nil, fmt.Errorf("tags for %d: %w", mediaID, err)
	}
	return tags, nil
}

// ListTags returns all tag names sorted alphabetically.
func (s *Store) ListTags(ctx context.Context) ([]string, error) {
	start := time.Now()

	rows, err := s.db.QueryContext(ctx, `SELECT name FROM tags ORDER BY name`)
	if err != nil {
		observe("list_tags", start, err)
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tags []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			observe("list_tags", start, err)
			return nil, fmt.Errorf("scan tag row: %w", err)
		}
		tags = append(tags, name)
	}
	err = rows.Err()
	observe("list_tags", start, err)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	return tags, nil
}

// TagCounts returns every tag with its number of associations to
// active media. Associations to soft-deleted rows are not counted.
func (s *Store) TagCounts(ctx context.Context) ([]TagCount, error) {
	start := time.Now()

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.name, COUNT(m.id)
		FROM tags t
		LEFT JOIN media_tags mt ON mt.tag_id = t.id
		LEFT JOIN media m ON m.id = mt.media_id AND m.status = 'active'
		GROUP BY t.id
		ORDER BY t.name`)
	if err != nil {
		observe("tag_counts", start, err)
		return nil, fmt.Errorf("tag counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var counts []TagCount
	for rows.Next() {
		var tc TagCount
		if err := rows.Scan(&tc.Name, &tc.Count); err != nil {
			observe("tag_counts", start, err)
			return nil, fmt.Errorf("scan tag count row: %w", err)
		}
		counts = append(counts, tc)
	}
	err = rows.Err()
	observe("tag_counts", start, err)
	if err != nil {
		return nil, fmt.Errorf("tag counts: %w", err)
	}
	return counts, nil
}

// UntaggedCount returns the number of active media rows with no tags.
func (s *Store) UntaggedCount(ctx context.Context) (int64, error) {
	start := time.Now()

	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM media m
		WHERE m.status = 'active'
		AND NOT EXISTS (SELECT 1 FROM media_tags mt WHERE mt.media_id = m.id)`).Scan(&count)
	observe("untagged_count", start, err)
	if err != nil {
		return 0, fmt.Errorf("untagged count: %w", err)
	}
	return count, nil
}
