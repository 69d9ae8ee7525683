package database

import (
	"context"
	"fmt"
	"time"
)

// GetStats summarizes the index: active/deleted totals, a per-kind
// breakdown of active rows, and tag coverage.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	start := time.Now()

	stats := &Stats{ByKind: make(map[string]int64)}

	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, COUNT(*) FROM media WHERE status = 'active' GROUP BY kind`)
	if err != nil {
		observe("get_stats", start, err)
		return nil, fmt.Errorf("stats by kind: %w", err)
	}
	for rows.Next() {
		var kind string
		var count int64
		if err := rows.Scan(&kind, &count); err != nil {
			_ = rows.Close()
			observe("get_stats", start, err)
			return nil, fmt.Errorf("scan stats row: %w", err)
		}
		stats.ByKind[kind] = count
		stats.ActiveTotal += count
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		observe("get_stats", start, err)
		return nil, fmt.Errorf("stats by kind: %w", err)
	}
	_ = rows.Close()

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM media WHERE status = 'deleted'`).Scan(&stats.DeletedTotal)
	if err != nil {
		observe("get_stats", start, err)
		return nil, fmt.Errorf("deleted total: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tags`).Scan(&stats.TagTotal)
	if err != nil {
		observe("get_stats", start, err)
		return nil, fmt.Errorf("tag total: %w", err)
	}

	stats.UntaggedTotal, err = s.UntaggedCount(ctx)
	observe("get_stats", start, err)
	if err != nil {
		return nil, err
	}

	return stats, nil
}
