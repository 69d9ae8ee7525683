package database

import (
	"context"
	"path/filepath"
	"testing"

	"media-index/internal/mediatypes"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return store
}

func testRecord(path, root string) *MediaRecord {
	return &MediaRecord{
		FilePath:        path,
		FileName:        filepath.Base(path),
		RootDir:         root,
		Kind:            mediatypes.KindImage,
		SHA256:          "deadbeef",
		SizeBytes:       1234,
		ModifiedTimeUTC: 1700000000,
	}
}

func TestUpsertMediaAssignsStableID(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("/m/a.jpg", "/m")
	id1, err := store.UpsertMedia(ctx, rec)
	if err != nil {
		t.Fatalf("UpsertMedia() error = %v", err)
	}

	rec.SizeBytes = 9999
	id2, err := store.UpsertMedia(ctx, rec)
	if err != nil {
		t.Fatalf("UpsertMedia() second call error = %v", err)
	}
	if id1 != id2 {
		t.Errorf("upsert by path returned id %d, want stable id %d", id2, id1)
	}

	got, err := store.GetMedia(ctx, id1)
	if err != nil {
		t.Fatalf("GetMedia() error = %v", err)
	}
	if got.SizeBytes != 9999 {
		t.Errorf("SizeBytes = %d, want 9999", got.SizeBytes)
	}
}

func TestUpsertResurrectsDeletedRow(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("/m/gone.jpg", "/m")
	id, err := store.UpsertMedia(ctx, rec)
	if err != nil {
		t.Fatalf("UpsertMedia() error = %v", err)
	}

	if _, err := store.MarkMissingDeleted(ctx, "/m", map[string]struct{}{}); err != nil {
		t.Fatalf("MarkMissingDeleted() error = %v", err)
	}
	got, err := store.GetMedia(ctx, id)
	if err != nil {
		t.Fatalf("GetMedia() error = %v", err)
	}
	if got.Status != StatusDeleted {
		t.Fatalf("Status = %q, want %q", got.Status, StatusDeleted)
	}

	id2, err := store.UpsertMedia(ctx, rec)
	if err != nil {
		t.Fatalf("UpsertMedia() after delete error = %v", err)
	}
	if id2 != id {
		t.Errorf("resurrected id = %d, want original id %d", id2, id)
	}
	got, err = store.GetMedia(ctx, id)
	if err != nil {
		t.Fatalf("GetMedia() error = %v", err)
	}
	if got.Status != StatusActive {
		t.Errorf("Status = %q, want %q after resurrection", got.Status, StatusActive)
	}
}

func TestMarkMissingDeletedEmptyObservedSet(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	for _, path := range []string{"/m/a.jpg", "/m/b.jpg", "/m/c.jpg"} {
		if _, err := store.UpsertMedia(ctx, testRecord(path, "/m")); err != nil {
			t.Fatalf("UpsertMedia(%s) error = %v", path, err)
		}
	}
	// A different root must be untouched by the sweep.
	otherID, err := store.UpsertMedia(ctx, testRecord("/other/d.jpg", "/other"))
	if err != nil {
		t.Fatalf("UpsertMedia() error = %v", err)
	}

	n, err := store.MarkMissingDeleted(ctx, "/m", map[string]struct{}{})
	if err != nil {
		t.Fatalf("MarkMissingDeleted() error = %v", err)
	}
	if n != 3 {
		t.Errorf("affected = %d, want 3", n)
	}

	got, err := store.GetMedia(ctx, otherID)
	if err != nil {
		t.Fatalf("GetMedia() error = %v", err)
	}
	if got.Status != StatusActive {
		t.Errorf("other-root row status = %q, want active", got.Status)
	}
}

func TestMarkMissingDeletedPartial(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	for _, path := range []string{"/m/keep.jpg", "/m/lose.jpg"} {
		if _, err := store.UpsertMedia(ctx, testRecord(path, "/m")); err != nil {
			t.Fatalf("UpsertMedia(%s) error = %v", path, err)
		}
	}

	n, err := store.MarkMissingDeleted(ctx, "/m", map[string]struct{}{"/m/keep.jpg": {}})
	if err != nil {
		t.Fatalf("MarkMissingDeleted() error = %v", err)
	}
	if n != 1 {
		t.Errorf("affected = %d, want 1", n)
	}

	records, total, err := store.QueryMedia(ctx, QueryOptions{RootDir: "/m"})
	if err != nil {
		t.Fatalf("QueryMedia() error = %v", err)
	}
	if total != 1 || len(records) != 1 || records[0].FilePath != "/m/keep.jpg" {
		t.Errorf("query after sweep = %d rows (total %d), want only /m/keep.jpg", len(records), total)
	}
}

func TestQueryMediaTagComposition(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	idA, _ := store.UpsertMedia(ctx, testRecord("/m/a.jpg", "/m"))
	idB, _ := store.UpsertMedia(ctx, testRecord("/m/b.jpg", "/m"))
	idC, _ := store.UpsertMedia(ctx, testRecord("/m/c.jpg", "/m"))

	if err := store.SetTags(ctx, idA, []string{"x", "y"}); err != nil {
		t.Fatalf("SetTags(A) error = %v", err)
	}
	if err := store.SetTags(ctx, idB, []string{"x"}); err != nil {
		t.Fatalf("SetTags(B) error = %v", err)
	}
	if err := store.SetTags(ctx, idC, []string{"y"}); err != nil {
		t.Fatalf("SetTags(C) error = %v", err)
	}

	tests := []struct {
		name     string
		opts     QueryOptions
		wantIDs  map[int64]bool
		wantSize int
	}{
		{
			name:     "AND returns only media with all tags",
			opts:     QueryOptions{Tags: []string{"x", "y"}, MatchAll: true},
			wantIDs:  map[int64]bool{idA: true},
			wantSize: 1,
		},
		{
			name:     "OR returns media with any tag",
			opts:     QueryOptions{Tags: []string{"x", "y"}},
			wantIDs:  map[int64]bool{idA: true, idB: true, idC: true},
			wantSize: 3,
		},
		{
			name:     "tags normalized before matching",
			opts:     QueryOptions{Tags: []string{"  X ", "Y"}, MatchAll: true},
			wantIDs:  map[int64]bool{idA: true},
			wantSize: 1,
		},
		{
			name:     "empty tag set means no tag filter",
			opts:     QueryOptions{Tags: nil},
			wantIDs:  map[int64]bool{idA: true, idB: true, idC: true},
			wantSize: 3,
		},
		{
			name:     "unknown root yields zero rows without error",
			opts:     QueryOptions{RootDir: "/nowhere"},
			wantIDs:  map[int64]bool{},
			wantSize: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, total, err := store.QueryMedia(ctx, tt.opts)
			if err != nil {
				t.Fatalf("QueryMedia() error = %v", err)
			}
			if total != tt.wantSize || len(records) != tt.wantSize {
				t.Fatalf("got %d rows (total %d), want %d", len(records), total, tt.wantSize)
			}
			for _, rec := range records {
				if !tt.wantIDs[rec.ID] {
					t.Errorf("unexpected record id %d (%s)", rec.ID, rec.FilePath)
				}
			}
		})
	}
}

func TestQueryMediaPagination(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rec := testRecord(filepath.Join("/m", string(rune('a'+i))+".jpg"), "/m")
		rec.ModifiedTimeUTC = int64(1700000000 + i)
		if _, err := store.UpsertMedia(ctx, rec); err != nil {
			t.Fatalf("UpsertMedia() error = %v", err)
		}
	}

	records, total, err := store.QueryMedia(ctx, QueryOptions{Limit: 2, Offset: 0})
	if err != nil {
		t.Fatalf("QueryMedia() error = %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5 (count reflects filtered universe, not page)", total)
	}
	if len(records) != 2 {
		t.Fatalf("page size = %d, want 2", len(records))
	}
	// Default ordering: most recently modified first.
	if records[0].FileName != "e.jpg" || records[1].FileName != "d.jpg" {
		t.Errorf("page = [%s, %s], want [e.jpg, d.jpg]", records[0].FileName, records[1].FileName)
	}

	records, _, err = store.QueryMedia(ctx, QueryOptions{Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("QueryMedia() offset error = %v", err)
	}
	if len(records) != 1 || records[0].FileName != "a.jpg" {
		t.Errorf("last page wrong: got %d rows", len(records))
	}
}

func TestQueryMediaTextFilter(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	store.UpsertMedia(ctx, testRecord("/m/Holiday_Beach.jpg", "/m"))
	store.UpsertMedia(ctx, testRecord("/m/work_notes.png", "/m"))

	records, total, err := store.QueryMedia(ctx, QueryOptions{Text: "holiday"})
	if err != nil {
		t.Fatalf("QueryMedia() error = %v", err)
	}
	if total != 1 || len(records) != 1 || records[0].FileName != "Holiday_Beach.jpg" {
		t.Errorf("case-insensitive text filter returned %d rows, want 1", len(records))
	}

	// LIKE metacharacters in user text match literally.
	if _, total, err = store.QueryMedia(ctx, QueryOptions{Text: "100%"}); err != nil || total != 0 {
		t.Errorf("literal %% search: total = %d, err = %v, want 0, nil", total, err)
	}
}

func TestTagLifecycle(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	id, _ := store.UpsertMedia(ctx, testRecord("/m/a.jpg", "/m"))

	if err := store.AddTags(ctx, id, []string{" Sunset ", "beach", "sunset"}); err != nil {
		t.Fatalf("AddTags() error = %v", err)
	}
	tags, err := store.TagsForMedia(ctx, id)
	if err != nil {
		t.Fatalf("TagsForMedia() error = %v", err)
	}
	if len(tags) != 2 || tags[0] != "beach" || tags[1] != "sunset" {
		t.Fatalf("tags = %v, want [beach sunset]", tags)
	}

	// Removing the last association removes the tag itself.
	if err := store.RemoveTags(ctx, id, []string{"sunset"}); err != nil {
		t.Fatalf("RemoveTags() error = %v", err)
	}
	all, err := store.ListTags(ctx)
	if err != nil {
		t.Fatalf("ListTags() error = %v", err)
	}
	if len(all) != 1 || all[0] != "beach" {
		t.Errorf("ListTags() = %v, want [beach] (reference-counted tag lifetime)", all)
	}

	if err := store.SetTags(ctx, id, nil); err != nil {
		t.Fatalf("SetTags(nil) error = %v", err)
	}
	all, _ = store.ListTags(ctx)
	if len(all) != 0 {
		t.Errorf("ListTags() after clearing = %v, want empty", all)
	}
}

func TestRemoveTagGlobally(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	idA, _ := store.UpsertMedia(ctx, testRecord("/m/a.jpg", "/m"))
	idB, _ := store.UpsertMedia(ctx, testRecord("/m/b.jpg", "/m"))
	store.SetTags(ctx, idA, []string{"shared", "only-a"})
	store.SetTags(ctx, idB, []string{"shared"})

	removed, err := store.RemoveTagGlobally(ctx, "SHARED")
	if err != nil {
		t.Fatalf("RemoveTagGlobally() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	all, _ := store.ListTags(ctx)
	if len(all) != 1 || all[0] != "only-a" {
		t.Errorf("ListTags() = %v, want [only-a]", all)
	}
}

func TestTagCountsIgnoreDeletedMedia(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	idA, _ := store.UpsertMedia(ctx, testRecord("/m/a.jpg", "/m"))
	idB, _ := store.UpsertMedia(ctx, testRecord("/m/b.jpg", "/m"))
	store.SetTags(ctx, idA, []string{"t"})
	store.SetTags(ctx, idB, []string{"t"})

	if _, err := store.MarkMissingDeleted(ctx, "/m", map[string]struct{}{"/m/a.jpg": {}}); err != nil {
		t.Fatalf("MarkMissingDeleted() error = %v", err)
	}

	counts, err := store.TagCounts(ctx)
	if err != nil {
		t.Fatalf("TagCounts() error = %v", err)
	}
	if len(counts) != 1 || counts[0].Name != "t" || counts[0].Count != 1 {
		t.Errorf("TagCounts() = %v, want [{t 1}]", counts)
	}
}

func TestUntaggedCount(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	idA, _ := store.UpsertMedia(ctx, testRecord("/m/a.jpg", "/m"))
	store.UpsertMedia(ctx, testRecord("/m/b.jpg", "/m"))
	store.SetTags(ctx, idA, []string{"t"})

	count, err := store.UntaggedCount(ctx)
	if err != nil {
		t.Fatalf("UntaggedCount() error = %v", err)
	}
	if count != 1 {
		t.Errorf("UntaggedCount() = %d, want 1", count)
	}
}

func TestSnapshotForRoot(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("/m/a.jpg", "/m")
	rec.ThumbnailPath = "/m/thumbnails/deadbeef.jpg"
	store.UpsertMedia(ctx, rec)

	deleted := testRecord("/m/gone.jpg", "/m")
	store.UpsertMedia(ctx, deleted)
	store.MarkMissingDeleted(ctx, "/m", map[string]struct{}{"/m/a.jpg": {}})

	snapshot, err := store.SnapshotForRoot(ctx, "/m")
	if err != nil {
		t.Fatalf("SnapshotForRoot() error = %v", err)
	}
	if len(snapshot) != 1 {
		t.Fatalf("snapshot has %d entries, want 1 (deleted rows excluded)", len(snapshot))
	}
	entry, ok := snapshot["/m/a.jpg"]
	if !ok {
		t.Fatal("snapshot missing /m/a.jpg")
	}
	if entry.SizeBytes != 1234 || entry.ModifiedTimeUTC != 1700000000 ||
		entry.SHA256 != "deadbeef" || entry.ThumbnailPath != "/m/thumbnails/deadbeef.jpg" ||
		entry.Kind != mediatypes.KindImage {
		t.Errorf("snapshot entry = %+v", entry)
	}
}

func TestActivePerceptualHashes(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	hashed := testRecord("/m/a.jpg", "/m")
	hashed.PHash = "a5a5a5a5a5a5a5a5"
	hashedID, _ := store.UpsertMedia(ctx, hashed)

	// No perceptual hash (audio, failed decode): excluded.
	store.UpsertMedia(ctx, testRecord("/m/b.jpg", "/m"))

	gone := testRecord("/m/c.jpg", "/m")
	gone.PHash = "ffffffffffffffff"
	store.UpsertMedia(ctx, gone)
	store.MarkMissingDeleted(ctx, "/m", map[string]struct{}{"/m/a.jpg": {}, "/m/b.jpg": {}})

	entries, err := store.ActivePerceptualHashes(ctx)
	if err != nil {
		t.Fatalf("ActivePerceptualHashes() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %v, want only the active hashed row", entries)
	}
	if entries[0].ID != hashedID || entries[0].PHash != "a5a5a5a5a5a5a5a5" {
		t.Errorf("entry = %+v, want id %d with its hash", entries[0], hashedID)
	}
}

func TestSubscribeReceivesChangeEvents(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	events, cancel := store.Subscribe(8)
	defer cancel()

	id, err := store.UpsertMedia(ctx, testRecord("/m/a.jpg", "/m"))
	if err != nil {
		t.Fatalf("UpsertMedia() error = %v", err)
	}

	ev := <-events
	if ev.Kind != ChangeMedia || ev.MediaID != id {
		t.Errorf("event = %+v, want media change for id %d", ev, id)
	}

	if err := store.SetTags(ctx, id, []string{"t"}); err != nil {
		t.Fatalf("SetTags() error = %v", err)
	}
	ev = <-events
	if ev.Kind != ChangeTags {
		t.Errorf("event kind = %q, want %q", ev.Kind, ChangeTags)
	}
}

func TestGetStats(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	img := testRecord("/m/a.jpg", "/m")
	store.UpsertMedia(ctx, img)
	vid := testRecord("/m/b.mp4", "/m")
	vid.Kind = mediatypes.KindVideo
	store.UpsertMedia(ctx, vid)
	gone := testRecord("/m/c.jpg", "/m")
	store.UpsertMedia(ctx, gone)
	store.MarkMissingDeleted(ctx, "/m", map[string]struct{}{"/m/a.jpg": {}, "/m/b.mp4": {}})

	stats, err := store.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.ActiveTotal != 2 || stats.DeletedTotal != 1 {
		t.Errorf("totals = %d active / %d deleted, want 2/1", stats.ActiveTotal, stats.DeletedTotal)
	}
	if stats.ByKind["image"] != 1 || stats.ByKind["video"] != 1 {
		t.Errorf("ByKind = %v", stats.ByKind)
	}
	if stats.UntaggedTotal != 2 {
		t.Errorf("UntaggedTotal = %d, want 2", stats.UntaggedTotal)
	}
}

func TestGetMediaNotFound(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	if _, err := store.GetMedia(context.Background(), 42); err != ErrNotFound {
		t.Errorf("GetMedia(42) error = %v, want ErrNotFound", err)
	}
	if err := store.DeleteMedia(context.Background(), 42); err != ErrNotFound {
		t.Errorf("DeleteMedia(42) error = %v, want ErrNotFound", err)
	}
}

func TestNormalizeTags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"trims and lowercases", []string{"  Beach ", "SUNSET"}, []string{"beach", "sunset"}},
		{"drops empties", []string{"", "  ", "a"}, []string{"a"}},
		{"dedupes preserving order", []string{"b", "A", "a", "B"}, []string{"b", "a"}},
		{"nil in, empty out", nil, []string{}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := NormalizeTags(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("NormalizeTags(%v) = %v, want %v", tt.in, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("NormalizeTags(%v)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
				}
			}
		})
	}
}
