package database

import (
	"media-index/internal/mediatypes"
)

// Status is a media row's lifecycle state. Rows are soft-deleted when
// a scan no longer observes their path; only an explicit user action
// removes a row for good.
type Status string

const (
	StatusActive  Status = "active"
	StatusDeleted Status = "deleted"
)

// MediaRecord is one indexed file. The file path is the upsert key;
// the id is store-assigned and stable for the life of the row.
type MediaRecord struct {
	ID              int64           `json:"id"`
	FilePath        string          `json:"filePath"`
	FileName        string          `json:"fileName"`
	RootDir         string          `json:"rootDir"`
	Kind            mediatypes.Kind `json:"kind"`
	SHA256          string          `json:"sha256,omitempty"`
	PHash           string          `json:"phash,omitempty"`
	Width           int             `json:"width,omitempty"`
	Height          int             `json:"height,omitempty"`
	SizeBytes       int64           `json:"sizeBytes"`
	CapturedTimeUTC int64           `json:"capturedTimeUtc,omitempty"`
	ModifiedTimeUTC int64           `json:"modifiedTimeUtc"`
	ThumbnailPath   string          `json:"thumbnailPath,omitempty"`
	Status          Status          `json:"status"`
	LastError       string          `json:"lastError,omitempty"`
	Tags            []string        `json:"tags,omitempty"`
}

// SnapshotEntry is the compact per-path state a scan needs to decide
// skip/refresh/reprocess without hydrating full records.
type SnapshotEntry struct {
	SizeBytes       int64
	ModifiedTimeUTC int64
	ThumbnailPath   string
	SHA256          string
	Kind            mediatypes.Kind
}

// SortField names a column the query API may order by.
type SortField string

const (
	SortByModified SortField = "modified"
	SortByName     SortField = "name"
	SortByCaptured SortField = "captured"
	SortBySize     SortField = "size"
)

// SortOrder is the direction of a sort.
type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

// sortColumns maps sort fields to their SQL columns. Acting as a
// whitelist keeps caller input out of the ORDER BY clause.
var sortColumns = map[SortField]string{
	SortByModified: "m.modified_time_utc",
	SortByName:     "m.file_name COLLATE NOCASE",
	SortByCaptured: "m.captured_time_utc",
	SortBySize:     "m.size_bytes",
}

// QueryOptions describe one page request against the index. A zero
// value means "all active media, newest modification first".
type QueryOptions struct {
	// Tags filters by tag names (normalized before matching). Empty
	// means no tag filter.
	Tags []string

	// MatchAll requires every tag in Tags to be present (AND). When
	// false, any one match qualifies (OR).
	MatchAll bool

	// Text is a case-insensitive filename substring filter.
	Text string

	// RootDir scopes the query to one scanned root.
	RootDir string

	// Limit and Offset paginate. Limit <= 0 means no limit.
	Limit  int
	Offset int

	OrderBy SortField
	Order   SortOrder
}

// TagCount pairs a tag name with its number of active associations.
type TagCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// Stats summarizes the index for the stats endpoint.
type Stats struct {
	ActiveTotal   int64            `json:"activeTotal"`
	DeletedTotal  int64            `json:"deletedTotal"`
	ByKind        map[string]int64 `json:"byKind"`
	TagTotal      int64            `json:"tagTotal"`
	UntaggedTotal int64            `json:"untaggedTotal"`
}
