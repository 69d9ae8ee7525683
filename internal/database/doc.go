// Package database is the persistent media/tag index on SQLite. It
// owns all query composition (tag AND/OR filters, free text,
// pagination, ordering), the incremental-scan support surface
// (snapshots, soft-delete sweeps), and the change-notification
// contract dependent caches subscribe to.
package database
