// Package thumbcache serves display-ready thumbnail tiles from a
// bounded in-memory LRU, loading misses asynchronously on a bounded
// worker pool. Duplicate in-flight requests for one (media, size) key
// coalesce into a single decode, and pending work can be cancelled
// individually or in bulk.
package thumbcache
