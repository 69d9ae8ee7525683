// Package metrics defines the Prometheus collectors exported by the
// media indexer. All collectors are registered with the default
// registry via promauto at package load time.
package metrics
