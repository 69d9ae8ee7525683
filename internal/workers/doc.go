// Package workers sizes bounded worker pools relative to the
// available parallelism.
package workers
