// Package handlers implements the JSON API: media queries, tag
// mutation, scan control, thumbnail serving, stats, and health.
package handlers
