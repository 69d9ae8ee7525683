// Package middleware provides HTTP request logging and Prometheus
// instrumentation wrappers for the API router.
package middleware
