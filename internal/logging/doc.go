// Package logging provides leveled logging for the media indexer.
// The level is read once from the DEBUG or LOG_LEVEL environment
// variables and defaults to info.
package logging
