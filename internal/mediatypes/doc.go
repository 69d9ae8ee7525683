// Package mediatypes classifies files into media kinds by extension
// and maps extensions to MIME types.
package mediatypes
