// Package hashing computes content identities for media files: a
// cryptographic content hash used for dedup and thumbnail naming, and
// a similarity-tolerant perceptual hash for images.
package hashing
