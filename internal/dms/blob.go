package dms

import (
	"context"
	"io"
)

// BlobStore stores version content addressed by its SHA-256 checksum.
// Content is written exactly once per checksum and never mutated, so
// implementations only need transactional discipline on Put.
type BlobStore interface {
	// Put stores content identified by its checksum. Idempotent: storing
	// the same checksum again is a no-op (the reader is still consumed).
	Put(ctx context.Context, checksum string, r io.Reader, size int64) error

	// Get retrieves content by checksum and writes it to w.
	Get(ctx context.Context, checksum string, w io.Writer) error

	// Exists reports whether content with the given checksum is stored.
	Exists(ctx context.Context, checksum string) (bool, error)

	// ValidateSetup verifies the store is reachable and writable.
	ValidateSetup(ctx context.Context) error
}
