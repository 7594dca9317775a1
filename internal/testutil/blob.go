package testutil

import (
	"dms-go/internal/blob"
	"dms-go/internal/dms"
)

// NewTestBlobStore creates a new in-memory blob store for testing.
func NewTestBlobStore() dms.BlobStore {
	return blob.NewMemoryStore()
}
