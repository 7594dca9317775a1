package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"dms-go/internal/dms"
)

// MemoryStore is an in-memory implementation of the BlobStore interface,
// useful for testing. Safe for concurrent use.
type MemoryStore struct {
	content map[string][]byte // checksum -> content
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		content: make(map[string][]byte),
	}
}

// Put stores content identified by its checksum.
func (m *MemoryStore) Put(_ context.Context, checksum string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}

	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Idempotent: storing the same checksum multiple times is safe
	m.content[checksum] = data
	return nil
}

// Get retrieves content by checksum and writes it to w.
func (m *MemoryStore) Get(_ context.Context, checksum string, w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.content[checksum]
	if !ok {
		return fmt.Errorf("content not found: %s", checksum)
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write content: %w", err)
	}

	return nil
}

// Exists reports whether content with the given checksum is stored.
func (m *MemoryStore) Exists(_ context.Context, checksum string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.content[checksum]
	return ok, nil
}

// ValidateSetup always succeeds for the in-memory store.
func (m *MemoryStore) ValidateSetup(context.Context) error {
	return nil
}

// Compile-time check that MemoryStore implements dms.BlobStore
var _ dms.BlobStore = (*MemoryStore)(nil)
