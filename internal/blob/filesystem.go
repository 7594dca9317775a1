package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"dms-go/internal/dms"
)

// FileSystemStore is a filesystem-based implementation of the BlobStore
// interface. Content files live in a flat directory, named by checksum:
//
//	<root>/
//	  content/
//	    <checksum>
type FileSystemStore struct {
	root       string
	contentDir string
}

// NewFileSystemStore creates a new filesystem blob store rooted at the given path.
func NewFileSystemStore(root string) (*FileSystemStore, error) {
	contentDir := filepath.Join(root, "content")

	if err := os.MkdirAll(contentDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create content directory: %w", err)
	}

	return &FileSystemStore{
		root:       root,
		contentDir: contentDir,
	}, nil
}

// Put stores content identified by its checksum.
// The operation is idempotent: storing the same checksum multiple times is safe.
func (v *FileSystemStore) Put(_ context.Context, checksum string, r io.Reader, size int64) error {
	destPath := filepath.Join(v.contentDir, checksum)

	// If content already exists, skip (idempotent)
	if _, err := os.Stat(destPath); err == nil {
		// Consume the reader to maintain expected behavior
		written, err := io.Copy(io.Discard, r)
		if err != nil {
			return fmt.Errorf("failed to read content: %w", err)
		}
		if written != size {
			return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
		}
		return nil
	}

	return v.writeFile(destPath, r, size)
}

// Get retrieves content by checksum and writes it to w.
func (v *FileSystemStore) Get(_ context.Context, checksum string, w io.Writer) error {
	srcPath := filepath.Join(v.contentDir, checksum)

	f, err := os.Open(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("content not found: %s", checksum)
		}
		return fmt.Errorf("failed to open content: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	return nil
}

// Exists reports whether content with the given checksum is stored.
func (v *FileSystemStore) Exists(_ context.Context, checksum string) (bool, error) {
	_, err := os.Stat(filepath.Join(v.contentDir, checksum))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat content: %w", err)
	}
	return true, nil
}

// ValidateSetup verifies that the store directories are accessible.
func (v *FileSystemStore) ValidateSetup(context.Context) error {
	for _, dir := range []string{v.root, v.contentDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("store directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("store path is not a directory: %s", dir)
		}
	}
	return nil
}

// writeFile writes data from r to the specified path using atomic write
// (temp file + rename), so a crashed write never leaves a partial blob
// under a valid checksum name.
func (v *FileSystemStore) writeFile(destPath string, r io.Reader, expectedSize int64) error {
	// Create temp file in the same directory to ensure atomic rename works
	dir := filepath.Dir(destPath)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Clean up temp file on failure
	success := false
	defer func() {
		if !success {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		return fmt.Errorf("failed to write content: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, wrote %d", expectedSize, written)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to finalize content file: %w", err)
	}

	success = true
	return nil
}

// Compile-time check that FileSystemStore implements dms.BlobStore
var _ dms.BlobStore = (*FileSystemStore)(nil)
