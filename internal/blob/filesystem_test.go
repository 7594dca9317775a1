package blob

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileSystemStore(t *testing.T) {
	ctx := context.Background()

	newStore := func(t *testing.T) *FileSystemStore {
		t.Helper()
		store, err := NewFileSystemStore(t.TempDir())
		if err != nil {
			t.Fatalf("NewFileSystemStore() error = %v", err)
		}
		return store
	}

	t.Run("put and get round-trip", func(t *testing.T) {
		store := newStore(t)
		content := "file content"

		err := store.Put(ctx, "checksum-1", strings.NewReader(content), int64(len(content)))
		if err != nil {
			t.Fatalf("Put() error = %v", err)
		}

		var buf bytes.Buffer
		if err := store.Get(ctx, "checksum-1", &buf); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if buf.String() != content {
			t.Errorf("Get() = %q, want %q", buf.String(), content)
		}
	})

	t.Run("put is idempotent and keeps the first copy", func(t *testing.T) {
		store := newStore(t)

		err := store.Put(ctx, "checksum-1", strings.NewReader("original"), 8)
		if err != nil {
			t.Fatalf("first Put() error = %v", err)
		}

		// Same checksum again: the stored bytes must not change.
		err = store.Put(ctx, "checksum-1", strings.NewReader("replaced"), 8)
		if err != nil {
			t.Fatalf("second Put() error = %v", err)
		}

		var buf bytes.Buffer
		if err := store.Get(ctx, "checksum-1", &buf); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if buf.String() != "original" {
			t.Errorf("Get() = %q, want %q", buf.String(), "original")
		}
	})

	t.Run("put rejects a size mismatch", func(t *testing.T) {
		store := newStore(t)

		err := store.Put(ctx, "checksum-1", strings.NewReader("short"), 100)
		if err == nil {
			t.Error("Put() expected error for size mismatch, got nil")
		}

		// A failed write must not leave content behind.
		ok, err := store.Exists(ctx, "checksum-1")
		if err != nil {
			t.Fatalf("Exists() error = %v", err)
		}
		if ok {
			t.Error("Exists() = true after failed Put, want false")
		}
	})

	t.Run("get fails for unknown checksum", func(t *testing.T) {
		store := newStore(t)

		var buf bytes.Buffer
		if err := store.Get(ctx, "unknown", &buf); err == nil {
			t.Error("Get() expected error for unknown checksum, got nil")
		}
	})

	t.Run("validate setup fails for a missing root", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "store")
		store, err := NewFileSystemStore(root)
		if err != nil {
			t.Fatalf("NewFileSystemStore() error = %v", err)
		}

		if err := os.RemoveAll(root); err != nil {
			t.Fatalf("RemoveAll() error = %v", err)
		}

		if err := store.ValidateSetup(ctx); err == nil {
			t.Error("ValidateSetup() expected error for missing root, got nil")
		}
	})
}
