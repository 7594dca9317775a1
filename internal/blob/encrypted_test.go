package blob_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"dms-go/internal/blob"
	"dms-go/internal/testutil"
)

func TestEncryptedStore(t *testing.T) {
	ctx := context.Background()

	newStore := func(t *testing.T) (*blob.EncryptedStore, *blob.MemoryStore) {
		t.Helper()
		inner := blob.NewMemoryStore()
		return blob.NewEncryptedStore(inner, testutil.NewTestEncryptor()), inner
	}

	unlock := func(t *testing.T, store *blob.EncryptedStore) {
		t.Helper()
		dctx, err := testutil.NewTestEncryptor().Unlock("passphrase")
		if err != nil {
			t.Fatalf("Unlock() error = %v", err)
		}
		store.Unlock(dctx)
	}

	t.Run("put stores ciphertext, get returns plaintext", func(t *testing.T) {
		store, inner := newStore(t)
		content := "secret document"

		err := store.Put(ctx, "checksum-1", strings.NewReader(content), int64(len(content)))
		if err != nil {
			t.Fatalf("Put() error = %v", err)
		}

		// The wrapped store must not hold the plaintext.
		var raw bytes.Buffer
		if err := inner.Get(ctx, "checksum-1", &raw); err != nil {
			t.Fatalf("inner Get() error = %v", err)
		}
		if raw.String() == content {
			t.Error("wrapped store holds plaintext, want ciphertext")
		}

		unlock(t, store)

		var buf bytes.Buffer
		if err := store.Get(ctx, "checksum-1", &buf); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if buf.String() != content {
			t.Errorf("Get() = %q, want %q", buf.String(), content)
		}
	})

	t.Run("get fails while locked", func(t *testing.T) {
		store, _ := newStore(t)
		content := "secret"

		err := store.Put(ctx, "checksum-1", strings.NewReader(content), int64(len(content)))
		if err != nil {
			t.Fatalf("Put() error = %v", err)
		}

		var buf bytes.Buffer
		if err := store.Get(ctx, "checksum-1", &buf); err == nil {
			t.Error("Get() expected error while locked, got nil")
		}
	})

	t.Run("put does not require unlocking", func(t *testing.T) {
		store, _ := newStore(t)

		err := store.Put(ctx, "checksum-1", strings.NewReader("data"), 4)
		if err != nil {
			t.Errorf("Put() error = %v, want nil without unlock", err)
		}
	})

	t.Run("size refers to the plaintext", func(t *testing.T) {
		store, _ := newStore(t)

		// The ciphertext is longer than the plaintext; Put must validate
		// against the plaintext size.
		err := store.Put(ctx, "checksum-1", strings.NewReader("data"), 4)
		if err != nil {
			t.Fatalf("Put() error = %v", err)
		}

		err = store.Put(ctx, "checksum-2", strings.NewReader("data"), 99)
		if err == nil {
			t.Error("Put() expected error for plaintext size mismatch, got nil")
		}
	})

	t.Run("exists consults the wrapped store", func(t *testing.T) {
		store, _ := newStore(t)

		if err := store.Put(ctx, "checksum-1", strings.NewReader("x"), 1); err != nil {
			t.Fatalf("Put() error = %v", err)
		}

		ok, err := store.Exists(ctx, "checksum-1")
		if err != nil {
			t.Fatalf("Exists() error = %v", err)
		}
		if !ok {
			t.Error("Exists() = false, want true")
		}
	})
}
