package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"dms-go/internal/dms"
)

// EncryptedStore wraps a BlobStore with at-rest encryption. Puts encrypt
// with the public key and never need unlocking; Gets require a decryption
// context obtained from Encryptor.Unlock, and fail while the store is
// locked. Checksums always address the plaintext bytes; the wrapped store
// holds ciphertext under the plaintext's checksum.
type EncryptedStore struct {
	inner dms.BlobStore
	enc   dms.Encryptor
	dctx  dms.DecryptionContext
}

// NewEncryptedStore creates an EncryptedStore around inner. The store starts
// locked: reads fail until Unlock is called.
func NewEncryptedStore(inner dms.BlobStore, enc dms.Encryptor) *EncryptedStore {
	return &EncryptedStore{
		inner: inner,
		enc:   enc,
	}
}

// Unlock attaches an unlocked decryption context for the session.
func (e *EncryptedStore) Unlock(dctx dms.DecryptionContext) {
	e.dctx = dctx
}

// Put encrypts content from r and stores the ciphertext under checksum.
func (e *EncryptedStore) Put(ctx context.Context, checksum string, r io.Reader, size int64) error {
	var buf bytes.Buffer
	counted := &countingReader{r: r}
	if err := e.enc.Encrypt(counted, &buf); err != nil {
		return fmt.Errorf("encrypting content: %w", err)
	}
	if counted.n != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, counted.n)
	}

	return e.inner.Put(ctx, checksum, &buf, int64(buf.Len()))
}

// Get retrieves the ciphertext under checksum, decrypts it, and writes the
// plaintext to w. Fails if the store has not been unlocked.
func (e *EncryptedStore) Get(ctx context.Context, checksum string, w io.Writer) error {
	if e.dctx == nil {
		return fmt.Errorf("store is locked: unlock with the private key passphrase to read content")
	}

	var buf bytes.Buffer
	if err := e.inner.Get(ctx, checksum, &buf); err != nil {
		return err
	}

	if err := e.dctx.Decrypt(&buf, w); err != nil {
		return fmt.Errorf("decrypting content: %w", err)
	}
	return nil
}

// Exists reports whether content with the given checksum is stored.
func (e *EncryptedStore) Exists(ctx context.Context, checksum string) (bool, error) {
	return e.inner.Exists(ctx, checksum)
}

// ValidateSetup verifies the wrapped store and the key material.
func (e *EncryptedStore) ValidateSetup(ctx context.Context) error {
	if !e.enc.IsConfigured() {
		return fmt.Errorf("encryption keys not configured")
	}
	return e.inner.ValidateSetup(ctx)
}

// countingReader counts bytes read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Compile-time check that EncryptedStore implements dms.BlobStore
var _ dms.BlobStore = (*EncryptedStore)(nil)
