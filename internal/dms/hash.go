package dms

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// HashContent returns the SHA-256 digest of data as a lowercase hex string.
// Deterministic; the empty byte sequence is valid input and hashes to the
// digest of the empty string.
func HashContent(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashReader consumes r and returns the SHA-256 hex digest of its bytes
// along with the number of bytes read.
func HashReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, fmt.Errorf("hashing content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
