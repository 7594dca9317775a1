package testutil

import (
	"dms-go/internal/dms"
	"dms-go/internal/encryption"
)

// NewTestEncryptor creates a new test encryptor for testing.
func NewTestEncryptor() dms.Encryptor {
	return encryption.NewTestEncryptor()
}
