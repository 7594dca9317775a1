package encryption

import (
	"fmt"

	"dms-go/internal/config"
	"dms-go/internal/dms"
)

// NewEncryptorFromConfig creates an Encryptor based on the configuration type.
// Type "none" (and unset) disables at-rest encryption and returns nil.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (dms.Encryptor, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "age":
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
