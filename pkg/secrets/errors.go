package secrets

import "errors"

var (
	ErrSecretTooShort     = errors.New("secret is too short")
	ErrEmptyPurpose       = errors.New("key purpose is required")
	ErrCiphertextTooShort = errors.New("ciphertext too short")
	ErrDecryptionFailed   = errors.New("failed to decrypt data")
	ErrEncryptionFailed   = errors.New("failed to encrypt data")
)
