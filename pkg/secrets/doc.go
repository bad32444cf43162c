// Package secrets derives purpose-bound keys from application secrets and provides
// AES-256-GCM authenticated encryption.
//
// A single configured secret (for example APP_SECRET or APP_ENCRYPTION_KEY) is never
// used directly. Each consumer derives its own 32-byte key with HKDF-SHA256 and a
// purpose label, so the CSRF HMAC key and the session-store encryption key are
// independent even when they come from the same master secret:
//
//	hmacKey, err := secrets.DeriveKey([]byte(cfg.AppSecret), "csrf-token-hmac")
//	if err != nil {
//		return err
//	}
//
//	c, err := secrets.NewCipher([]byte(cfg.EncryptionKey), "session-store")
//	if err != nil {
//		return err
//	}
//	sealed, err := c.Seal(payload)
//	plain, err := c.Open(sealed)
//
// Ciphertext format is [nonce][ciphertext+tag]. EncryptString and DecryptString wrap
// the same format in standard base64 for text storage.
//
// Master secrets must be at least MinSecretLength bytes; shorter input returns
// ErrSecretTooShort. Tampered or truncated ciphertext returns ErrDecryptionFailed.
package secrets
