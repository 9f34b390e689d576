// Package secrets encrypts the handful of credentials VulnDash persists
// at rest: LLM provider API keys and the SMTP relay password. The master
// key comes either directly from config or from Vault's KV engine, never
// hard-coded, resolved through a single config-driven source at startup.
package secrets

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/vulndash/vulndash/internal/config"
)

// Box seals and opens secrets with a single symmetric key, resolved once
// at startup and held for the process lifetime.
type Box struct {
	aead cipher.AEAD
}

// New resolves the master key per cfg (Vault first if enabled, else the
// configured key material directly) and builds the AEAD cipher.
func New(cfg config.SecretsConfig) (*Box, error) {
	key, err := resolveKey(cfg)
	if err != nil {
		return nil, fmt.Errorf("secrets: resolve key: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("secrets: build cipher: %w", err)
	}
	return &Box{aead: aead}, nil
}

// Seal encrypts plaintext, returning nonce||ciphertext suitable for the
// *_enc columns in internal/models (SMTPConfigRecord.PasswordEnc,
// LLMProviderRecord.APIKeyEnc).
func (b *Box) Seal(plaintext string) ([]byte, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("secrets: generate nonce: %w", err)
	}
	return b.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Open decrypts data previously produced by Seal. Empty input decrypts to
// an empty string rather than erroring, so an unset SMTP password or LLM
// key round-trips cleanly.
func (b *Box) Open(data []byte) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	ns := b.aead.NonceSize()
	if len(data) < ns {
		return "", fmt.Errorf("secrets: ciphertext shorter than nonce")
	}
	nonce, ciphertext := data[:ns], data[ns:]
	plaintext, err := b.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("secrets: open ciphertext: %w", err)
	}
	return string(plaintext), nil
}

func resolveKey(cfg config.SecretsConfig) ([]byte, error) {
	if cfg.VaultEnabled {
		return fetchVaultKey(cfg)
	}
	return decodeKey(cfg.EncryptionKey)
}

// decodeKey accepts either a base64-encoded 32-byte key (preferred) or a
// raw string that is padded/truncated to 32 bytes, so a quick local
// VULNDASH_SECRETS_ENCRYPTION_KEY=devkey still boots in development.
func decodeKey(raw string) ([]byte, error) {
	if raw == "" {
		return nil, fmt.Errorf("no encryption key configured")
	}
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil && len(decoded) == chacha20poly1305.KeySize {
		return decoded, nil
	}
	key := make([]byte, chacha20poly1305.KeySize)
	copy(key, raw)
	return key, nil
}
