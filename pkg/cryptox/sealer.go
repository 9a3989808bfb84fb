package cryptox

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// Sealer provides authenticated encryption for small secrets (tokens) before
// they touch persistent storage. The key lives only in process memory: it is
// generated fresh at construction and never written anywhere, so sealed
// values from a previous run are unreadable and simply treated as absent by
// callers.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer creates a Sealer with a random 256-bit key.
func NewSealer() (*Sealer, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate sealer key: %w", err)
	}
	return NewSealerWithKey(key)
}

// NewSealerWithKey creates a Sealer from an explicit 32-byte key. Intended
// for tests that need deterministic key material across Sealer instances.
func NewSealerWithKey(key []byte) (*Sealer, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts and authenticates plaintext.
// The output is base64(nonce || ciphertext || tag), safe to place in any
// string-valued store. A random nonce per call means sealing the same value
// twice yields different ciphertexts.
func (s *Sealer) Seal(plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Seal appends ciphertext and auth tag to the nonce.
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal. It fails on malformed encoding,
// truncated data, a wrong key, or any tampering with the ciphertext.
func (s *Sealer) Open(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("invalid sealed encoding: %w", err)
	}

	nonceSize := s.aead.NonceSize()
	if len(sealed) < nonceSize {
		return "", fmt.Errorf("sealed value too short")
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}

	return string(plaintext), nil
}
