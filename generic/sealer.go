package generic

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// =============================================================================
// SEALER - Encryption at rest for free-text case notes
// =============================================================================

// Sealer encrypts values before they reach the database and decrypts them on
// the way back. Stores apply it to case notes.
type Sealer interface {
	Seal(plain string) (string, error)
	Open(sealed string) (string, error)
}

// PlainSealer stores values as-is. Used when no key is configured.
type PlainSealer struct{}

func (PlainSealer) Seal(plain string) (string, error)  { return plain, nil }
func (PlainSealer) Open(sealed string) (string, error) { return sealed, nil }

const sealedPrefix = "v1:"

// AESSealer seals with AES-256-GCM. Sealed values are "v1:" followed by
// base64(nonce || ciphertext).
type AESSealer struct {
	aead cipher.AEAD
}

// NewAESSealer builds a sealer from a 32-byte key.
func NewAESSealer(key []byte) (*AESSealer, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("notes key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &AESSealer{aead: aead}, nil
}

// NewAESSealerFromBase64 decodes a base64 key and builds a sealer.
func NewAESSealerFromBase64(key string) (*AESSealer, error) {
	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("notes key is not valid base64: %w", err)
	}
	return NewAESSealer(raw)
}

func (s *AESSealer) Seal(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to read nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, []byte(plain), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(out), nil
}

func (s *AESSealer) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	if !strings.HasPrefix(sealed, sealedPrefix) {
		return "", errors.New("value is not sealed")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("failed to decode sealed value: %w", err)
	}
	n := s.aead.NonceSize()
	if len(raw) < n {
		return "", errors.New("sealed value too short")
	}
	plain, err := s.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to open sealed value: %w", err)
	}
	return string(plain), nil
}
