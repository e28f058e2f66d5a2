package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// ErrMalformedCiphertext is returned for input that is not nonce||sealed data.
var ErrMalformedCiphertext = errors.New("malformed ciphertext")

// TokenEncryptor seals OAuth tokens of linked identities with AES-256-GCM.
// Output format: base64(nonce || ciphertext).
type TokenEncryptor struct {
	aead cipher.AEAD
}

// NewTokenEncryptor builds an encryptor from a base64 key of exactly 32 bytes.
func NewTokenEncryptor(base64Key string) (*TokenEncryptor, error) {
	key, err := decodeKey(base64Key)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher block: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM mode: %w", err)
	}
	return &TokenEncryptor{aead: aead}, nil
}

func decodeKey(base64Key string) ([]byte, error) {
	if base64Key == "" {
		return nil, fmt.Errorf("encryption key is required")
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes for AES-256, got %d bytes", len(key))
	}
	return key, nil
}

// Encrypt seals plaintext. Empty input stays empty so optional tokens round-trip.
func (e *TokenEncryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func (e *TokenEncryptor) Decrypt(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	n := e.aead.NonceSize()
	if len(raw) < n+e.aead.Overhead() {
		return "", ErrMalformedCiphertext
	}

	plaintext, err := e.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}
