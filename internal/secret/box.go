package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// ErrMalformed is returned when a sealed value cannot be opened
var ErrMalformed = errors.New("malformed sealed value")

// Box seals platform tokens at rest with AES-GCM
type Box struct {
	aead cipher.AEAD
}

// NewBox derives a 256-bit key from passphrase
func NewBox(passphrase string) (*Box, error) {
	if passphrase == "" {
		return nil, errors.New("secret key is empty")
	}
	key := sha256.Sum256([]byte(passphrase))

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating gcm: %w", err)
	}
	return &Box{aead: aead}, nil
}

// Seal encrypts plaintext and returns nonce||ciphertext as base64.
// The empty string seals to the empty string.
func (b *Box) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("reading nonce: %w", err)
	}

	sealed := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal
func (b *Box) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrMalformed
	}
	n := b.aead.NonceSize()
	if len(data) < n {
		return "", ErrMalformed
	}

	plaintext, err := b.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", ErrMalformed
	}
	return string(plaintext), nil
}

// Plain stores tokens unchanged. Used when no secret key is configured.
type Plain struct{}

// Seal returns plaintext as-is
func (Plain) Seal(plaintext string) (string, error) { return plaintext, nil }

// Open returns sealed as-is
func (Plain) Open(sealed string) (string, error) { return sealed, nil }
