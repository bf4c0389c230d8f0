package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const gcmNonceSize = 12

// DeriveKey expands secret into a purpose-bound key with HKDF-SHA256.
func DeriveKey(secret []byte, info string, size int) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("key derivation secret is empty")
	}
	key := make([]byte, size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// DocumentCipher encrypts stored artifacts with AES-256-GCM.
// Format: Nonce (12 bytes) || Ciphertext (including tag)
type DocumentCipher struct {
	aead cipher.AEAD
}

// NewDocumentCipher derives the AES key from secret.
func NewDocumentCipher(secret string) (*DocumentCipher, error) {
	key, err := DeriveKey([]byte(secret), "signdesk/document-encryption/v1", 32)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return &DocumentCipher{aead: aead}, nil
}

// Encrypt seals plaintext. aad binds the ciphertext to its storage path.
func (c *DocumentCipher) Encrypt(plaintext, aad []byte) ([]byte, error) {
	nonce := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, aad), nil
}

// Decrypt opens a blob produced by Encrypt.
func (c *DocumentCipher) Decrypt(blob, aad []byte) ([]byte, error) {
	if len(blob) < gcmNonceSize+c.aead.Overhead() {
		return nil, errors.New("ciphertext too short")
	}
	plaintext, err := c.aead.Open(nil, blob[:gcmNonceSize], blob[gcmNonceSize:], aad)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt document: %w", err)
	}
	return plaintext, nil
}
