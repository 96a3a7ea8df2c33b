package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

const (
	nonceSize = 12
	keySize   = 32
)

var (
	errInvalidKeySize     = fmt.Errorf("encryption key must be exactly %d bytes", keySize)
	errCiphertextTooShort = errors.New("ciphertext too short")
)

// seal encrypts plaintext with AES-256-GCM, nonce prepended. Without a key
// the plaintext is returned unchanged.
func (s *Store) seal(plaintext string) ([]byte, error) {
	if s.key == nil {
		return []byte(plaintext), nil
	}

	gcm, err := newGCM(s.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

func (s *Store) open(ciphertext []byte) (string, error) {
	if s.key == nil {
		return string(ciphertext), nil
	}
	if len(ciphertext) < nonceSize {
		return "", errCiphertextTooShort
	}

	gcm, err := newGCM(s.key)
	if err != nil {
		return "", err
	}
	nonce, data := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, data, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return gcm, nil
}
