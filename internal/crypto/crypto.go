// Package crypto seals short strings with AES-256-GCM and derives keyed
// blind indexes (HMAC-SHA256) for equality lookups on sealed data.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

const KeySize = 32

var (
	ErrKeySize    = errors.New("crypto: key must be 32 bytes")
	ErrCiphertext = errors.New("crypto: malformed ciphertext")
)

type Sealer struct {
	aead     cipher.AEAD
	indexKey []byte
}

// NewSealer takes the AES-256 key and a separate HMAC key for blind indexes.
func NewSealer(sealKey, indexKey []byte) (*Sealer, error) {
	if len(sealKey) != KeySize || len(indexKey) != KeySize {
		return nil, ErrKeySize
	}
	block, err := aes.NewCipher(sealKey)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead, indexKey: append([]byte(nil), indexKey...)}, nil
}

// Seal returns base64(nonce || ciphertext). Empty input stays empty.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrCiphertext
	}
	n := s.aead.NonceSize()
	if len(data) < n {
		return "", ErrCiphertext
	}
	plain, err := s.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", fmt.Errorf("crypto: open: %w", err)
	}
	return string(plain), nil
}

// BlindIndex is deterministic for a given key, so equal inputs can be matched
// without storing them.
func (s *Sealer) BlindIndex(plaintext string) string {
	if plaintext == "" {
		return ""
	}
	h := hmac.New(sha256.New, s.indexKey)
	h.Write([]byte(plaintext))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
