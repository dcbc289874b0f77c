// Package cryptoutil provides optional AEAD payload confidentiality for
// chunk bytes, adapted from the teacher's internal/crypto/aead.go onto
// golang.org/x/crypto's chacha20poly1305 construction. It is wired as an
// opt-in chunk transform (config.Options.EncryptionKey); dedup probes are
// always computed over plaintext, upstream of Seal.
package cryptoutil

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the required length of an EncryptionKey.
const KeySize = chacha20poly1305.KeySize

var ErrInvalidKeySize = fmt.Errorf("cryptoutil: key must be %d bytes", KeySize)

// Seal encrypts data for a given chunk index, binding the index as
// associated data so a sealed chunk can't be replayed into another slot.
func Seal(key []byte, index uint32, data []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("cryptoutil: nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, data, aad(index))
	return sealed, nil
}

// Open reverses Seal for the same chunk index.
func Open(key []byte, index uint32, sealed []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, errors.New("cryptoutil: sealed payload too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	return aead.Open(nil, nonce, ciphertext, aad(index))
}

func aad(index uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, index)
	return b
}
