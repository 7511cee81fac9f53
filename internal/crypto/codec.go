// Package crypto implements the field-level encryption-at-rest codec applied
// at the patient store boundary. Selected record fields are encrypted when
// written and decrypted when read; the rest of the application only ever sees
// plaintext values.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

var (
	ErrInvalidKey        = errors.New("field key must be 32 bytes of hex")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
)

// FieldCodec encrypts and decrypts individual string fields using AES-256-GCM.
// Ciphertexts are self-contained (nonce || sealed) and base64-encoded so they
// can be stored in plain TEXT columns.
type FieldCodec struct {
	aead cipher.AEAD
}

// NewFieldCodec builds a codec from a hex-encoded 32-byte key.
func NewFieldCodec(hexKey string) (*FieldCodec, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil || len(key) != 32 {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}

	return &FieldCodec{aead: aead}, nil
}

// EncryptString seals a plaintext field value. Each call uses a fresh random
// nonce, so encrypting the same value twice yields different ciphertexts.
func (c *FieldCodec) EncryptString(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString opens a ciphertext produced by EncryptString. Tampered or
// truncated values fail with ErrInvalidCiphertext.
func (c *FieldCodec) DecryptString(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	if len(raw) < c.aead.NonceSize() {
		return "", ErrInvalidCiphertext
	}

	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	return string(plaintext), nil
}
