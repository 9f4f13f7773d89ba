// Package seal encrypts message bodies at the persistence boundary with
// ChaCha20-Poly1305. The key is injected once at startup; nothing here
// reads process state.
package seal

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	KeySize   = chacha20poly1305.KeySize
	NonceSize = chacha20poly1305.NonceSize
)

var (
	ErrKeySize = fmt.Errorf("seal: key must be %d bytes", KeySize)
	// ErrDecrypt is returned for a wrong key, wrong nonce or tampered ciphertext.
	ErrDecrypt = errors.New("seal: message authentication failed")
)

type Cipher struct {
	aead cipher.AEAD
}

func New(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce and returns both.
func (c *Cipher) Encrypt(plaintext []byte) (ciphertext, nonce []byte, err error) {
	nonce = make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("seal: nonce: %w", err)
	}
	return c.aead.Seal(nil, nonce, plaintext, nil), nonce, nil
}

func (c *Cipher) Decrypt(ciphertext, nonce []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, ErrDecrypt
	}
	pt, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return pt, nil
}

func (c *Cipher) EncryptString(s string) (ciphertext, nonce []byte, err error) {
	return c.Encrypt([]byte(s))
}

func (c *Cipher) DecryptString(ciphertext, nonce []byte) (string, error) {
	pt, err := c.Decrypt(ciphertext, nonce)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}
