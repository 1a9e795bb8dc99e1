package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

var ErrCiphertextTooShort = errors.New("ciphertext too short")

// Encrypt seals plaintext with XChaCha20-Poly1305 under a key derived from
// passphrase. The nonce is prepended and the result base64 encoded.
// Empty input encrypts to the empty string.
func Encrypt(plaintext, passphrase string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	aead, err := newAEAD(passphrase)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func Decrypt(ciphertext, passphrase string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	aead, err := newAEAD(passphrase)
	if err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decoding ciphertext: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return "", ErrCiphertextTooShort
	}
	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decrypting secret: %w", err)
	}
	return string(plain), nil
}

func newAEAD(passphrase string) (cipher.AEAD, error) {
	if passphrase == "" {
		return nil, errors.New("encryption key is empty")
	}
	key := sha256.Sum256([]byte(passphrase))
	return chacha20poly1305.NewX(key[:])
}
