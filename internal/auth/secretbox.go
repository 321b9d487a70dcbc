package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	secretBoxVersion = "v1:"
	secretBoxInfo    = "devinsight provider credential encryption"
)

// ErrDecrypt is returned for ciphertexts that cannot be opened.
var ErrDecrypt = errors.New("cannot decrypt secret")

// SecretBox encrypts provider API keys at rest with AES-256-GCM.
// The AES key is derived from the configured key material with HKDF-SHA256.
type SecretBox struct {
	aead cipher.AEAD
}

// NewSecretBox derives the AES key from keyMaterial.
func NewSecretBox(keyMaterial string) (*SecretBox, error) {
	if keyMaterial == "" {
		return nil, errors.New("encryption key is empty")
	}

	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(keyMaterial), nil, []byte(secretBoxInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &SecretBox{aead: aead}, nil
}

// Encrypt seals plaintext as "v1:" + base64(nonce || ciphertext).
func (b *SecretBox) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return secretBoxVersion + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func (b *SecretBox) Decrypt(encoded string) (string, error) {
	payload, ok := strings.CutPrefix(encoded, secretBoxVersion)
	if !ok {
		return "", ErrDecrypt
	}
	raw, err := base64.RawStdEncoding.DecodeString(payload)
	if err != nil {
		return "", ErrDecrypt
	}
	ns := b.aead.NonceSize()
	if len(raw) < ns+b.aead.Overhead() {
		return "", ErrDecrypt
	}
	plain, err := b.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}
