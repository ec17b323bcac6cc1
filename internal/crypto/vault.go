// Package crypto provides the envelope encryption used for every credential
// secret stored at rest. Secrets are sealed with AES-256-GCM under a single
// process-wide key and stored as base64url(nonce || ciphertext || tag).
// Decryption fails closed: anything that does not authenticate is rejected
// with ErrDecryptionFailed.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// MinIterations is the lower bound for PBKDF2 key derivation.
const MinIterations = 100000

var (
	// ErrKeyLengthInvalid is returned when a key is not exactly 32 bytes.
	ErrKeyLengthInvalid = errors.New("crypto: key must be exactly 32 bytes for AES-256")
	// ErrDecryptionFailed is returned whenever an opaque value cannot be turned
	// back into the exact plaintext that produced it.
	ErrDecryptionFailed = errors.New("crypto: decryption failed")
	// ErrCiphertextCorrupted is returned when the opaque value is not valid
	// base64url or is too short to hold a nonce and tag. It wraps ErrDecryptionFailed.
	ErrCiphertextCorrupted = fmt.Errorf("%w: ciphertext is corrupted or truncated", ErrDecryptionFailed)
	// ErrSaltTooShort is returned when a PBKDF2 salt is fewer than 16 bytes.
	ErrSaltTooShort = errors.New("crypto: salt must be at least 16 bytes")
)

// Vault seals and opens credential secrets. A Vault is immutable after
// construction and safe for concurrent use.
type Vault struct {
	aead cipher.AEAD
}

// NewVault creates a vault from a 32-byte key. The key is copied.
func NewVault(key []byte) (*Vault, error) {
	if len(key) != KeySize {
		return nil, ErrKeyLengthInvalid
	}
	keyCopy := make([]byte, KeySize)
	copy(keyCopy, key)

	block, err := aes.NewCipher(keyCopy)
	if err != nil {
		return nil, fmt.Errorf("crypto: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: create gcm: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// DeriveVault creates a vault whose key is derived from a passphrase with PBKDF2-SHA256.
func DeriveVault(passphrase string, salt []byte, iterations int) (*Vault, error) {
	if len(salt) < 16 {
		return nil, ErrSaltTooShort
	}
	if iterations < MinIterations {
		iterations = MinIterations
	}
	return NewVault(pbkdf2.Key([]byte(passphrase), salt, iterations, KeySize, sha256.New))
}

// Encrypt seals plaintext under a fresh random nonce. Two calls with the same
// plaintext never produce the same output.
func (v *Vault) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: read nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func (v *Vault) Decrypt(opaque string) ([]byte, error) {
	raw, err := base64.URLEncoding.DecodeString(opaque)
	if err != nil {
		return nil, ErrCiphertextCorrupted
	}
	nonceLen := v.aead.NonceSize()
	if len(raw) < nonceLen+v.aead.Overhead() {
		return nil, ErrCiphertextCorrupted
	}
	plaintext, err := v.aead.Open(nil, raw[:nonceLen], raw[nonceLen:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

// ParseKey decodes an ENCRYPTION_KEY value. Standard base64, base64url and hex
// encodings of exactly 32 bytes are accepted.
func ParseKey(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	decoders := []func(string) ([]byte, error){
		base64.StdEncoding.DecodeString,
		base64.URLEncoding.DecodeString,
		base64.RawStdEncoding.DecodeString,
		base64.RawURLEncoding.DecodeString,
		hex.DecodeString,
	}
	for _, decode := range decoders {
		if key, err := decode(encoded); err == nil && len(key) == KeySize {
			return key, nil
		}
	}
	return nil, ErrKeyLengthInvalid
}

// GenerateKey creates a cryptographically secure random 32-byte key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// GenerateSalt creates a cryptographically secure random salt of at least 16 bytes.
func GenerateSalt(length int) ([]byte, error) {
	if length < 16 {
		length = 16
	}
	salt := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	return salt, nil
}
