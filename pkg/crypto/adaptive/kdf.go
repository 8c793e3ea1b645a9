package adaptive

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeyLength is the length of derived keys (AES-256 / ChaCha20).
	KeyLength = 32

	// SaltLength is the salt length used for passphrase derivation.
	SaltLength = 16

	// MinPassphraseLength is the shortest accepted passphrase.
	MinPassphraseLength = 8

	// MinKeyLength is the shortest accepted raw master key.
	MinKeyLength = 16
)

// Errors returned by key derivation.
var (
	ErrPassphraseTooWeak = errors.New("adaptive: passphrase too short (minimum 8 characters)")
	ErrKeyTooShort       = errors.New("adaptive: key too short (minimum 16 bytes)")
	ErrInvalidSalt       = errors.New("adaptive: invalid salt length")
)

// KDFParams are the Argon2id cost parameters.
type KDFParams struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

// DefaultKDFParams returns the interactive-login Argon2id parameters.
func DefaultKDFParams() KDFParams {
	return KDFParams{Time: 3, Memory: 64 * 1024, Threads: 4}
}

// NewSalt returns a fresh random salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("adaptive: generate salt: %w", err)
	}
	return salt, nil
}

// DeriveKey derives a KeyLength-byte key from a passphrase with Argon2id.
// The same passphrase and salt always yield the same key.
func DeriveKey(passphrase, salt []byte, params KDFParams) ([]byte, error) {
	if len(passphrase) < MinPassphraseLength {
		return nil, ErrPassphraseTooWeak
	}
	if len(salt) != SaltLength {
		return nil, ErrInvalidSalt
	}
	return argon2.IDKey(passphrase, salt, params.Time, params.Memory, params.Threads, KeyLength), nil
}

// DeriveSubkey narrows a master key to one purpose with HKDF-SHA256.
func DeriveSubkey(masterKey []byte, info string, length int) ([]byte, error) {
	if len(masterKey) < MinKeyLength {
		return nil, ErrKeyTooShort
	}

	reader := hkdf.New(sha256.New, masterKey, nil, []byte(info))
	key := make([]byte, length)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("adaptive: derive subkey: %w", err)
	}
	return key, nil
}

// ZeroKey overwrites key material in memory.
func ZeroKey(key []byte) {
	for i := range key {
		key[i] = 0
	}
}
