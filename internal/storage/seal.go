package storage

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/yndnr/chatdesk/pkg/crypto/adaptive"
)

// Metadata keys kept alongside sealed credentials.
const (
	metaSaltKey  = "chatdesk/meta/kdf-salt"
	metaCheckKey = "chatdesk/meta/key-check"

	sealSubkeyInfo = "chatdesk credential store v1"
	checkPlaintext = "chatdesk"
)

// Sealing errors.
var (
	ErrWrongKey      = errors.New("storage: wrong encryption key or passphrase")
	ErrEncryptedData = errors.New("storage: credential store is encrypted but no key is configured")
	ErrInvalidKey    = errors.New("storage: encryption key must be hex or base64")
)

// EncryptionConfig configures at-rest encryption of credential values.
// Either Passphrase or Key enables it; Passphrase wins when both are set.
type EncryptionConfig struct {
	// Passphrase is stretched with Argon2id using a salt kept in the store.
	Passphrase string

	// Key is a raw master key, hex or base64 encoded, at least 16 bytes.
	Key string

	// Algorithm is "aes-gcm", "chacha20-poly1305" or "auto".
	Algorithm string

	// KDF overrides the Argon2id cost. Zero value uses the defaults.
	KDF adaptive.KDFParams
}

// Enabled reports whether any key material is configured.
func (c EncryptionConfig) Enabled() bool {
	return c.Passphrase != "" || c.Key != ""
}

// Sealer encrypts credential values with the key name as associated data,
// so a sealed value cannot be replayed under a different key.
//
// A nil *Sealer is valid and passes values through unchanged.
type Sealer struct {
	cipher adaptive.Cipher
}

// NewSealer prepares a Sealer for engine. With no key material it returns
// (nil, nil) unless the engine already holds encrypted data, which is
// reported as ErrEncryptedData. The first sealed open writes a salt and a
// key-check record; later opens with different key material fail with
// ErrWrongKey.
func NewSealer(ctx context.Context, engine KVEngine, cfg EncryptionConfig) (*Sealer, error) {
	if !cfg.Enabled() {
		if _, err := engine.Get(ctx, []byte(metaCheckKey)); err == nil {
			return nil, ErrEncryptedData
		} else if !errors.Is(err, ErrKeyNotFound) {
			return nil, err
		}
		return nil, nil
	}

	algo, err := adaptive.ParseCipherType(cfg.Algorithm)
	if err != nil {
		return nil, err
	}

	master, err := masterKey(ctx, engine, cfg)
	if err != nil {
		return nil, err
	}
	defer adaptive.ZeroKey(master)

	subkey, err := adaptive.DeriveSubkey(master, sealSubkeyInfo, adaptive.KeyLength)
	if err != nil {
		return nil, err
	}
	defer adaptive.ZeroKey(subkey)

	c, err := adaptive.NewWithType(subkey, algo)
	if err != nil {
		return nil, err
	}
	s := &Sealer{cipher: c}

	err = engine.Update(ctx, func(txn KVTxn) error {
		sealed, err := txn.Get([]byte(metaCheckKey))
		if errors.Is(err, ErrKeyNotFound) {
			check, err := s.Seal(metaCheckKey, []byte(checkPlaintext))
			if err != nil {
				return err
			}
			return txn.Set([]byte(metaCheckKey), check)
		}
		if err != nil {
			return err
		}
		if plain, err := s.Open(metaCheckKey, sealed); err != nil || string(plain) != checkPlaintext {
			return ErrWrongKey
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Algorithm returns the cipher in use, or "" for a pass-through Sealer.
func (s *Sealer) Algorithm() adaptive.CipherType {
	if s == nil {
		return ""
	}
	return s.cipher.Type()
}

// Seal encrypts value bound to name.
func (s *Sealer) Seal(name string, value []byte) ([]byte, error) {
	if s == nil {
		return value, nil
	}
	return s.cipher.Encrypt(value, []byte(name))
}

// Open decrypts a value produced by Seal for the same name.
func (s *Sealer) Open(name string, sealed []byte) ([]byte, error) {
	if s == nil {
		return sealed, nil
	}
	plain, err := s.cipher.Decrypt(sealed, []byte(name))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, ErrWrongKey)
	}
	return plain, nil
}

func masterKey(ctx context.Context, engine KVEngine, cfg EncryptionConfig) ([]byte, error) {
	if cfg.Passphrase == "" {
		return decodeKey(cfg.Key)
	}

	var salt []byte
	err := engine.Update(ctx, func(txn KVTxn) error {
		existing, err := txn.Get([]byte(metaSaltKey))
		if err == nil {
			salt = existing
			return nil
		}
		if !errors.Is(err, ErrKeyNotFound) {
			return err
		}
		if salt, err = adaptive.NewSalt(); err != nil {
			return err
		}
		return txn.Set([]byte(metaSaltKey), salt)
	})
	if err != nil {
		return nil, fmt.Errorf("load kdf salt: %w", err)
	}

	params := cfg.KDF
	if params == (adaptive.KDFParams{}) {
		params = adaptive.DefaultKDFParams()
	}
	return adaptive.DeriveKey([]byte(cfg.Passphrase), salt, params)
}

func decodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	key, err := hex.DecodeString(s)
	if err != nil {
		key, err = base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, ErrInvalidKey
		}
	}
	if len(key) < adaptive.MinKeyLength {
		return nil, adaptive.ErrKeyTooShort
	}
	return key, nil
}
