// Package adaptive provides authenticated encryption with hardware-aware
// algorithm selection and passphrase key derivation.
//
// Supported algorithms:
//
//   - AES-256-GCM: preferred when the CPU has AES instructions
//   - ChaCha20-Poly1305: fallback elsewhere
//
// Ciphertexts are self-contained: the random nonce is prepended to the
// sealed output, so callers only store one byte slice per value.
//
// Keys are either supplied raw or derived from a passphrase with Argon2id
// (DeriveKey) and narrowed per purpose with HKDF (DeriveSubkey).
//
// Usage:
//
//	c, err := adaptive.New(key)
//	sealed, err := c.Encrypt(plaintext, aad)
//	plaintext, err := c.Decrypt(sealed, aad)
package adaptive
