package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// DefaultLength is the default random token length in bytes.
const DefaultLength = 32

// fingerprintLen is the number of hex characters kept from the digest.
const fingerprintLen = 12

// Fingerprint returns a short SHA-256 based identifier for token, safe to
// log. Two log lines carrying the same fingerprint refer to the same
// credential. Empty input yields "".
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}
	h := sha256.Sum256([]byte(token))
	return "sha256:" + hex.EncodeToString(h[:])[:fingerprintLen]
}

// Mask returns token with everything but the last four characters
// replaced, for human display. Short tokens are fully masked.
func Mask(token string) string {
	const keep = 4
	if token == "" {
		return ""
	}
	if len(token) <= keep*2 {
		return strings.Repeat("*", len(token))
	}
	return strings.Repeat("*", 8) + token[len(token)-keep:]
}

// Generate returns a random Base64 RawURL token of DefaultLength bytes.
func Generate() (string, error) {
	return GenerateWithLength(DefaultLength)
}

// GenerateWithLength returns a random Base64 RawURL token of length bytes.
func GenerateWithLength(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Equal compares two tokens in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
