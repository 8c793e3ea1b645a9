package logger

import (
	"log/slog"
	"strings"

	"github.com/yndnr/chatdesk/pkg/token"
)

// Key patterns whose values are always redacted.
var sensitiveKeyPatterns = []string{
	"password",
	"passphrase",
	"secret",
	"token",
	"authorization",
	"bearer",
	"cookie",
	"key",
}

// fingerprintPrefix marks values produced by token.Fingerprint, which
// are safe to log under any key.
const fingerprintPrefix = "sha256:"

// redactedValue is the placeholder for redacted sensitive data.
const redactedValue = "***REDACTED***"

// redactSensitive masks credentials in a single attribute.
func redactSensitive(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		v := a.Value.String()
		if v == "" || strings.HasPrefix(v, fingerprintPrefix) {
			return a
		}
		if masked, ok := maskCredential(v); ok {
			return slog.String(a.Key, masked)
		}
		if IsSensitiveKey(a.Key) {
			return slog.String(a.Key, redactedValue)
		}
	case slog.KindGroup:
		attrs := a.Value.Group()
		out := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			out[i] = redactSensitive(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	}
	return a
}

// maskCredential replaces JWT-shaped and "Bearer ..." values with a
// fingerprint so two log lines can still be correlated.
func maskCredential(v string) (string, bool) {
	if rest, ok := cutBearer(v); ok {
		return "Bearer [" + token.Fingerprint(rest) + "]", true
	}
	if looksLikeJWT(v) {
		return "[jwt " + token.Fingerprint(v) + "]", true
	}
	return "", false
}

func cutBearer(v string) (string, bool) {
	const prefix = "bearer "
	if len(v) > len(prefix) && strings.EqualFold(v[:len(prefix)], prefix) {
		return strings.TrimSpace(v[len(prefix):]), true
	}
	return "", false
}

// looksLikeJWT matches compact JWS: base64url header starting with "eyJ"
// followed by exactly two more dot-separated segments.
func looksLikeJWT(v string) bool {
	return strings.HasPrefix(v, "eyJ") && strings.Count(v, ".") == 2 && !strings.ContainsAny(v, " \t\n")
}

// RedactString masks a credential-looking string before it is embedded in
// a message or an error. Other strings are returned unchanged.
func RedactString(v string) string {
	if masked, ok := maskCredential(v); ok {
		return masked
	}
	return v
}

// IsSensitiveKey checks if a key name suggests sensitive content.
func IsSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(keyLower, pattern) {
			return true
		}
	}
	return false
}
