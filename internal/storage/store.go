package storage

import (
	"context"
	"strconv"
	"strings"

	"github.com/yndnr/chatdesk/internal/core/domain"
)

// Logical credential keys. Every backend persists exactly these four.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyExpiresAt    = "expires_at"
	KeyRefreshCount = "refresh_count"
)

// CredentialKeys lists the logical keys in a stable order.
var CredentialKeys = []string{KeyAccessToken, KeyRefreshToken, KeyExpiresAt, KeyRefreshCount}

// CredentialStore is durable persistence of the session token tuple.
//
// The session manager is the only writer. Implementations must make
// BumpRefreshCount an atomic read-modify-write so the stored count is the
// single source of truth.
type CredentialStore interface {
	// Load returns the stored tuple. Absent keys yield empty strings and 0.
	Load(ctx context.Context) (domain.TokenState, error)

	// Save overwrites all four keys. RefreshCount is always written as 0.
	Save(ctx context.Context, state domain.TokenState) error

	// UpdateTokens overwrites the access token, refresh token and expiry,
	// leaving the refresh count untouched.
	UpdateTokens(ctx context.Context, state domain.TokenState) error

	// BumpRefreshCount increments the stored count and returns the new value.
	BumpRefreshCount(ctx context.Context) (int, error)

	// Clear removes all four keys. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}

// FormatInt encodes integer values the way every backend stores them.
func FormatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

// ParseInt decodes a stored integer. Missing or unparsable values are 0.
func ParseInt(s string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// StateFromValues assembles a TokenState from raw key values.
func StateFromValues(values map[string]string) domain.TokenState {
	return domain.TokenState{
		AccessToken:  values[KeyAccessToken],
		RefreshToken: values[KeyRefreshToken],
		ExpiresAt:    ParseInt(values[KeyExpiresAt]),
		RefreshCount: int(ParseInt(values[KeyRefreshCount])),
	}
}

// TokenValues returns the three token keys of state. Empty tokens and a
// zero expiry map to nil so backends delete the key instead of storing "".
func TokenValues(state domain.TokenState) map[string]*string {
	values := make(map[string]*string, 3)
	values[KeyAccessToken] = optional(state.AccessToken)
	values[KeyRefreshToken] = optional(state.RefreshToken)
	if state.ExpiresAt > 0 {
		s := FormatInt(state.ExpiresAt)
		values[KeyExpiresAt] = &s
	} else {
		values[KeyExpiresAt] = nil
	}
	return values
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StorageError lifts a backend failure into the domain taxonomy.
func StorageError(op string, err error) error {
	return domain.ErrStorage.WithDetails(op).WithCause(err)
}
