// Package domain defines the core domain models for chatdesk.
package domain

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session lifecycle constants.
const (
	// MaxRefreshes is the number of silent refresh exchanges permitted per login.
	MaxRefreshes = 3

	// RefreshLead is how long before expiry the refresh exchange is scheduled.
	RefreshLead = 60 * time.Second

	// DefaultExpiresIn is the access token lifetime assumed when the Auth API
	// omits expires_in or sends a non-positive value.
	DefaultExpiresIn = 1800 * time.Second

	// MaxExpiresIn caps a server-declared lifetime.
	MaxExpiresIn = 365 * 24 * time.Hour
)

// TokenState is the access/refresh token tuple held by the session manager
// and mirrored into the credential store.
//
// Zero values mean absent: an empty AccessToken is an unauthenticated
// session and ExpiresAt == 0 means no expiry is known.
type TokenState struct {
	AccessToken  string `json:"access_token,omitempty" yaml:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty" yaml:"refresh_token,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty" yaml:"expires_at,omitempty"` // ms since epoch
	RefreshCount int    `json:"refresh_count" yaml:"refresh_count"`
}

// Authenticated reports whether the tuple carries an access token.
func (s TokenState) Authenticated() bool {
	return s.AccessToken != ""
}

// HasExpiry reports whether an expiry timestamp is present.
func (s TokenState) HasExpiry() bool {
	return s.ExpiresAt > 0
}

// ExpiresAtTime returns ExpiresAt as a time.Time, or the zero time when absent.
func (s TokenState) ExpiresAtTime() time.Time {
	if !s.HasExpiry() {
		return time.Time{}
	}
	return time.UnixMilli(s.ExpiresAt)
}

// BudgetExhausted reports whether no further refresh exchange is allowed.
func (s TokenState) BudgetExhausted() bool {
	return s.RefreshCount >= MaxRefreshes
}

// Claims decodes the access token as a JWT without verifying its signature.
// The client never holds the signing key; the claims are informational
// (subject, issuer, server-side expiry) and are never trusted for
// authorization decisions. Returns nil when the token is not a JWT.
func (s TokenState) Claims() jwt.MapClaims {
	if s.AccessToken == "" {
		return nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.AccessToken, claims); err != nil {
		return nil
	}
	return claims
}

// Subject returns the "sub" claim of the access token, if any.
func (s TokenState) Subject() string {
	claims := s.Claims()
	if claims == nil {
		return ""
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}

// Grant is a decoded token response from the Auth API.
type Grant struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"` // seconds, 0 = omitted
}

// Lifetime returns the declared token lifetime, falling back to
// DefaultExpiresIn when the server omitted it.
func (g Grant) Lifetime() time.Duration {
	return LifetimeOf(g.ExpiresIn)
}

// LifetimeOf converts a server-declared expires_in value to a duration,
// applying DefaultExpiresIn for non-positive values and MaxExpiresIn as
// the upper bound.
func LifetimeOf(expiresIn int64) time.Duration {
	if expiresIn <= 0 {
		return DefaultExpiresIn
	}
	if expiresIn >= int64(MaxExpiresIn/time.Second) {
		return MaxExpiresIn
	}
	return time.Duration(expiresIn) * time.Second
}

// ExpiresAtFrom computes the absolute expiry in ms since epoch.
func ExpiresAtFrom(now time.Time, expiresIn int64) int64 {
	return now.Add(LifetimeOf(expiresIn)).UnixMilli()
}
