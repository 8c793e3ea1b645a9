package connection

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/yndnr/chatdesk/internal/core/domain"
	"github.com/yndnr/chatdesk/internal/core/service"
)

// Auth API paths.
const (
	PathToken   = "/api/v1/Auth/token"
	PathRefresh = "/api/v1/Auth/refresh"
)

// AuthClient performs the login and refresh exchanges.
type AuthClient struct {
	http *HTTPClient
}

var _ service.AuthEndpoint = (*AuthClient)(nil)

// NewAuthClient creates a client for the Auth API at baseURL.
func NewAuthClient(baseURL string, opts ...ClientOption) *AuthClient {
	return &AuthClient{http: NewHTTPClient("auth", baseURL, opts...)}
}

// Token exchanges a username and password for a token pair. A 400 or 401
// answer is domain.ErrInvalidCredentials carrying the server's detail.
func (c *AuthClient) Token(ctx context.Context, username, password string) (domain.Grant, error) {
	resp, err := c.http.PostForm(ctx, PathToken, url.Values{
		"username": {username},
		"password": {password},
	})
	if err != nil {
		return domain.Grant{}, exchangeError(ctx, err)
	}
	return decodeGrant(resp, true)
}

// Refresh exchanges a refresh token for a new access token. The response
// may omit refresh_token and expires_in.
func (c *AuthClient) Refresh(ctx context.Context, refreshToken string) (domain.Grant, error) {
	resp, err := c.http.PostForm(ctx, PathRefresh, url.Values{
		"refresh_token": {refreshToken},
	})
	if err != nil {
		return domain.Grant{}, exchangeError(ctx, err)
	}
	return decodeGrant(resp, false)
}

// exchangeError keeps context errors recognizable to callers.
func exchangeError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return domain.ErrExchangeFailed.WithCause(err)
}

func decodeGrant(resp *http.Response, login bool) (domain.Grant, error) {
	var g domain.Grant
	err := ParseResponse(resp, &g)

	var se *StatusError
	switch {
	case err == nil:
	case errors.As(err, &se):
		if login && (se.Status == http.StatusBadRequest || se.Status == http.StatusUnauthorized) {
			return domain.Grant{}, domain.ErrInvalidCredentials.WithDetails(se.Message).WithCause(se)
		}
		return domain.Grant{}, domain.ErrExchangeFailed.WithDetails(fmt.Sprintf("status %d", se.Status)).WithCause(se)
	case errors.Is(err, ErrDecode):
		return domain.Grant{}, domain.ErrMalformedResponse.WithCause(err)
	default:
		return domain.Grant{}, domain.ErrExchangeFailed.WithCause(err)
	}

	if g.AccessToken == "" {
		return domain.Grant{}, domain.ErrMalformedResponse.WithDetails("missing access_token")
	}
	return g, nil
}
