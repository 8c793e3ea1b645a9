package connection

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/yndnr/chatdesk/internal/core/domain"
)

// Session is the part of the session manager the API clients need.
type Session interface {
	AccessToken() string
	ForceLogout(ctx context.Context, cause error)
}

// apiClient is the bearer-authenticated base of ChatClient and DocumentsClient.
type apiClient struct {
	http    *HTTPClient
	session Session
}

func newAPIClient(api, baseURL string, session Session, opts ...ClientOption) apiClient {
	opts = append(opts, WithBearer(session.AccessToken))
	return apiClient{http: NewHTTPClient(api, baseURL, opts...), session: session}
}

func (c apiClient) requireSession() error {
	if c.session.AccessToken() == "" {
		return domain.ErrNotAuthenticated
	}
	return nil
}

// result decodes resp into target. A 401 ends the session.
func (c apiClient) result(ctx context.Context, resp *http.Response, err error, target any) error {
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return domain.ErrAPIRequest.WithCause(err)
	}
	if err := ParseResponse(resp, target); err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Status == http.StatusUnauthorized {
			c.session.ForceLogout(ctx, domain.ErrUnauthorized)
			return domain.ErrUnauthorized.WithCause(se)
		}
		return domain.ErrAPIRequest.WithCause(err)
	}
	return nil
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}
