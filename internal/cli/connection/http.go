package connection

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/yndnr/chatdesk/internal/infra/buildinfo"
	"github.com/yndnr/chatdesk/internal/telemetry/logger"
)

// DefaultTimeout bounds a single request.
const DefaultTimeout = 30 * time.Second

// ErrDecode marks a 2xx response whose body could not be decoded.
var ErrDecode = errors.New("decode response")

// RequestObserver records completed requests. Status 0 means the request
// failed before a response arrived.
type RequestObserver interface {
	ObserveRequest(api, method string, status int, d time.Duration)
}

// StatusError is a non-2xx response.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("status %d: [%s] %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("status %d: %s", e.Status, e.Message)
}

// HTTPClient is a small JSON-over-HTTP client bound to one base URL.
type HTTPClient struct {
	api       string
	baseURL   string
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	bearer    func() string
	observer  RequestObserver
	logger    logger.Logger
}

// ClientOption configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

// WithLimiter throttles requests. Clients sharing a limiter share its budget.
func WithLimiter(l *rate.Limiter) ClientOption {
	return func(c *HTTPClient) { c.limiter = l }
}

// WithBearer sets the source of the Authorization bearer token. An empty
// token sends no header.
func WithBearer(fn func() string) ClientOption {
	return func(c *HTTPClient) { c.bearer = fn }
}

// WithRequestObserver records every request.
func WithRequestObserver(o RequestObserver) ClientOption {
	return func(c *HTTPClient) { c.observer = o }
}

// WithClientLogger sets the logger.
func WithClientLogger(l logger.Logger) ClientOption {
	return func(c *HTTPClient) { c.logger = l }
}

// WithTransport replaces the HTTP transport.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(c *HTTPClient) { c.client.Transport = rt }
}

// WithTLSConfig sets the TLS settings of a fresh default transport.
func WithTLSConfig(cfg *tls.Config) ClientOption {
	return func(c *HTTPClient) {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = cfg
		c.client.Transport = t
	}
}

// NewHTTPClient creates a client for server. api names the backend in
// logs and metrics.
func NewHTTPClient(api, server string, opts ...ClientOption) *HTTPClient {
	baseURL := strings.TrimRight(server, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}

	c := &HTTPClient{
		api:       api,
		baseURL:   baseURL,
		client:    &http.Client{Timeout: DefaultTimeout},
		userAgent: "chatdesk/" + buildinfo.Version,
		logger:    logger.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("api", api)
	return c
}

// Get performs a GET request.
func (c *HTTPClient) Get(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, path, query, nil, "")
}

// PostForm performs a POST with an application/x-www-form-urlencoded body.
func (c *HTTPClient) PostForm(ctx context.Context, path string, form url.Values) (*http.Response, error) {
	return c.Do(ctx, http.MethodPost, path, nil,
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
}

// PostJSON performs a POST with a JSON body.
func (c *HTTPClient) PostJSON(ctx context.Context, path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}
	return c.Do(ctx, http.MethodPost, path, nil, bytes.NewReader(data), "application/json")
}

// Delete performs a DELETE request.
func (c *HTTPClient) Delete(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	return c.Do(ctx, http.MethodDelete, path, query, nil, "")
}

// Do sends a request after waiting for the rate limiter.
func (c *HTTPClient) Do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if sized, ok := body.(interface{ Size() int64 }); ok && req.ContentLength == 0 {
		req.ContentLength = sized.Size()
	}

	requestID := logger.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = ulid.Make().String()
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.bearer != nil {
		if tok := c.bearer(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	elapsed := time.Since(start)

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	if c.observer != nil {
		c.observer.ObserveRequest(c.api, method, status, elapsed)
	}
	if err != nil {
		c.logger.Debug("request failed", "method", method, "path", path, "request_id", requestID, "error", err)
		return nil, err
	}
	c.logger.Debug("request", "method", method, "path", path, "status", status,
		"request_id", requestID, "duration", elapsed.String())
	return resp, nil
}

// BaseURL returns the base URL of the client.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// ParseResponse decodes a JSON response body into target and closes it.
// Non-2xx responses become *StatusError; undecodable 2xx bodies wrap
// ErrDecode. A nil target discards the body.
func ParseResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}

	if target == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return nil
}

// statusError reads the common error body shapes: {"code","message"} and
// {"detail"} where detail is a string or a list of {"msg"}.
func statusError(resp *http.Response) *StatusError {
	se := &StatusError{Status: resp.StatusCode}

	var body struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Detail  json.RawMessage `json:"detail"`
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || json.Unmarshal(data, &body) != nil {
		return se
	}
	se.Code = body.Code
	se.Message = body.Message
	if se.Message == "" && len(body.Detail) > 0 {
		se.Message = detailMessage(body.Detail)
	}
	return se
}

func detailMessage(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var items []struct {
		Msg string `json:"msg"`
	}
	if json.Unmarshal(raw, &items) == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg != "" {
				msgs = append(msgs, it.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return ""
}
