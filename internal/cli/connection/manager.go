package connection

import (
	"time"

	"golang.org/x/time/rate"
)

// Endpoints holds the base URLs of the three backends.
type Endpoints struct {
	Auth string
	Chat string
	Docs string
}

// Limits configures the client-side request budget shared by all clients.
type Limits struct {
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 = unlimited
	Burst     int
}

// Manager builds API clients that share one rate limiter and one set of
// client options.
type Manager struct {
	endpoints Endpoints
	opts      []ClientOption
}

// NewManager creates a manager. opts apply to every client it builds.
func NewManager(endpoints Endpoints, limits Limits, opts ...ClientOption) *Manager {
	shared := []ClientOption{WithTimeout(limits.Timeout)}
	if limits.RateLimit > 0 {
		burst := limits.Burst
		if burst <= 0 {
			burst = 1
		}
		shared = append(shared, WithLimiter(rate.NewLimiter(rate.Limit(limits.RateLimit), burst)))
	}
	return &Manager{
		endpoints: endpoints,
		opts:      append(shared, opts...),
	}
}

// Endpoints returns the configured base URLs.
func (m *Manager) Endpoints() Endpoints {
	return m.endpoints
}

// Auth returns a client for the Auth API.
func (m *Manager) Auth() *AuthClient {
	return NewAuthClient(m.endpoints.Auth, m.opts...)
}

// Chat returns a Chat API client authenticated by session.
func (m *Manager) Chat(session Session) *ChatClient {
	return NewChatClient(m.endpoints.Chat, session, m.clientOpts()...)
}

// Documents returns a Documents API client authenticated by session.
func (m *Manager) Documents(session Session) *DocumentsClient {
	return NewDocumentsClient(m.endpoints.Docs, session, m.clientOpts()...)
}

// clientOpts copies opts so per-client appends never alias.
func (m *Manager) clientOpts() []ClientOption {
	return append([]ClientOption(nil), m.opts...)
}
