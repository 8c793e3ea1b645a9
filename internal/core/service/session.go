package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/yndnr/chatdesk/internal/core/domain"
	"github.com/yndnr/chatdesk/internal/storage"
	"github.com/yndnr/chatdesk/internal/telemetry/logger"
	"github.com/yndnr/chatdesk/pkg/token"
)

// AuthEndpoint performs the two token exchanges against the Auth API.
//
// Implementations return domain.ErrInvalidCredentials when a login is
// rejected, domain.ErrExchangeFailed for transport errors and non-2xx
// responses, and domain.ErrMalformedResponse for undecodable bodies.
type AuthEndpoint interface {
	Token(ctx context.Context, username, password string) (domain.Grant, error)
	Refresh(ctx context.Context, refreshToken string) (domain.Grant, error)
}

// Observer receives session lifecycle events, typically for metrics.
type Observer interface {
	LoggedIn()
	Refreshed(outcome string)
	ForcedLogout(reason string)
}

// Refresh outcomes reported to Observer.Refreshed.
const (
	OutcomeSuccess   = "success"
	OutcomeDenied    = "denied"
	OutcomeFailed    = "failed"
	OutcomeMalformed = "malformed"
	OutcomeAborted   = "aborted"
	OutcomeDiscarded = "discarded"
)

// SessionPhase is the externally visible state of the manager.
type SessionPhase int

const (
	// PhaseUnauthenticated holds no access token.
	PhaseUnauthenticated SessionPhase = iota
	// PhaseScheduled is authenticated with a refresh timer armed.
	PhaseScheduled
	// PhaseUnscheduled is authenticated without a timer: no expiry or
	// refresh token is known, or the refresh budget is spent.
	PhaseUnscheduled
)

func (p SessionPhase) String() string {
	switch p {
	case PhaseScheduled:
		return "authenticated(scheduled)"
	case PhaseUnscheduled:
		return "authenticated(unscheduled)"
	default:
		return "unauthenticated"
	}
}

// ForcedLogout describes a session ended by the manager rather than by
// the user.
type ForcedLogout struct {
	Reason string
	Err    error
	At     time.Time
}

// SessionManager is the token lifecycle state machine.
type SessionManager struct {
	store    storage.CredentialStore
	auth     AuthEndpoint
	clock    Clock
	logger   logger.Logger
	observer Observer

	mu          sync.Mutex
	state       domain.TokenState
	epoch       uint64
	timer       Timer
	timerGen    uint64
	nextRefresh time.Time
	closed      bool

	subs    map[uint64]func(ForcedLogout)
	nextSub uint64

	flight singleflight.Group

	bg     context.Context
	cancel context.CancelFunc
}

// Option configures a SessionManager.
type Option func(*SessionManager)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(m *SessionManager) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(m *SessionManager) { m.logger = l }
}

// WithObserver sets the lifecycle observer.
func WithObserver(o Observer) Option {
	return func(m *SessionManager) { m.observer = o }
}

// NewSessionManager creates an unauthenticated manager. Call Resume to
// pick up a session persisted by a previous process.
func NewSessionManager(store storage.CredentialStore, auth AuthEndpoint, opts ...Option) *SessionManager {
	m := &SessionManager{
		store:    store,
		auth:     auth,
		clock:    RealClock(),
		logger:   logger.Default(),
		observer: nopObserver{},
		subs:     make(map[uint64]func(ForcedLogout)),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "session")
	m.bg, m.cancel = context.WithCancel(context.Background())
	return m
}

// ============================================================================
// Transitions
// ============================================================================

// Login installs a fresh token pair, resets the refresh budget, persists
// the tuple and arms the refresh timer. Any previous session is replaced.
func (m *SessionManager) Login(ctx context.Context, accessToken, refreshToken string, expiresIn int64) error {
	if accessToken == "" {
		return domain.ErrInvalidArgument.WithDetails("access token is required")
	}

	m.mu.Lock()
	next := domain.TokenState{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    domain.ExpiresAtFrom(m.clock.Now(), expiresIn),
		RefreshCount: 0,
	}
	if err := m.store.Save(ctx, next); err != nil {
		m.mu.Unlock()
		return err
	}
	m.stopTimerLocked()
	m.epoch++
	m.state = next
	m.mu.Unlock()

	m.logger.Info("session login",
		"access", token.Fingerprint(accessToken),
		"expires_at", next.ExpiresAtTime().Format(time.RFC3339),
		"has_refresh", refreshToken != "")
	m.observer.LoggedIn()

	m.ScheduleRefresh(ctx)
	return nil
}

// ScheduleRefresh cancels any pending timer and, when the session can be
// refreshed, arms a new one for one minute before expiry. If that moment
// has already passed the exchange runs synchronously on the caller's
// goroutine. A spent refresh budget leaves the session frozen: no timer,
// no logout.
func (m *SessionManager) ScheduleRefresh(ctx context.Context) {
	m.mu.Lock()
	m.stopTimerLocked()

	s := m.state
	if reason := unschedulable(s); m.closed || reason != "" {
		m.mu.Unlock()
		if reason != "" && s.Authenticated() {
			m.logger.Debug("refresh not scheduled", "reason", reason, "refresh_count", s.RefreshCount)
		}
		return
	}

	now := m.clock.Now()
	delay := s.ExpiresAtTime().Sub(now) - domain.RefreshLead
	if delay > 0 {
		gen := m.timerGen
		epoch := m.epoch
		m.timer = m.clock.AfterFunc(delay, func() { m.onTimer(gen, epoch) })
		m.nextRefresh = now.Add(delay)
		m.mu.Unlock()

		m.logger.Info("refresh scheduled", "in", delay.String(), "refresh_count", s.RefreshCount)
		return
	}
	m.mu.Unlock()

	m.logger.Info("token inside refresh window, refreshing now", "overdue", (-delay).String())
	m.refreshAndReschedule(ctx)
}

// RefreshTokens performs one refresh exchange. Concurrent callers for the
// same session share a single exchange and a single count increment; a
// caller arriving after Login or Resume starts its own.
//
// Without a refresh token, or with the budget spent, the session is
// force-logged-out and ErrRefreshDenied returned without contacting the
// Auth API. A failed or malformed exchange also forces logout. On success
// the new tuple is persisted and the stored count incremented; the next
// timer is not armed here.
func (m *SessionManager) RefreshTokens(ctx context.Context) (bool, error) {
	m.mu.Lock()
	epoch := m.epoch
	m.mu.Unlock()

	res, err, _ := m.flight.Do(strconv.FormatUint(epoch, 10), func() (any, error) {
		return m.refresh(ctx, epoch)
	})
	ok, _ := res.(bool)
	return ok, err
}

// Logout cancels the timer, clears memory and wipes the store. It is
// idempotent and does not notify forced-logout subscribers. Memory is
// cleared even when the store fails.
func (m *SessionManager) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	wasAuth := m.state.Authenticated()
	m.resetLocked()
	if err := m.store.Clear(context.WithoutCancel(ctx)); err != nil {
		m.logger.Error("clear credentials on logout", "error", err)
		return err
	}
	if wasAuth {
		m.logger.Info("session logout")
	}
	return nil
}

// ForceLogout ends the session because a collaborator found the access
// token rejected, e.g. an API call answered 401. Subscribers are notified
// if a session was active.
func (m *SessionManager) ForceLogout(ctx context.Context, cause error) {
	m.mu.Lock()
	epoch := m.epoch
	m.mu.Unlock()
	m.forceLogout(ctx, epoch, cause)
}

// Resume loads a persisted session and schedules its refresh. A tuple
// without an access token is treated as no session.
func (m *SessionManager) Resume(ctx context.Context) error {
	s, err := m.store.Load(ctx)
	if err != nil {
		return err
	}
	if !s.Authenticated() {
		s = domain.TokenState{}
	}

	m.mu.Lock()
	m.stopTimerLocked()
	m.epoch++
	m.state = s
	m.mu.Unlock()

	if s.Authenticated() {
		m.logger.Debug("session resumed",
			"access", token.Fingerprint(s.AccessToken),
			"refresh_count", s.RefreshCount)
	}
	m.ScheduleRefresh(ctx)
	return nil
}

// Authenticate performs the login exchange and installs the result.
// A failed exchange leaves any existing session untouched.
func (m *SessionManager) Authenticate(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return domain.ErrInvalidArgument.WithDetails("username and password are required")
	}

	grant, err := m.auth.Token(ctx, username, password)
	if err != nil {
		m.logger.Warn("login failed", "user", username, "error", err)
		return err
	}
	if grant.AccessToken == "" {
		return domain.ErrMalformedResponse.WithDetails("login response has no access_token")
	}
	return m.Login(ctx, grant.AccessToken, grant.RefreshToken, grant.ExpiresIn)
}

// Close stops the timer and background work without touching the store,
// so the session can be resumed by the next process.
func (m *SessionManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.stopTimerLocked()
	m.cancel()
}

// ============================================================================
// Queries
// ============================================================================

// AccessToken returns the current bearer token, or "" when logged out.
func (m *SessionManager) AccessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.AccessToken
}

// IsAuthenticated reports whether an access token is held.
func (m *SessionManager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Authenticated()
}

// State returns a copy of the token tuple.
func (m *SessionManager) State() domain.TokenState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Phase returns the current state machine phase.
func (m *SessionManager) Phase() SessionPhase {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case !m.state.Authenticated():
		return PhaseUnauthenticated
	case m.timer != nil:
		return PhaseScheduled
	default:
		return PhaseUnscheduled
	}
}

// NextRefreshAt returns when the armed timer fires, or the zero time.
func (m *SessionManager) NextRefreshAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextRefresh
}

// OnForcedLogout registers fn to be called, on the goroutine that ended
// the session, whenever the manager forces a logout. The returned
// function unsubscribes.
func (m *SessionManager) OnForcedLogout(fn func(ForcedLogout)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// ============================================================================
// Internals
// ============================================================================

func (m *SessionManager) refresh(ctx context.Context, epoch uint64) (bool, error) {
	// 1. Preconditions, no network involved.
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		m.observer.Refreshed(OutcomeDiscarded)
		return false, domain.ErrNotAuthenticated.WithDetails("session replaced before refresh")
	}
	s := m.state
	m.mu.Unlock()

	var denied string
	switch {
	case s.RefreshToken == "":
		denied = "no refresh token"
	case s.BudgetExhausted():
		denied = "refresh budget exhausted"
	}
	if denied != "" {
		err := domain.ErrRefreshDenied.WithDetails(denied)
		m.observer.Refreshed(OutcomeDenied)
		m.forceLogout(ctx, epoch, err)
		return false, err
	}

	// 2. Exactly one exchange.
	grant, err := m.auth.Refresh(ctx, s.RefreshToken)
	if err != nil {
		// Cancellation aborts; an expired deadline is a failed exchange.
		if errors.Is(ctx.Err(), context.Canceled) {
			m.observer.Refreshed(OutcomeAborted)
			return false, ctx.Err()
		}
		if !domain.IsDomainError(err, "") {
			err = domain.ErrExchangeFailed.WithCause(err)
		}
		outcome := OutcomeFailed
		if errors.Is(err, domain.ErrMalformedResponse) {
			outcome = OutcomeMalformed
		}
		m.observer.Refreshed(outcome)
		m.forceLogout(ctx, epoch, err)
		return false, err
	}
	if grant.AccessToken == "" {
		err := domain.ErrMalformedResponse.WithDetails("refresh response has no access_token")
		m.observer.Refreshed(OutcomeMalformed)
		m.forceLogout(ctx, epoch, err)
		return false, err
	}

	// 3. Persist and install, unless the session ended meanwhile.
	next := domain.TokenState{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		ExpiresAt:    domain.ExpiresAtFrom(m.clock.Now(), grant.ExpiresIn),
	}
	if next.RefreshToken == "" {
		next.RefreshToken = s.RefreshToken
	}

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		m.observer.Refreshed(OutcomeDiscarded)
		m.logger.Info("refresh result discarded, session ended during exchange")
		return false, domain.ErrNotAuthenticated.WithDetails("session ended during refresh")
	}
	count, err := m.persistRefreshLocked(ctx, next)
	if err != nil {
		m.mu.Unlock()
		m.observer.Refreshed(OutcomeFailed)
		m.forceLogout(ctx, epoch, err)
		return false, err
	}
	next.RefreshCount = count
	m.state = next
	m.mu.Unlock()

	m.observer.Refreshed(OutcomeSuccess)
	m.logger.Info("tokens refreshed",
		"access", token.Fingerprint(next.AccessToken),
		"rotated", grant.RefreshToken != "",
		"refresh_count", count,
		"expires_at", next.ExpiresAtTime().Format(time.RFC3339))
	return true, nil
}

// persistRefreshLocked writes the new tokens and bumps the stored count.
// The store's count is authoritative. Callers hold m.mu.
func (m *SessionManager) persistRefreshLocked(ctx context.Context, next domain.TokenState) (int, error) {
	if err := m.store.UpdateTokens(ctx, next); err != nil {
		return 0, err
	}
	return m.store.BumpRefreshCount(ctx)
}

// refreshAndReschedule is the scheduling trigger: refresh, then re-arm on
// success.
func (m *SessionManager) refreshAndReschedule(ctx context.Context) {
	ok, err := m.RefreshTokens(ctx)
	if !ok {
		if err != nil && ctx.Err() == nil {
			m.logger.Debug("scheduled refresh failed", "error", err)
		}
		return
	}
	m.ScheduleRefresh(ctx)
}

func (m *SessionManager) onTimer(gen, epoch uint64) {
	m.mu.Lock()
	if m.closed || m.timerGen != gen || m.epoch != epoch {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.nextRefresh = time.Time{}
	ctx := m.bg
	m.mu.Unlock()

	m.refreshAndReschedule(ctx)
}

// forceLogout ends the session identified by epoch. A stale epoch means
// the session already ended or was replaced, and nothing happens.
func (m *SessionManager) forceLogout(ctx context.Context, epoch uint64, cause error) {
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return
	}
	wasAuth := m.state.Authenticated()
	m.resetLocked()
	if err := m.store.Clear(context.WithoutCancel(ctx)); err != nil {
		m.logger.Error("clear credentials on forced logout", "error", err)
	}
	subs := make([]func(ForcedLogout), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	if !wasAuth {
		return
	}
	reason := ReasonFor(cause)
	m.observer.ForcedLogout(reason)

	m.logger.Warn("forced logout", "reason", reason, "error", cause)
	event := ForcedLogout{Reason: reason, Err: cause, At: m.clock.Now()}
	for _, fn := range subs {
		fn(event)
	}
}

// resetLocked clears memory and invalidates timers and in-flight refreshes.
func (m *SessionManager) resetLocked() {
	m.stopTimerLocked()
	m.epoch++
	m.state = domain.TokenState{}
}

func (m *SessionManager) stopTimerLocked() {
	m.timerGen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.nextRefresh = time.Time{}
}

// unschedulable returns why s cannot be refreshed on a timer, or "".
func unschedulable(s domain.TokenState) string {
	switch {
	case !s.Authenticated():
		return "not authenticated"
	case !s.HasExpiry():
		return "no expiry"
	case s.RefreshToken == "":
		return "no refresh token"
	case s.BudgetExhausted():
		return "refresh budget exhausted"
	}
	return ""
}

// ReasonFor maps an error to the forced-logout reason label.
func ReasonFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrRefreshDenied):
		return "refresh_denied"
	case errors.Is(err, domain.ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, domain.ErrExchangeFailed):
		return "exchange_failed"
	case errors.Is(err, domain.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, domain.ErrStorage):
		return "storage"
	default:
		return "other"
	}
}

type nopObserver struct{}

func (nopObserver) LoggedIn()           {}
func (nopObserver) Refreshed(string)    {}
func (nopObserver) ForcedLogout(string) {}
