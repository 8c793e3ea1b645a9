package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/chatdesk/internal/core/domain"
	"github.com/yndnr/chatdesk/internal/core/service"
	"github.com/yndnr/chatdesk/internal/storage"
	"github.com/yndnr/chatdesk/internal/storage/memory"
	"github.com/yndnr/chatdesk/internal/tests/fakeclock"
)

var epochStart = time.UnixMilli(1_700_000_000_000)

// fakeAuth is a scripted AuthEndpoint.
type fakeAuth struct {
	mu           sync.Mutex
	tokenCalls   int
	refreshCalls int
	refreshArgs  []string

	tokenGrant domain.Grant
	tokenErr   error

	// refreshFn, when set, produces each refresh response.
	refreshFn func(n int, rt string) (domain.Grant, error)

	// entered and release, when set, block Refresh until released.
	entered chan struct{}
	release chan struct{}
}

func (f *fakeAuth) Token(ctx context.Context, username, password string) (domain.Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenCalls++
	return f.tokenGrant, f.tokenErr
}

func (f *fakeAuth) Refresh(ctx context.Context, refreshToken string) (domain.Grant, error) {
	f.mu.Lock()
	f.refreshCalls++
	n := f.refreshCalls
	f.refreshArgs = append(f.refreshArgs, refreshToken)
	fn := f.refreshFn
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	if err := ctx.Err(); err != nil {
		return domain.Grant{}, err
	}
	if fn != nil {
		return fn(n, refreshToken)
	}
	return domain.Grant{
		AccessToken:  fmt.Sprintf("a%d", n+1),
		RefreshToken: fmt.Sprintf("r%d", n+1),
		ExpiresIn:    1800,
	}, nil
}

func (f *fakeAuth) RefreshCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCalls
}

type recordingObserver struct {
	mu        sync.Mutex
	logins    int
	refreshes []string
	forced    []string
}

func (o *recordingObserver) LoggedIn() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.logins++
}

func (o *recordingObserver) Refreshed(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refreshes = append(o.refreshes, outcome)
}

func (o *recordingObserver) ForcedLogout(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.forced = append(o.forced, reason)
}

type harness struct {
	mgr   *service.SessionManager
	store *memory.Store
	auth  *fakeAuth
	clock *fakeclock.Clock
	obs   *recordingObserver
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store: memory.New(),
		auth:  &fakeAuth{},
		clock: fakeclock.New(epochStart),
		obs:   &recordingObserver{},
	}
	h.mgr = service.NewSessionManager(h.store, h.auth,
		service.WithClock(h.clock),
		service.WithObserver(h.obs),
	)
	t.Cleanup(h.mgr.Close)
	return h
}

func (h *harness) login(t *testing.T, expiresIn int64) {
	t.Helper()
	if err := h.mgr.Login(context.Background(), "a1", "r1", expiresIn); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
}

func (h *harness) stored(t *testing.T) domain.TokenState {
	t.Helper()
	s, err := h.store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return s
}

// ============================================================================
// Login
// ============================================================================

func TestLogin_PersistsAndSchedules(t *testing.T) {
	h := newHarness(t)
	h.login(t, 1800)

	want := domain.TokenState{
		AccessToken:  "a1",
		RefreshToken: "r1",
		ExpiresAt:    epochStart.Add(1800 * time.Second).UnixMilli(),
		RefreshCount: 0,
	}
	if got := h.mgr.State(); got != want {
		t.Errorf("State() = %+v, want %+v", got, want)
	}
	if got := h.stored(t); got != want {
		t.Errorf("stored = %+v, want %+v", got, want)
	}
	delays := h.clock.Delays()
	if len(delays) != 1 || delays[0] != 1_740_000*time.Millisecond {
		t.Errorf("timer delays = %v, want [29m0s]", delays)
	}
	if h.mgr.Phase() != service.PhaseScheduled {
		t.Errorf("Phase() = %v, want scheduled", h.mgr.Phase())
	}
	if want := epochStart.Add(1740 * time.Second); !h.mgr.NextRefreshAt().Equal(want) {
		t.Errorf("NextRefreshAt() = %v, want %v", h.mgr.NextRefreshAt(), want)
	}
	if h.obs.logins != 1 {
		t.Errorf("observer logins = %d, want 1", h.obs.logins)
	}
}

func TestLogin_DefaultsExpiry(t *testing.T) {
	h := newHarness(t)
	h.login(t, 0)

	want := epochStart.Add(domain.DefaultExpiresIn).UnixMilli()
	if got := h.mgr.State().ExpiresAt; got != want {
		t.Errorf("ExpiresAt = %d, want %d", got, want)
	}
}

func TestLogin_EmptyAccessToken(t *testing.T) {
	h := newHarness(t)
	err := h.mgr.Login(context.Background(), "", "r1", 1800)
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("Login() error = %v, want ErrInvalidArgument", err)
	}
	if h.mgr.IsAuthenticated() {
		t.Error("IsAuthenticated() = true after rejected login")
	}
}

func TestLogin_StoreFailure(t *testing.T) {
	h := newHarness(t)
	h.store.FailOn(memory.OpSave, errors.New("disk full"))

	err := h.mgr.Login(context.Background(), "a1", "r1", 1800)
	if !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("Login() error = %v, want ErrStorage", err)
	}
	if h.mgr.IsAuthenticated() {
		t.Error("IsAuthenticated() = true after failed save")
	}
	if h.clock.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", h.clock.Pending())
	}
}

func TestLogin_ResetsBudget(t *testing.T) {
	h := newHarness(t)
	h.login(t, 1800)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := h.mgr.RefreshTokens(ctx); err != nil {
			t.Fatalf("RefreshTokens() error = %v", err)
		}
	}
	if got := h.mgr.State().RefreshCount; got != 2 {
		t.Fatalf("RefreshCount = %d, want 2", got)
	}

	if err := h.mgr.Login(ctx, "b1", "s1", 1800); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if got := h.mgr.State().RefreshCount; got != 0 {
		t.Errorf("RefreshCount after relogin = %d, want 0", got)
	}
	if got := h.stored(t).RefreshCount; got != 0 {
		t.Errorf("stored RefreshCount after relogin = %d, want 0", got)
	}
	if h.clock.Pending() != 1 {
		t.Errorf("Pending() = %d, want exactly one timer", h.clock.Pending())
	}
}

// ============================================================================
// Scheduling
// ============================================================================

func TestScheduleRefresh_Delay(t *testing.T) {
	tests := []struct {
		name      string
		expiresIn int64
		wantDelay time.Duration
	}{
		{"standard", 1800, 1740 * time.Second},
		{"two minutes", 120, 60 * time.Second},
		{"just outside window", 61, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.login(t, tt.expiresIn)

			delays := h.clock.Delays()
			if len(delays) != 1 || delays[0] != tt.wantDelay {
				t.Errorf("delays = %v, want [%v]", delays, tt.wantDelay)
			}
			if h.auth.RefreshCalls() != 0 {
				t.Errorf("refresh calls = %d, want 0", h.auth.RefreshCalls())
			}
		})
	}
}

func TestScheduleRefresh_ImmediateInsideWindow(t *testing.T) {
	for _, expiresIn := range []int64{60, 30, 1} {
		t.Run(fmt.Sprint(expiresIn), func(t *testing.T) {
			h := newHarness(t)
			h.login(t, expiresIn)

			if got := h.auth.RefreshCalls(); got != 1 {
				t.Fatalf("refresh calls = %d, want 1", got)
			}
			s := h.mgr.State()
			if s.AccessToken != "a2" || s.RefreshCount != 1 {
				t.Errorf("State() = %+v, want a2 with count 1", s)
			}
			delays := h.clock.Delays()
			if len(delays) != 1 || delays[0] != 1740*time.Second {
				t.Errorf("delays after immediate refresh = %v", delays)
			}
		})
	}
}

func TestScheduleRefresh_ShortLivedTokensSpendBudget(t *testing.T) {
	h := newHarness(t)
	h.auth.refreshFn = func(n int, rt string) (domain.Grant, error) {
		return domain.Grant{AccessToken: fmt.Sprintf("a%d", n+1), ExpiresIn: 30}, nil
	}
	h.login(t, 30)

	if got := h.auth.RefreshCalls(); got != domain.MaxRefreshes {
		t.Errorf("refresh calls = %d, want %d", got, domain.MaxRefreshes)
	}
	if !h.mgr.IsAuthenticated() {
		t.Error("session should stay authenticated once the budget is spent")
	}
	if h.mgr.Phase() != service.PhaseUnscheduled {
		t.Errorf("Phase() = %v, want unscheduled", h.mgr.Phase())
	}
}

func TestScheduleRefresh_NoOpCases(t *testing.T) {
	tests := []struct {
		name    string
		refresh string
		expires int64
	}{
		{"no refresh token", "", 1800},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if err := h.mgr.Login(context.Background(), "a1", tt.refresh, tt.expires); err != nil {
				t.Fatalf("Login() error = %v", err)
			}
			if h.clock.Pending() != 0 {
				t.Errorf("Pending() = %d, want 0", h.clock.Pending())
			}
			if h.mgr.Phase() != service.PhaseUnscheduled {
				t.Errorf("Phase() = %v, want unscheduled", h.mgr.Phase())
			}
		})
	}

	t.Run("not authenticated", func(t *testing.T) {
		h := newHarness(t)
		h.mgr.ScheduleRefresh(context.Background())
		if h.clock.Pending() != 0 || h.auth.RefreshCalls() != 0 {
			t.Error("ScheduleRefresh() without a session should do nothing")
		}
	})

	t.Run("no expiry", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		if err := h.store.Save(ctx, domain.TokenState{AccessToken: "a1", RefreshToken: "r1"}); err != nil {
			t.Fatal(err)
		}
		if err := h.mgr.Resume(ctx); err != nil {
			t.Fatalf("Resume() error = %v", err)
		}
		if h.clock.Pending() != 0 || h.auth.RefreshCalls() != 0 {
			t.Error("ScheduleRefresh() without expiry should do nothing")
		}
		if !h.mgr.IsAuthenticated() {
			t.Error("IsAuthenticated() = false")
		}
	})
}

func TestTimer_RefreshesAndRearms(t *testing.T) {
	h := newHarness(t)
	h.login(t, 1800)

	for i := 1; i <= domain.MaxRefreshes; i++ {
		h.clock.Advance(1740 * time.Second)

		if got := h.auth.RefreshCalls(); got != i {
			t.Fatalf("after tick %d: refresh calls = %d", i, got)
		}
		if got := h.mgr.State().RefreshCount; got != i {
			t.Fatalf("after tick %d: RefreshCount = %d", i, got)
		}
		if got := h.stored(t).RefreshCount; got != i {
			t.Fatalf("after tick %d: stored RefreshCount = %d", i, got)
		}
	}

	// Budget spent: no further timer, session frozen until expiry.
	if h.clock.Pending() != 0 {
		t.Errorf("Pending() = %d after budget spent, want 0", h.clock.Pending())
	}
	h.clock.Advance(time.Hour)
	if got := h.auth.RefreshCalls(); got != domain.MaxRefreshes {
		t.Errorf("refresh calls = %d, want %d", got, domain.MaxRefreshes)
	}
	if !h.mgr.IsAuthenticated() {
		t.Error("IsAuthenticated() = false, want frozen session")
	}
	// The refresh token sent each time is the most recently received one.
	want := []string{"r1", "r2", "r3"}
	for i, rt := range h.auth.refreshArgs {
		if rt != want[i] {
			t.Errorf("refresh %d sent %q, want %q", i+1, rt, want[i])
		}
	}
}

// ============================================================================
// RefreshTokens
// ============================================================================

func TestRefreshTokens_BudgetExhausted(t *testing.T) {
	h := newHarness(t)
	h.login(t, 1800)
	ctx := context.Background()

	for i := 0; i < domain.MaxRefreshes; i++ {
		if ok, err := h.mgr.RefreshTokens(ctx); !ok || err != nil {
			t.Fatalf("RefreshTokens() #%d = %v, %v", i+1, ok, err)
		}
	}

	var events []service.ForcedLogout
	h.mgr.OnForcedLogout(func(ev service.ForcedLogout) { events = append(events, ev) })

	ok, err := h.mgr.RefreshTokens(ctx)
	if ok || !errors.Is(err, domain.ErrRefreshDenied) {
		t.Fatalf("RefreshTokens() = %v, %v; want false, ErrRefreshDenied", ok, err)
	}
	if got := h.auth.RefreshCalls(); got != domain.MaxRefreshes {
		t.Errorf("refresh calls = %d, want %d", got, domain.MaxRefreshes)
	}
	if h.mgr.IsAuthenticated() {
		t.Error("IsAuthenticated() = true after denied refresh")
	}
	if h.store.Len() != 0 {
		t.Errorf("store has %d keys, want 0", h.store.Len())
	}
	if len(events) != 1 || events[0].Reason != "refresh_denied" {
		t.Errorf("events = %+v, want one refresh_denied", events)
	}
}

func TestRefreshTokens_NoRefreshToken(t *testing.T) {
	h := newHarness(t)
	if err := h.mgr.Login(context.Background(), "a1", "", 1800); err != nil {
		t.Fatal(err)
	}

	ok, err := h.mgr.RefreshTokens(context.Background())
	if ok || !errors.Is(err, domain.ErrRefreshDenied) {
		t.Fatalf("RefreshTokens() = %v, %v; want false, ErrRefreshDenied", ok, err)
	}
	if h.auth.RefreshCalls() != 0 {
		t.Error("Auth API contacted without a refresh token")
	}
	if h.mgr.IsAuthenticated() {
		t.Error("IsAuthenticated() = true")
	}
}

func TestRefreshTokens_KeepsRefreshTokenWhenOmitted(t *testing.T) {
	h := newHarness(t)
	h.auth.refreshFn = func(n int, rt string) (domain.Grant, error) {
		return domain.Grant{AccessToken: "a2", ExpiresIn: 900}, nil
	}
	h.login(t, 1800)

	ok, err := h.mgr.RefreshTokens(context.Background())
	if !ok || err != nil {
		t.Fatalf("RefreshTokens() = %v, %v", ok, err)
	}
	want := domain.TokenState{
		AccessToken:  "a2",
		RefreshToken: "r1",
		ExpiresAt:    epochStart.Add(900 * time.Second).UnixMilli(),
		RefreshCount: 1,
	}
	if got := h.mgr.State(); got != want {
		t.Errorf("State() = %+v, want %+v", got, want)
	}
	if got := h.stored(t); got != want {
		t.Errorf("stored = %+v, want %+v", got, want)
	}
}

func TestRefreshTokens_ExactlyOneIncrement(t *testing.T) {
	h := newHarness(t)
	h.login(t, 1800)

	if _, err := h.mgr.RefreshTokens(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := h.store.Calls(memory.OpBump); got != 1 {
		t.Errorf("BumpRefreshCount calls = %d, want 1", got)
	}
	if got := h.stored(t).RefreshCount; got != 1 {
		t.Errorf("stored RefreshCount = %d, want 1", got)
	}
}

func TestRefreshTokens_DoesNotRearm(t *testing.T) {
	h := newHarness(t)
	h.login(t, 1800)

	if _, err := h.mgr.RefreshTokens(context.Background()); err != nil {
		t.Fatal(err)
	}
	// The login timer is still the only one; rescheduling is the caller's job.
	delays := h.clock.Delays()
	if len(delays) != 1 || delays[0] != 1740*time.Second {
		t.Errorf("delays = %v, want the original timer only", delays)
	}
}

func TestRefreshTokens_Failures(t *testing.T) {
	tests := []struct {
		name        string
		grant       domain.Grant
		err         error
		wantErr     error
		wantReason  string
		wantOutcome string
	}{
		{
			name:        "401 from auth",
			err:         domain.ErrExchangeFailed.WithDetails("status 401"),
			wantErr:     domain.ErrExchangeFailed,
			wantReason:  "exchange_failed",
			wantOutcome: service.OutcomeFailed,
		},
		{
			name:        "transport error",
			err:         errors.New("connection refused"),
			wantErr:     domain.ErrExchangeFailed,
			wantReason:  "exchange_failed",
			wantOutcome: service.OutcomeFailed,
		},
		{
			name:        "malformed body",
			err:         domain.ErrMalformedResponse,
			wantErr:     domain.ErrMalformedResponse,
			wantReason:  "malformed_response",
			wantOutcome: service.OutcomeMalformed,
		},
		{
			name:        "empty access token",
			grant:       domain.Grant{RefreshToken: "r2", ExpiresIn: 1800},
			wantErr:     domain.ErrMalformedResponse,
			wantReason:  "malformed_response",
			wantOutcome: service.OutcomeMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.auth.refreshFn = func(int, string) (domain.Grant, error) { return tt.grant, tt.err }
			h.login(t, 1800)

			var got []service.ForcedLogout
			h.mgr.OnForcedLogout(func(ev service.ForcedLogout) { got = append(got, ev) })

			ok, err := h.mgr.RefreshTokens(context.Background())
			if ok || !errors.Is(err, tt.wantErr) {
				t.Fatalf("RefreshTokens() = %v, %v; want false, %v", ok, err, tt.wantErr)
			}
			if h.mgr.IsAuthenticated() {
				t.Error("IsAuthenticated() = true after failed refresh")
			}
			if h.store.Len() != 0 {
				t.Errorf("store has %d keys, want 0", h.store.Len())
			}
			if h.clock.Pending() != 0 {
				t.Errorf("Pending() = %d, want 0", h.clock.Pending())
			}
			if len(got) != 1 || got[0].Reason != tt.wantReason {
				t.Errorf("events = %+v, want one %s", got, tt.wantReason)
			}
			if !got[0].At.Equal(epochStart) {
				t.Errorf("event At = %v, want %v", got[0].At, epochStart)
			}
			if n := len(h.obs.refreshes); n != 1 || h.obs.refreshes[0] != tt.wantOutcome {
				t.Errorf("observer refreshes = %v, want [%s]", h.obs.refreshes, tt.wantOutcome)
			}
			if n := len(h.obs.forced); n != 1 || h.obs.forced[0] != tt.wantReason {
				t.Errorf("observer forced = %v, want [%s]", h.obs.forced, tt.wantReason)
			}
		})
	}
}

func TestRefreshTokens_StorageFailureLogsOut(t *testing.T) {
	h := newHarness(t)
	h.login(t, 1800)
	h.store.FailOn(memory.OpBump, errors.New("io error"))

	ok, err := h.mgr.RefreshTokens(context.Background())
	if ok || !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("RefreshTokens() = %v, %v; want false, ErrStorage", ok, err)
	}
	if h.mgr.IsAuthenticated() {
		t.Error("IsAuthenticated() = true after storage failure")
	}
	if h.store.Len() != 0 {
		t.Errorf("store has %d keys, want 0", h.store.Len())
	}
}

func TestRefreshTokens_ContextCanceled(t *testing.T) {
	h := newHarness(t)
	h.login(t, 1800)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok, err := h.mgr.RefreshTokens(ctx)
	if ok || !errors.Is(err, context.Canceled) {
		t.Fatalf("RefreshTokens() = %v, %v; want false, context.Canceled", ok, err)
	}
	if !h.mgr.IsAuthenticated() {
		t.Error("canceled refresh should not end the session")
	}
	if got := h.stored(t).AccessToken; got != "a1" {
		t.Errorf("stored AccessToken = %q, want a1", got)
	}
}

func TestRefreshTokens_DeadlineForcesLogout(t *testing.T) {
	h := newHarness(t)
	h.login(t, 1800)

	var events []service.ForcedLogout
	h.mgr.OnForcedLogout(func(ev service.ForcedLogout) { events = append(events, ev) })

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	ok, err := h.mgr.RefreshTokens(ctx)
	if ok || !errors.Is(err, domain.ErrExchangeFailed) {
		t.Fatalf("RefreshTokens() = %v, %v; want false, ErrExchangeFailed", ok, err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error %v does not wrap context.DeadlineExceeded", err)
	}
	if h.mgr.IsAuthenticated() {
		t.Error("IsAuthenticated() = true after a timed-out exchange")
	}
	if h.store.Len() != 0 {
		t.Errorf("store has %d keys, want 0", h.store.Len())
	}
	if len(events) != 1 || events[0].Reason != "exchange_failed" {
		t.Errorf("events = %+v, want one exchange_failed", events)
	}
	if n := len(h.obs.refreshes); n != 1 || h.obs.refreshes[0] != service.OutcomeFailed {
		t.Errorf("observer refreshes = %v, want [%s]", h.obs.refreshes, service.OutcomeFailed)
	}
}

func TestRefreshTokens_UnauthenticatedIsNotAForcedLogout(t *testing.T) {
	h := newHarness(t)

	notified := false
	h.mgr.OnForcedLogout(func(service.ForcedLogout) { notified = true })

	ok, err := h.mgr.RefreshTokens(context.Background())
	if ok || !errors.Is(err, domain.ErrRefreshDenied) {
		t.Fatalf("RefreshTokens() = %v, %v; want false, ErrRefreshDenied", ok, err)
	}
	if notified {
		t.Error("subscriber notified without a session")
	}
	if len(h.obs.forced) != 0 {
		t.Errorf("observer forced = %v, want none", h.obs.forced)
	}
	if n := len(h.obs.refreshes); n != 1 || h.obs.refreshes[0] != service.OutcomeDenied {
		t.Errorf("observer refreshes = %v, want [%s]", h.obs.refreshes, service.OutcomeDenied)
	}
}

func TestRefreshTokens_ConcurrentCallersShareExchange(t *testing.T) {
	h := newHarness(t)
	h.login(t, 1800)
	h.auth.entered = make(chan struct{}, 8)
	h.auth.release = make(chan struct{})

	const callers = 8
	var wg sync.WaitGroup
	results := make(chan bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _ := h.mgr.RefreshTokens(context.Background())
			results <- ok
		}()
	}

	<-h.auth.entered
	// Let the remaining callers join the in-flight exchange.
	time.Sleep(50 * time.Millisecond)
	close(h.auth.release)
	wg.Wait()
	close(results)

	for ok := range results {
		if !ok {
			t.Error("a concurrent caller saw a failed refresh")
		}
	}
	if got := h.auth.RefreshCalls(); got != 1 {
		t.Errorf("refresh calls = %d, want 1", got)
	}
	if got := h.stored(t).RefreshCount; got != 1 {
		t.Errorf("stored RefreshCount = %d, want 1", got)
	}
}

func TestRefreshTokens_LogoutDuringExchange(t *testing.T) {
	h := newHarness(t)
	h.login(t, 1800)
	h.auth.entered = make(chan struct{}, 1)
	h.auth.release = make(chan struct{})

	type result struct {
		ok  bool
		err error
	}
	done := make(chan result, 1)
	go func() {
		ok, err := h.mgr.RefreshTokens(context.Background())
		done <- result{ok, err}
	}()

	<-h.auth.entered
	if err := h.mgr.Logout(context.Background()); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	close(h.auth.release)
	res := <-done

	if res.ok || !errors.Is(res.err, domain.ErrNotAuthenticated) {
		t.Errorf("RefreshTokens() = %v, %v; want false, ErrNotAuthenticated", res.ok, res.err)
	}
	if h.mgr.IsAuthenticated() {
		t.Error("refresh result revived a logged-out session")
	}
	if h.store.Len() != 0 {
		t.Errorf("store has %d keys, want 0", h.store.Len())
	}
	if h.clock.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", h.clock.Pending())
	}
}

func TestRefreshTokens_LoginDuringExchangeStartsOwnExchange(t *testing.T) {
	h := newHarness(t)
	h.login(t, 1800)
	h.auth.entered = make(chan struct{}, 8)
	h.auth.release = make(chan struct{})

	type result struct {
		ok  bool
		err error
	}
	old := make(chan result, 1)
	go func() {
		ok, err := h.mgr.RefreshTokens(context.Background())
		old <- result{ok, err}
	}()
	<-h.auth.entered

	// Inside the refresh window, so Login refreshes before returning.
	loggedIn := make(chan error, 1)
	go func() {
		loggedIn <- h.mgr.Login(context.Background(), "b1", "rb1", 30)
	}()

	select {
	case <-h.auth.entered:
	case <-time.After(2 * time.Second):
		close(h.auth.release)
		t.Fatal("new session did not start its own refresh exchange")
	}
	close(h.auth.release)

	if res := <-old; res.ok || !errors.Is(res.err, domain.ErrNotAuthenticated) {
		t.Errorf("old RefreshTokens() = %v, %v; want false, ErrNotAuthenticated", res.ok, res.err)
	}
	if err := <-loggedIn; err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if got := h.auth.RefreshCalls(); got != 2 {
		t.Errorf("refresh calls = %d, want 2", got)
	}
	h.auth.mu.Lock()
	args := append([]string(nil), h.auth.refreshArgs...)
	h.auth.mu.Unlock()
	if len(args) != 2 || args[0] != "r1" || args[1] != "rb1" {
		t.Errorf("refresh args = %v, want [r1 rb1]", args)
	}

	s := h.mgr.State()
	if s.AccessToken != "a3" || s.RefreshToken != "r3" || s.RefreshCount != 1 {
		t.Errorf("State() = %+v, want a3/r3 with RefreshCount 1", s)
	}
	if got := h.stored(t); got.AccessToken != "a3" || got.RefreshCount != 1 {
		t.Errorf("stored = %+v, want a3 with RefreshCount 1", got)
	}
	if h.clock.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", h.clock.Pending())
	}
	if want := epochStart.Add(1740 * time.Second); !h.mgr.NextRefreshAt().Equal(want) {
		t.Errorf("NextRefreshAt() = %v, want %v", h.mgr.NextRefreshAt(), want)
	}
}

// ============================================================================
// Logout
// ============================================================================

func TestLogout(t *testing.T) {
	h := newHarness(t)
	h.login(t, 1800)

	notified := false
	h.mgr.OnForcedLogout(func(service.ForcedLogout) { notified = true })

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := h.mgr.Logout(ctx); err != nil {
			t.Fatalf("Logout() #%d error = %v", i+1, err)
		}
	}

	if h.mgr.IsAuthenticated() || h.mgr.AccessToken() != "" {
		t.Error("session still authenticated after logout")
	}
	if h.mgr.State() != (domain.TokenState{}) {
		t.Errorf("State() = %+v, want zero", h.mgr.State())
	}
	for _, key := range storage.CredentialKeys {
		if _, ok := h.store.Raw(key); ok {
			t.Errorf("key %q still stored", key)
		}
	}
	if h.clock.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", h.clock.Pending())
	}
	h.clock.Advance(time.Hour)
	if h.auth.RefreshCalls() != 0 {
		t.Error("timer fired after logout")
	}
	if notified {
		t.Error("explicit logout notified forced-logout subscribers")
	}
}

func TestLogout_StoreFailureStillClearsMemory(t *testing.T) {
	h := newHarness(t)
	h.login(t, 1800)
	h.store.FailOn(memory.OpClear, errors.New("read-only"))

	err := h.mgr.Logout(context.Background())
	if !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("Logout() error = %v, want ErrStorage", err)
	}
	if h.mgr.IsAuthenticated() {
		t.Error("IsAuthenticated() = true")
	}
	if h.clock.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", h.clock.Pending())
	}
}

func TestForceLogout(t *testing.T) {
	h := newHarness(t)
	h.login(t, 1800)

	var reasons []string
	unsubscribe := h.mgr.OnForcedLogout(func(ev service.ForcedLogout) { reasons = append(reasons, ev.Reason) })

	h.mgr.ForceLogout(context.Background(), domain.ErrUnauthorized)
	if h.mgr.IsAuthenticated() || h.store.Len() != 0 {
		t.Error("ForceLogout() left a session behind")
	}

	// Already logged out: no second notification.
	h.mgr.ForceLogout(context.Background(), domain.ErrUnauthorized)

	unsubscribe()
	h.login(t, 1800)
	h.mgr.ForceLogout(context.Background(), domain.ErrUnauthorized)

	if len(reasons) != 1 || reasons[0] != "unauthorized" {
		t.Errorf("reasons = %v, want [unauthorized]", reasons)
	}
	// The repeated call on an ended session is not counted.
	if len(h.obs.forced) != 2 {
		t.Errorf("observer forced = %v, want two", h.obs.forced)
	}
}

// ============================================================================
// Resume / Authenticate / Close
// ============================================================================

func TestResume(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	expires := epochStart.Add(10 * time.Minute).UnixMilli()
	if err := h.store.Save(ctx, domain.TokenState{AccessToken: "a9", RefreshToken: "r9", ExpiresAt: expires}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if _, err := h.store.BumpRefreshCount(ctx); err != nil {
			t.Fatal(err)
		}
	}

	if err := h.mgr.Resume(ctx); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	s := h.mgr.State()
	if s.AccessToken != "a9" || s.RefreshCount != 2 || s.ExpiresAt != expires {
		t.Errorf("State() = %+v", s)
	}
	delays := h.clock.Delays()
	if len(delays) != 1 || delays[0] != 9*time.Minute {
		t.Errorf("delays = %v, want [9m0s]", delays)
	}

	// One refresh left in the budget.
	h.clock.Advance(9 * time.Minute)
	if got := h.mgr.State().RefreshCount; got != 3 {
		t.Errorf("RefreshCount = %d, want 3", got)
	}
	if h.clock.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", h.clock.Pending())
	}
}

func TestResume_Empty(t *testing.T) {
	h := newHarness(t)
	if err := h.mgr.Resume(context.Background()); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if h.mgr.Phase() != service.PhaseUnauthenticated {
		t.Errorf("Phase() = %v, want unauthenticated", h.mgr.Phase())
	}
}

func TestResume_LoadFailure(t *testing.T) {
	h := newHarness(t)
	h.store.FailOn(memory.OpLoad, errors.New("corrupt"))
	if err := h.mgr.Resume(context.Background()); !errors.Is(err, domain.ErrStorage) {
		t.Errorf("Resume() error = %v, want ErrStorage", err)
	}
}

func TestAuthenticate(t *testing.T) {
	h := newHarness(t)
	h.auth.tokenGrant = domain.Grant{AccessToken: "a1", RefreshToken: "r1", ExpiresIn: 1800}

	if err := h.mgr.Authenticate(context.Background(), "alice", "s3cret"); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if h.mgr.AccessToken() != "a1" || h.clock.Pending() != 1 {
		t.Errorf("AccessToken() = %q, Pending() = %d", h.mgr.AccessToken(), h.clock.Pending())
	}
}

func TestAuthenticate_Errors(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		pass     string
		tokenErr error
		wantErr  error
		calls    int
	}{
		{"empty username", "", "x", nil, domain.ErrInvalidArgument, 0},
		{"empty password", "alice", "", nil, domain.ErrInvalidArgument, 0},
		{"rejected", "alice", "wrong", domain.ErrInvalidCredentials, domain.ErrInvalidCredentials, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.login(t, 1800)
			h.auth.tokenErr = tt.tokenErr

			err := h.mgr.Authenticate(context.Background(), tt.user, tt.pass)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Authenticate() error = %v, want %v", err, tt.wantErr)
			}
			if h.auth.tokenCalls != tt.calls {
				t.Errorf("token calls = %d, want %d", h.auth.tokenCalls, tt.calls)
			}
			if h.mgr.AccessToken() != "a1" {
				t.Error("failed login replaced the existing session")
			}
		})
	}
}

func TestClose_KeepsStore(t *testing.T) {
	h := newHarness(t)
	h.login(t, 1800)

	h.mgr.Close()
	h.mgr.Close()

	if h.clock.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", h.clock.Pending())
	}
	if got := h.stored(t).AccessToken; got != "a1" {
		t.Errorf("stored AccessToken = %q, want a1", got)
	}
	h.mgr.ScheduleRefresh(context.Background())
	if h.clock.Pending() != 0 {
		t.Error("ScheduleRefresh() armed a timer after Close")
	}
}

func TestSessionPhase_String(t *testing.T) {
	tests := []struct {
		phase service.SessionPhase
		want  string
	}{
		{service.PhaseUnauthenticated, "unauthenticated"},
		{service.PhaseScheduled, "authenticated(scheduled)"},
		{service.PhaseUnscheduled, "authenticated(unscheduled)"},
	}
	for _, tt := range tests {
		if got := tt.phase.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestReasonFor(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{domain.ErrRefreshDenied, "refresh_denied"},
		{domain.ErrExchangeFailed.WithCause(errors.New("x")), "exchange_failed"},
		{domain.ErrMalformedResponse, "malformed_response"},
		{domain.ErrUnauthorized, "unauthorized"},
		{domain.ErrStorage.WithDetails("clear"), "storage"},
		{errors.New("boom"), "other"},
	}
	for _, tt := range tests {
		if got := service.ReasonFor(tt.err); got != tt.want {
			t.Errorf("ReasonFor(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
