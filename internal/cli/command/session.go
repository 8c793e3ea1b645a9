package command

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/chatdesk/internal/cli/config"
	"github.com/yndnr/chatdesk/internal/cli/output"
	"github.com/yndnr/chatdesk/internal/core/domain"
	"github.com/yndnr/chatdesk/internal/core/service"
	"github.com/yndnr/chatdesk/internal/infra/confloader"
	"github.com/yndnr/chatdesk/internal/infra/shutdown"
	"github.com/yndnr/chatdesk/internal/telemetry/logger"
	"github.com/yndnr/chatdesk/internal/telemetry/metric"
)

// shutdownTimeout bounds the cleanup of `session watch`.
const shutdownTimeout = 5 * time.Second

// SessionCommand returns the session subcommand group.
func SessionCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:    "session",
		Aliases: []string{"sess"},
		Usage:   "Inspect and maintain the stored session",
		Subcommands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "Show the session state",
				Action: sessionStatus(rt),
			},
			{
				Name:   "refresh",
				Usage:  "Refresh the access token now",
				Action: sessionRefresh(rt),
			},
			{
				Name:  "watch",
				Usage: "Keep the session alive until interrupted or logged out",
				Description: "Stays in the foreground refreshing the token on schedule. Serves Prometheus\n" +
					"metrics when metrics.listen is set and follows log.level changes in the\n" +
					"config file and a rotated client certificate. Exits with status 1 when the\n" +
					"session is force-logged-out.",
				Action: sessionWatch(rt),
			},
		},
	}
}

// statusView is the printable session state.
type statusView struct {
	Status        string     `json:"status" yaml:"status"`
	User          string     `json:"user,omitempty" yaml:"user,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	ExpiresIn     string     `json:"expires_in,omitempty" yaml:"expires_in,omitempty"`
	RefreshCount  int        `json:"refresh_count" yaml:"refresh_count"`
	RefreshesLeft int        `json:"refreshes_left" yaml:"refreshes_left"`
	NextRefresh   *time.Time `json:"next_refresh,omitempty" yaml:"next_refresh,omitempty"`
	Store         string     `json:"store" yaml:"store"`
}

func newStatusView(sm *service.SessionManager, backend string) statusView {
	s := sm.State()
	v := statusView{
		Status:        sm.Phase().String(),
		User:          s.Subject(),
		RefreshCount:  s.RefreshCount,
		RefreshesLeft: max(domain.MaxRefreshes-s.RefreshCount, 0),
		Store:         backend,
	}
	if !s.Authenticated() {
		v.RefreshCount, v.RefreshesLeft = 0, 0
		return v
	}
	if s.HasExpiry() {
		at := s.ExpiresAtTime()
		v.ExpiresAt = &at
		v.ExpiresIn = time.Until(at).Round(time.Second).String()
	}
	if next := sm.NextRefreshAt(); !next.IsZero() {
		v.NextRefresh = &next
	}
	return v
}

// expiry renders the expiry for notices.
func (v statusView) expiry() string {
	if v.ExpiresAt == nil {
		return "at an unknown time"
	}
	return fmt.Sprintf("in %s (%s)", v.ExpiresIn, v.ExpiresAt.Local().Format("15:04:05"))
}

func sessionStatus(rt *runtime) cli.ActionFunc {
	return func(c *cli.Context) error {
		sm, err := rt.Session(c.Context)
		if err != nil {
			return err
		}
		return rt.printer.Print(newStatusView(sm, rt.cfg.Store.Backend))
	}
}

func sessionRefresh(rt *runtime) cli.ActionFunc {
	return func(c *cli.Context) error {
		sm, err := rt.Session(c.Context)
		if err != nil {
			return err
		}

		// A manual refresh must not spend the session: the exchange would
		// be denied and force a logout.
		s := sm.State()
		switch {
		case !s.Authenticated():
			return domain.ErrNotAuthenticated
		case s.RefreshToken == "":
			return domain.ErrRefreshDenied.WithDetails("no refresh token; the session stays valid until it expires")
		case s.BudgetExhausted():
			return domain.ErrRefreshDenied.WithDetails(fmt.Sprintf(
				"refresh budget exhausted (%d/%d); the session stays valid until it expires", s.RefreshCount, domain.MaxRefreshes))
		}

		spin := rt.printer.Spinner("Refreshing")
		spin.Start()
		if _, err := sm.RefreshTokens(c.Context); err != nil {
			spin.Fail("Refresh failed")
			if !sm.IsAuthenticated() {
				return fmt.Errorf("session ended: %w", err)
			}
			return err
		}
		spin.Stop()

		sm.ScheduleRefresh(c.Context)
		return rt.printer.Print(newStatusView(sm, rt.cfg.Store.Backend))
	}
}

// sessionEnded is the cancellation cause of `session watch` after a
// forced logout.
type sessionEnded struct {
	event service.ForcedLogout
}

func (e *sessionEnded) Error() string {
	return fmt.Sprintf("session ended (%s): %v", e.event.Reason, e.event.Err)
}

func sessionWatch(rt *runtime) cli.ActionFunc {
	return func(c *cli.Context) error {
		ctx, stop := shutdown.WithSignals(c.Context)
		defer stop()
		ctx, cancel := context.WithCancelCause(ctx)
		defer cancel(nil)

		events := &watchObserver{next: rt.metrics, printer: rt.printer}
		sm, err := rt.Session(ctx, service.WithObserver(events))
		if err != nil {
			return err
		}
		events.sm.Store(sm)
		if !sm.IsAuthenticated() {
			return domain.ErrNotAuthenticated
		}

		unsubscribe := sm.OnForcedLogout(func(ev service.ForcedLogout) {
			cancel(&sessionEnded{event: ev})
		})
		defer unsubscribe()

		h := shutdown.NewHandler(shutdownTimeout)
		if err := rt.serveMetrics(sm, h); err != nil {
			return err
		}
		rt.followConfig(h)
		if rt.certs != nil {
			rt.certs.StartAsync()
			h.OnShutdown(func(context.Context) error {
				rt.certs.Stop()
				return nil
			})
		}

		v := newStatusView(sm, rt.cfg.Store.Backend)
		rt.printer.Notice("Watching session of %s, token expires %s. Press Ctrl+C to stop.",
			displayUser(v.User, "current user"), v.expiry())

		<-ctx.Done()
		shutdownErr := h.Shutdown()

		var ended *sessionEnded
		if errors.As(context.Cause(ctx), &ended) {
			return cli.Exit(fmt.Sprintf("%v; log in again", ended), ExitError)
		}
		rt.printer.Notice("Stopped; the session stays stored.")
		return shutdownErr
	}
}

// serveMetrics exposes the registry on metrics.listen.
func (rt *runtime) serveMetrics(sm *service.SessionManager, h *shutdown.Handler) error {
	if err := rt.metrics.WatchSession(func() metric.SessionSnapshot {
		s := sm.State()
		return metric.SessionSnapshot{
			Authenticated: s.Authenticated(),
			RefreshCount:  s.RefreshCount,
			ExpiresAt:     s.ExpiresAtTime(),
		}
	}); err != nil {
		return fmt.Errorf("register session metrics: %w", err)
	}
	if rt.engine != nil {
		rt.engine.RegisterMetrics(rt.metrics.Registerer())
	}

	listen := rt.cfg.Metrics.Listen
	if listen == "" {
		return nil
	}
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", rt.metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.log.Error("metrics server stopped", "error", err)
		}
	}()
	rt.log.Info("serving metrics", "addr", ln.Addr().String())
	h.OnShutdown(srv.Shutdown)
	return nil
}

// followConfig applies log.level changes from the config file.
func (rt *runtime) followConfig(h *shutdown.Handler) {
	if !fileExists(rt.configPath) {
		return
	}
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(logger.Slog(rt.log)))
	if err != nil {
		rt.log.Warn("config watcher unavailable", "error", err)
		return
	}
	if err := w.Watch(rt.configPath); err != nil {
		rt.log.Warn("config watcher unavailable", "path", rt.configPath, "error", err)
		w.Stop()
		return
	}
	w.OnChange(func(string) {
		cfg, err := config.Load(rt.configPath, rt.overrides)
		if err != nil {
			rt.log.Warn("config reload failed", "error", err)
			return
		}
		if cfg.Log.Level != logger.GetLevel() {
			logger.SetLevel(cfg.Log.Level)
			rt.log.Info("log level changed", "level", cfg.Log.Level)
		}
	})
	w.StartAsync()
	h.OnShutdown(func(context.Context) error { return w.Stop() })
}

// watchObserver prints refresh events and forwards them to the metrics.
type watchObserver struct {
	next    service.Observer
	printer *output.Printer
	sm      atomic.Pointer[service.SessionManager]
}

func (o *watchObserver) LoggedIn() {
	o.next.LoggedIn()
}

func (o *watchObserver) Refreshed(outcome string) {
	o.next.Refreshed(outcome)
	sm := o.sm.Load()
	if outcome != service.OutcomeSuccess || sm == nil {
		return
	}
	s := sm.State()
	o.printer.Notice("%s token refreshed (%d/%d), expires %s",
		time.Now().Format("15:04:05"), s.RefreshCount, domain.MaxRefreshes,
		s.ExpiresAtTime().Local().Format("15:04:05"))
	if s.BudgetExhausted() {
		o.printer.Notice("refresh budget spent; the session ends when this token expires")
	}
}

func (o *watchObserver) ForcedLogout(reason string) {
	o.next.ForcedLogout(reason)
}
