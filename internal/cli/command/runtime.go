package command

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/chatdesk/internal/cli/config"
	"github.com/yndnr/chatdesk/internal/cli/connection"
	"github.com/yndnr/chatdesk/internal/cli/output"
	"github.com/yndnr/chatdesk/internal/core/domain"
	"github.com/yndnr/chatdesk/internal/core/service"
	"github.com/yndnr/chatdesk/internal/infra/tlsroots"
	"github.com/yndnr/chatdesk/internal/storage"
	"github.com/yndnr/chatdesk/internal/storage/memory"
	"github.com/yndnr/chatdesk/internal/storage/redisstore"
	"github.com/yndnr/chatdesk/internal/telemetry/logger"
	"github.com/yndnr/chatdesk/internal/telemetry/metric"
)

// runtime holds what one invocation builds from its configuration. The
// credential store and session manager are opened on first use, so
// commands like `config path` never touch the store.
type runtime struct {
	cfg        *config.CLIConfig
	configPath string
	overrides  map[string]any
	log        logger.Logger
	printer    *output.Printer
	metrics    *metric.Registry
	conns      *connection.Manager
	certs      *tlsroots.Watcher // nil without a client certificate

	in      *bufio.Reader
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
	storeFn storeOpener

	store   storage.CredentialStore
	engine  *storage.BadgerEngine
	closers []func() error
	session *service.SessionManager
}

// storeOpener opens the configured credential store. The returned
// engine is nil for backends other than badger.
type storeOpener func(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (storage.CredentialStore, *storage.BadgerEngine, func() error, error)

// setup loads configuration and builds the logger, printer and clients.
// It runs in the root Before hook.
func (rt *runtime) setup(c *cli.Context) error {
	rt.stdin, rt.stdout, rt.stderr = c.App.Reader, c.App.Writer, c.App.ErrWriter

	rt.configPath = c.String("config")
	rt.overrides = flagOverrides(c)
	load := config.Load
	if creatingConfig(c) {
		load = config.LoadOptional
	}
	cfg, err := load(rt.configPath, rt.overrides)
	if err != nil {
		return err
	}
	rt.cfg = cfg
	if rt.configPath == "" {
		rt.configPath = config.DefaultConfigPath()
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: rt.stderr,
	})
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	logger.SetDefault(log)
	rt.log = log

	format, err := output.ParseFormat(cfg.Output)
	if err != nil {
		return domain.ErrInvalidArgument.WithCause(err)
	}
	rt.printer = output.NewPrinter(rt.stdout, rt.stderr, format, c.Bool("wide"))

	rt.metrics = metric.NewRegistry()
	clientOpts := []connection.ClientOption{
		connection.WithRequestObserver(rt.metrics),
		connection.WithClientLogger(log),
	}
	tlsOpts := tlsroots.Options{
		CAFile:   cfg.HTTP.TLS.CAFile,
		CertFile: cfg.HTTP.TLS.CertFile,
		KeyFile:  cfg.HTTP.TLS.KeyFile,
	}
	if !tlsOpts.Empty() {
		tlsCfg, certs, err := tlsroots.ClientConfig(tlsOpts, tlsroots.WithLogger(logger.Slog(log)))
		if err != nil {
			return domain.ErrInvalidConfig.WithDetails("http.tls").WithCause(err)
		}
		rt.certs = certs
		clientOpts = append(clientOpts, connection.WithTLSConfig(tlsCfg))
	}
	rt.conns = connection.NewManager(
		connection.Endpoints{Auth: cfg.AuthURL, Chat: cfg.ChatURL, Docs: cfg.DocsURL},
		connection.Limits{Timeout: cfg.HTTP.Timeout, RateLimit: cfg.HTTP.RateLimit, Burst: cfg.HTTP.Burst},
		clientOpts...,
	)
	return nil
}

// creatingConfig reports whether the invocation is `config init`, which
// may name a config file that does not exist yet.
func creatingConfig(c *cli.Context) bool {
	args := c.Args().Slice()
	return len(args) >= 2 && (args[0] == "config" || args[0] == "cfg") && args[1] == "init"
}

// flagOverrides maps explicitly set global flags onto config keys.
func flagOverrides(c *cli.Context) map[string]any {
	flags := make(map[string]any)
	for flag, key := range map[string]string{
		"output":    "output",
		"auth-url":  "auth_url",
		"chat-url":  "chat_url",
		"docs-url":  "docs_url",
		"store":     "store.backend",
		"store-dir": "store.dir",
		"log-level": "log.level",
	} {
		if c.IsSet(flag) {
			flags[key] = c.String(flag)
		}
	}
	if c.Bool("verbose") && !c.IsSet("log-level") {
		flags["log.level"] = "debug"
	}
	return flags
}

// Session opens the credential store, builds the session manager and
// resumes the persisted session. Later calls return the same manager;
// extra options only apply to the first call.
func (rt *runtime) Session(ctx context.Context, opts ...service.Option) (*service.SessionManager, error) {
	if rt.session != nil {
		return rt.session, nil
	}

	store, engine, closeStore, err := rt.storeFn(ctx, rt.cfg.Store, logger.Slog(rt.log))
	if err != nil {
		return nil, err
	}
	rt.store, rt.engine = store, engine
	rt.closers = append(rt.closers, closeStore)

	opts = append([]service.Option{
		service.WithLogger(rt.log),
		service.WithObserver(rt.metrics),
	}, opts...)
	sm := service.NewSessionManager(store, rt.conns.Auth(), opts...)
	rt.session = sm
	if err := sm.Resume(ctx); err != nil {
		return nil, err
	}
	return sm, nil
}

// close stops the session manager and closes the store, keeping the
// persisted session for the next invocation.
func (rt *runtime) close() error {
	if rt.session != nil {
		rt.session.Close()
	}
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// openStore builds the credential store for cfg.Backend.
func openStore(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (storage.CredentialStore, *storage.BadgerEngine, func() error, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		s, err := redisstore.Open(ctx, redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}, log)
		if err != nil {
			return nil, nil, nil, domain.ErrStorage.WithDetails("open redis store").WithCause(err)
		}
		return s, nil, s.Close, nil

	case config.BackendMemory:
		return memory.New(), nil, func() error { return nil }, nil

	default:
		engine, err := storage.NewBadgerEngine(storage.DefaultKVConfig(cfg.Dir), log)
		if err != nil {
			return nil, nil, nil, domain.ErrStorage.WithDetails("open credential store").WithCause(err)
		}
		sealer, err := storage.NewSealer(ctx, engine, storage.EncryptionConfig{
			Passphrase: cfg.Encryption.Passphrase,
			Key:        cfg.Encryption.Key,
			Algorithm:  cfg.Encryption.Algorithm,
		})
		if err != nil {
			engine.Close()
			return nil, nil, nil, domain.ErrStorage.WithDetails("credential encryption").WithCause(err)
		}
		return storage.NewKVStore(engine, storage.WithSealer(sealer), storage.WithStoreLogger(log)), engine, engine.Close, nil
	}
}

// readLine reads one line from stdin without the trailing newline.
func (rt *runtime) readLine() (string, error) {
	if rt.in == nil {
		rt.in = bufio.NewReader(rt.stdin)
	}
	line, err := rt.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", err
	}
	return trimNewline(line), nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
