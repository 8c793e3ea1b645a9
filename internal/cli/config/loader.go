package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yndnr/chatdesk/internal/core/domain"
	"github.com/yndnr/chatdesk/internal/infra/confloader"
	"github.com/yndnr/chatdesk/internal/telemetry/logger"
	"github.com/yndnr/chatdesk/pkg/crypto/adaptive"
)

// DefaultConfigPath returns the default CLI config file path.
func DefaultConfigPath() string {
	return filepath.Join(homeDir(), ".chatdesk", "config.yaml")
}

// DefaultStoreDir returns the default badger directory.
func DefaultStoreDir() string {
	return filepath.Join(homeDir(), ".chatdesk", "credentials")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// Load reads configuration from defaults, the YAML file at path, the
// environment and finally flags (dotted keys). An empty path means the
// default path, which may be absent; an explicit path must exist.
func Load(path string, flags map[string]any) (*CLIConfig, error) {
	return load(path, flags, path != "")
}

// LoadOptional is Load for a file that may not exist yet, as when the
// file is about to be created.
func LoadOptional(path string, flags map[string]any) (*CLIConfig, error) {
	return load(path, flags, false)
}

func load(path string, flags map[string]any, mustExist bool) (*CLIConfig, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	if _, err := os.Stat(path); err != nil {
		if !mustExist && errors.Is(err, fs.ErrNotExist) {
			path = ""
		} else {
			return nil, domain.ErrInvalidConfig.WithDetails("config file").WithCause(err)
		}
	}

	l := confloader.NewLoader(
		confloader.WithConfigFile(path),
		confloader.WithDefaults(defaultMap()),
	)
	cfg := &CLIConfig{}
	if err := l.Load(cfg); err != nil {
		return nil, domain.ErrInvalidConfig.WithCause(err)
	}
	if len(flags) > 0 {
		if err := l.LoadMap(flags); err != nil {
			return nil, domain.ErrInvalidConfig.WithCause(err)
		}
		if err := l.Unmarshal(cfg); err != nil {
			return nil, domain.ErrInvalidConfig.WithCause(err)
		}
	}

	cfg.Store.Dir = ExpandHome(cfg.Store.Dir)
	cfg.HTTP.TLS.CAFile = ExpandHome(cfg.HTTP.TLS.CAFile)
	cfg.HTTP.TLS.CertFile = ExpandHome(cfg.HTTP.TLS.CertFile)
	cfg.HTTP.TLS.KeyFile = ExpandHome(cfg.HTTP.TLS.KeyFile)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as YAML with owner-only permissions.
func Save(cfg *CLIConfig, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate rejects settings the client cannot run with.
func (c *CLIConfig) Validate() error {
	for name, raw := range map[string]string{"auth_url": c.AuthURL, "chat_url": c.ChatURL, "docs_url": c.DocsURL} {
		if err := validateURL(raw); err != nil {
			return domain.ErrInvalidConfig.WithDetails(name + ": " + err.Error())
		}
	}

	switch c.Output {
	case "table", "json", "yaml":
	default:
		return domain.ErrInvalidConfig.WithDetails(fmt.Sprintf("output: unknown format %q", c.Output))
	}

	if c.HTTP.Timeout <= 0 {
		return domain.ErrInvalidConfig.WithDetails("http.timeout must be positive")
	}
	if c.HTTP.RateLimit < 0 || c.HTTP.Burst < 0 {
		return domain.ErrInvalidConfig.WithDetails("http.rate_limit and http.burst must not be negative")
	}
	if (c.HTTP.TLS.CertFile == "") != (c.HTTP.TLS.KeyFile == "") {
		return domain.ErrInvalidConfig.WithDetails("http.tls.cert_file and http.tls.key_file must be set together")
	}

	switch c.Store.Backend {
	case BackendBadger:
		if c.Store.Dir == "" {
			return domain.ErrInvalidConfig.WithDetails("store.dir is required for the badger backend")
		}
	case BackendRedis:
		if c.Store.Redis.Addr == "" {
			return domain.ErrInvalidConfig.WithDetails("store.redis.addr is required for the redis backend")
		}
	case BackendMemory:
	default:
		return domain.ErrInvalidConfig.WithDetails(fmt.Sprintf("store.backend: unknown backend %q", c.Store.Backend))
	}

	enc := c.Store.Encryption
	if enc.Passphrase != "" && enc.Key != "" {
		return domain.ErrInvalidConfig.WithDetails("store.encryption: set passphrase or key, not both")
	}
	if _, err := adaptive.ParseCipherType(enc.Algorithm); err != nil {
		return domain.ErrInvalidConfig.WithDetails("store.encryption.algorithm").WithCause(err)
	}

	if !logger.ValidLevel(c.Log.Level) {
		return domain.ErrInvalidConfig.WithDetails(fmt.Sprintf("log.level: unknown level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return domain.ErrInvalidConfig.WithDetails(fmt.Sprintf("log.format: unknown format %q", c.Log.Format))
	}
	return nil
}

func validateURL(raw string) error {
	if raw == "" {
		return errors.New("must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" {
		return homeDir()
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}
