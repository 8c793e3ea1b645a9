package config

import (
	"time"

	"github.com/yndnr/chatdesk/pkg/token"
)

// Store backends.
const (
	BackendBadger = "badger"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// CLIConfig is the configuration for chatdesk.
type CLIConfig struct {
	AuthURL string `koanf:"auth_url" yaml:"auth_url"`
	ChatURL string `koanf:"chat_url" yaml:"chat_url"`
	DocsURL string `koanf:"docs_url" yaml:"docs_url"`

	Output string `koanf:"output" yaml:"output"` // table, json, yaml

	HTTP    HTTPConfig    `koanf:"http" yaml:"http"`
	Store   StoreConfig   `koanf:"store" yaml:"store"`
	Log     LogConfig     `koanf:"log" yaml:"log"`
	Metrics MetricsConfig `koanf:"metrics" yaml:"metrics"`
}

// HTTPConfig bounds outgoing requests.
type HTTPConfig struct {
	Timeout   time.Duration `koanf:"timeout" yaml:"timeout"`
	RateLimit float64       `koanf:"rate_limit" yaml:"rate_limit"` // requests/s, 0 = unlimited
	Burst     int           `koanf:"burst" yaml:"burst"`
	TLS       TLSConfig     `koanf:"tls" yaml:"tls"`
}

// TLSConfig adds trust roots and a client certificate for https endpoints.
type TLSConfig struct {
	CAFile   string `koanf:"ca_file" yaml:"ca_file,omitempty"`
	CertFile string `koanf:"cert_file" yaml:"cert_file,omitempty"`
	KeyFile  string `koanf:"key_file" yaml:"key_file,omitempty"`
}

// StoreConfig selects and configures the credential store.
type StoreConfig struct {
	Backend    string           `koanf:"backend" yaml:"backend"`
	Dir        string           `koanf:"dir" yaml:"dir"`
	Encryption EncryptionConfig `koanf:"encryption" yaml:"encryption"`
	Redis      RedisConfig      `koanf:"redis" yaml:"redis"`
}

// EncryptionConfig enables at-rest encryption of the badger store.
// Set either Passphrase or Key (hex or base64, 32 bytes).
type EncryptionConfig struct {
	Passphrase string `koanf:"passphrase" yaml:"passphrase"`
	Key        string `koanf:"key" yaml:"key"`
	Algorithm  string `koanf:"algorithm" yaml:"algorithm"` // aes-gcm, chacha20-poly1305, auto
}

// RedisConfig configures the redis store.
type RedisConfig struct {
	Addr     string `koanf:"addr" yaml:"addr"`
	Password string `koanf:"password" yaml:"password"`
	DB       int    `koanf:"db" yaml:"db"`
	Prefix   string `koanf:"prefix" yaml:"prefix"`
}

// LogConfig configures diagnostics on stderr.
type LogConfig struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint of `session watch`.
type MetricsConfig struct {
	Listen string `koanf:"listen" yaml:"listen"` // empty = disabled
}

// Default returns the default CLI configuration.
func Default() *CLIConfig {
	return &CLIConfig{
		AuthURL: "http://localhost:8000",
		ChatURL: "http://localhost:8001",
		DocsURL: "http://localhost:8002",
		Output:  "table",
		HTTP: HTTPConfig{
			Timeout:   30 * time.Second,
			RateLimit: 10,
			Burst:     5,
		},
		Store: StoreConfig{
			Backend: BackendBadger,
			Dir:     DefaultStoreDir(),
			Encryption: EncryptionConfig{
				Algorithm: "aes-gcm",
			},
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "chatdesk",
			},
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// defaultMap returns Default() as dotted koanf keys.
func defaultMap() map[string]any {
	d := Default()
	return map[string]any{
		"auth_url":                   d.AuthURL,
		"chat_url":                   d.ChatURL,
		"docs_url":                   d.DocsURL,
		"output":                     d.Output,
		"http.timeout":               d.HTTP.Timeout.String(),
		"http.rate_limit":            d.HTTP.RateLimit,
		"http.burst":                 d.HTTP.Burst,
		"store.backend":              d.Store.Backend,
		"store.dir":                  d.Store.Dir,
		"store.encryption.algorithm": d.Store.Encryption.Algorithm,
		"store.redis.addr":           d.Store.Redis.Addr,
		"store.redis.db":             d.Store.Redis.DB,
		"store.redis.prefix":         d.Store.Redis.Prefix,
		"log.level":                  d.Log.Level,
		"log.format":                 d.Log.Format,
		"metrics.listen":             d.Metrics.Listen,
	}
}

// Redacted returns a copy with secrets masked, for display.
func (c *CLIConfig) Redacted() *CLIConfig {
	cp := *c
	cp.Store.Encryption.Passphrase = maskSecret(cp.Store.Encryption.Passphrase)
	cp.Store.Encryption.Key = maskSecret(cp.Store.Encryption.Key)
	cp.Store.Redis.Password = maskSecret(cp.Store.Redis.Password)
	return &cp
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	return token.Mask(s)
}
