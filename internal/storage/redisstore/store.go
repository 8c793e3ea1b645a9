package redisstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/yndnr/chatdesk/internal/core/domain"
	"github.com/yndnr/chatdesk/internal/storage"
)

// ErrRedisUnavailable wraps connection-level failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// DefaultPrefix is the key namespace when none is configured.
const DefaultPrefix = "chatdesk"

// Config configures the Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Store implements storage.CredentialStore on Redis.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
	logger *slog.Logger
	owned  bool
}

var _ storage.CredentialStore = (*Store)(nil)

// Open dials Redis, verifies the connection with PING and returns a store
// that owns the client.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	s := New(rdb, cfg.Prefix, logger)
	s.owned = true
	return s, nil
}

// New wraps an existing client. The caller keeps ownership of rdb.
func New(rdb redis.UniversalClient, prefix string, logger *slog.Logger) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{rdb: rdb, prefix: prefix, logger: logger}
}

// Close releases the client if the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.rdb.Close()
}

func (s *Store) key(name string) string {
	return s.prefix + ":credentials:" + name
}

func (s *Store) keys() []string {
	keys := make([]string, len(storage.CredentialKeys))
	for i, name := range storage.CredentialKeys {
		keys[i] = s.key(name)
	}
	return keys
}

// Load implements storage.CredentialStore with a single MGET.
func (s *Store) Load(ctx context.Context) (domain.TokenState, error) {
	raw, err := s.rdb.MGet(ctx, s.keys()...).Result()
	if err != nil {
		return domain.TokenState{}, storage.StorageError("load", fmt.Errorf("%w: %v", ErrRedisUnavailable, err))
	}

	values := make(map[string]string, len(raw))
	for i, v := range raw {
		if str, ok := v.(string); ok {
			values[storage.CredentialKeys[i]] = str
		}
	}
	return storage.StateFromValues(values), nil
}

// Save implements storage.CredentialStore.
func (s *Store) Save(ctx context.Context, state domain.TokenState) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.writeTokens(ctx, pipe, state)
		pipe.Set(ctx, s.key(storage.KeyRefreshCount), storage.FormatInt(0), 0)
		return nil
	})
	if err != nil {
		return storage.StorageError("save", fmt.Errorf("%w: %v", ErrRedisUnavailable, err))
	}
	s.logger.Debug("credentials saved", "backend", "redis")
	return nil
}

// UpdateTokens implements storage.CredentialStore.
func (s *Store) UpdateTokens(ctx context.Context, state domain.TokenState) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.writeTokens(ctx, pipe, state)
		return nil
	})
	if err != nil {
		return storage.StorageError("update tokens", fmt.Errorf("%w: %v", ErrRedisUnavailable, err))
	}
	return nil
}

// BumpRefreshCount implements storage.CredentialStore with INCR.
func (s *Store) BumpRefreshCount(ctx context.Context) (int, error) {
	n, err := s.rdb.Incr(ctx, s.key(storage.KeyRefreshCount)).Result()
	if err != nil {
		return 0, storage.StorageError("bump refresh count", fmt.Errorf("%w: %v", ErrRedisUnavailable, err))
	}
	return int(n), nil
}

// Clear implements storage.CredentialStore.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.keys()...).Err(); err != nil {
		return storage.StorageError("clear", fmt.Errorf("%w: %v", ErrRedisUnavailable, err))
	}
	s.logger.Debug("credentials cleared", "backend", "redis")
	return nil
}

func (s *Store) writeTokens(ctx context.Context, pipe redis.Pipeliner, state domain.TokenState) {
	for name, value := range storage.TokenValues(state) {
		if value == nil {
			pipe.Del(ctx, s.key(name))
			continue
		}
		pipe.Set(ctx, s.key(name), *value, 0)
	}
}
