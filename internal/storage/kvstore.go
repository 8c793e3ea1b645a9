package storage

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/yndnr/chatdesk/internal/core/domain"
)

// DefaultKeyPrefix namespaces credential keys inside the KV engine.
const DefaultKeyPrefix = "chatdesk/credentials/"

// KVStore implements CredentialStore over a KVEngine.
//
// Multi-key writes and the refresh counter run inside a single engine
// transaction. Values are optionally sealed at rest.
type KVStore struct {
	engine KVEngine
	sealer *Sealer
	prefix string
	logger *slog.Logger
}

// KVStoreOption configures a KVStore.
type KVStoreOption func(*KVStore)

// WithSealer encrypts every stored value.
func WithSealer(s *Sealer) KVStoreOption {
	return func(k *KVStore) { k.sealer = s }
}

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) KVStoreOption {
	return func(k *KVStore) { k.prefix = prefix }
}

// WithStoreLogger sets the logger.
func WithStoreLogger(logger *slog.Logger) KVStoreOption {
	return func(k *KVStore) { k.logger = logger }
}

// NewKVStore creates a credential store on top of engine. The engine is
// not owned by the store; the caller closes it.
func NewKVStore(engine KVEngine, opts ...KVStoreOption) *KVStore {
	s := &KVStore{
		engine: engine,
		prefix: DefaultKeyPrefix,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ CredentialStore = (*KVStore)(nil)

// Load implements CredentialStore.
func (s *KVStore) Load(ctx context.Context) (domain.TokenState, error) {
	values := make(map[string]string, len(CredentialKeys))
	var openErr error

	err := s.engine.Scan(ctx, []byte(s.prefix), func(key, value []byte) bool {
		name := strings.TrimPrefix(string(key), s.prefix)
		plain, err := s.sealer.Open(name, value)
		if err != nil {
			openErr = err
			return false
		}
		values[name] = string(plain)
		return true
	})
	if err == nil {
		err = openErr
	}
	if err != nil {
		return domain.TokenState{}, StorageError("load", err)
	}
	return StateFromValues(values), nil
}

// Save implements CredentialStore.
func (s *KVStore) Save(ctx context.Context, state domain.TokenState) error {
	err := s.engine.Update(ctx, func(txn KVTxn) error {
		if err := s.writeTokens(txn, state); err != nil {
			return err
		}
		return s.put(txn, KeyRefreshCount, FormatInt(0))
	})
	if err != nil {
		return StorageError("save", err)
	}
	s.logger.Debug("credentials saved", "sealed", s.sealer != nil)
	return nil
}

// UpdateTokens implements CredentialStore.
func (s *KVStore) UpdateTokens(ctx context.Context, state domain.TokenState) error {
	err := s.engine.Update(ctx, func(txn KVTxn) error {
		return s.writeTokens(txn, state)
	})
	if err != nil {
		return StorageError("update tokens", err)
	}
	return nil
}

// BumpRefreshCount implements CredentialStore.
func (s *KVStore) BumpRefreshCount(ctx context.Context) (int, error) {
	var next int64
	err := s.engine.Update(ctx, func(txn KVTxn) error {
		var current int64
		raw, err := txn.Get(s.key(KeyRefreshCount))
		switch {
		case err == nil:
			plain, err := s.sealer.Open(KeyRefreshCount, raw)
			if err != nil {
				return err
			}
			current = ParseInt(string(plain))
		case !errors.Is(err, ErrKeyNotFound):
			return err
		}
		next = current + 1
		return s.put(txn, KeyRefreshCount, FormatInt(next))
	})
	if err != nil {
		return 0, StorageError("bump refresh count", err)
	}
	return int(next), nil
}

// Clear implements CredentialStore.
func (s *KVStore) Clear(ctx context.Context) error {
	err := s.engine.Update(ctx, func(txn KVTxn) error {
		for _, name := range CredentialKeys {
			if err := txn.Delete(s.key(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return StorageError("clear", err)
	}
	s.logger.Debug("credentials cleared")
	return nil
}

func (s *KVStore) writeTokens(txn KVTxn, state domain.TokenState) error {
	for name, value := range TokenValues(state) {
		if value == nil {
			if err := txn.Delete(s.key(name)); err != nil {
				return err
			}
			continue
		}
		if err := s.put(txn, name, *value); err != nil {
			return err
		}
	}
	return nil
}

func (s *KVStore) put(txn KVTxn, name, value string) error {
	sealed, err := s.sealer.Seal(name, []byte(value))
	if err != nil {
		return err
	}
	return txn.Set(s.key(name), sealed)
}

func (s *KVStore) key(name string) []byte {
	return []byte(s.prefix + name)
}
