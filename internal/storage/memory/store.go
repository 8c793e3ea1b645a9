package memory

import (
	"context"
	"sync"

	"github.com/yndnr/chatdesk/internal/core/domain"
	"github.com/yndnr/chatdesk/internal/storage"
)

// Operation names accepted by FailOn and reported by Calls.
const (
	OpLoad         = "load"
	OpSave         = "save"
	OpUpdateTokens = "update_tokens"
	OpBump         = "bump_refresh_count"
	OpClear        = "clear"
)

// Store is a mutex-guarded CredentialStore keyed by the four logical keys.
type Store struct {
	mu     sync.Mutex
	values map[string]string
	calls  map[string]int
	fail   map[string]error
}

var _ storage.CredentialStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		values: make(map[string]string),
		calls:  make(map[string]int),
		fail:   make(map[string]error),
	}
}

// FailOn makes every subsequent call of op return err. A nil err clears it.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, op)
		return
	}
	s.fail[op] = err
}

// Calls returns how many times op has been invoked.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Raw returns the stored string for a logical key, and whether it is set.
func (s *Store) Raw(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// Len returns the number of keys currently stored.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values)
}

// Load implements storage.CredentialStore.
func (s *Store) Load(_ context.Context) (domain.TokenState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpLoad); err != nil {
		return domain.TokenState{}, err
	}
	return storage.StateFromValues(s.values), nil
}

// Save implements storage.CredentialStore.
func (s *Store) Save(_ context.Context, state domain.TokenState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpSave); err != nil {
		return err
	}
	s.writeTokens(state)
	s.values[storage.KeyRefreshCount] = storage.FormatInt(0)
	return nil
}

// UpdateTokens implements storage.CredentialStore.
func (s *Store) UpdateTokens(_ context.Context, state domain.TokenState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpUpdateTokens); err != nil {
		return err
	}
	s.writeTokens(state)
	return nil
}

// BumpRefreshCount implements storage.CredentialStore.
func (s *Store) BumpRefreshCount(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpBump); err != nil {
		return 0, err
	}
	next := storage.ParseInt(s.values[storage.KeyRefreshCount]) + 1
	s.values[storage.KeyRefreshCount] = storage.FormatInt(next)
	return int(next), nil
}

// Clear implements storage.CredentialStore.
func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpClear); err != nil {
		return err
	}
	for _, key := range storage.CredentialKeys {
		delete(s.values, key)
	}
	return nil
}

// enter records the call and returns the injected failure, if any.
// Callers hold s.mu.
func (s *Store) enter(op string) error {
	s.calls[op]++
	if err := s.fail[op]; err != nil {
		return storage.StorageError(op, err)
	}
	return nil
}

func (s *Store) writeTokens(state domain.TokenState) {
	for key, value := range storage.TokenValues(state) {
		if value == nil {
			delete(s.values, key)
			continue
		}
		s.values[key] = *value
	}
}
