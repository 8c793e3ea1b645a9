package redisstore

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/yndnr/chatdesk/internal/core/domain"
	"github.com/yndnr/chatdesk/internal/storage"
	"github.com/yndnr/chatdesk/internal/storage/storetest"
)

func newStoreTest(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, "test", nil), mr
}

func TestStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.CredentialStore {
		s, _ := newStoreTest(t)
		return s
	})
}

func TestStore_KeyLayout(t *testing.T) {
	s, mr := newStoreTest(t)
	ctx := context.Background()

	if err := s.Save(ctx, domain.TokenState{AccessToken: "a", RefreshToken: "r", ExpiresAt: 1234}); err != nil {
		t.Fatal(err)
	}

	want := map[string]string{
		"test:credentials:access_token":  "a",
		"test:credentials:refresh_token": "r",
		"test:credentials:expires_at":    "1234",
		"test:credentials:refresh_count": "0",
	}
	for key, value := range want {
		got, err := mr.Get(key)
		if err != nil {
			t.Errorf("key %s missing: %v", key, err)
			continue
		}
		if got != value {
			t.Errorf("%s = %q, want %q", key, got, value)
		}
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Errorf("keys after Clear = %v", keys)
	}
}

func TestStore_RedisDown(t *testing.T) {
	s, mr := newStoreTest(t)
	mr.Close()

	_, err := s.Load(context.Background())
	if !errors.Is(err, domain.ErrStorage) {
		t.Errorf("Load() error = %v, want ErrStorage", err)
	}
	if !errors.Is(err, ErrRedisUnavailable) {
		t.Errorf("Load() error = %v, want ErrRedisUnavailable", err)
	}
}

func TestOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	s, err := Open(ctx, Config{Addr: mr.Addr()}, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if s.prefix != DefaultPrefix {
		t.Errorf("prefix = %q, want %q", s.prefix, DefaultPrefix)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	addr := mr.Addr()
	mr.Close()
	if _, err := Open(ctx, Config{Addr: addr}, nil); !errors.Is(err, ErrRedisUnavailable) {
		t.Errorf("Open() against closed server error = %v", err)
	}
}
