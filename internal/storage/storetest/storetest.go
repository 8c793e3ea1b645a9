// Package storetest holds the behavioural checks every CredentialStore
// backend must pass.
package storetest

import (
	"context"
	"sync"
	"testing"

	"github.com/yndnr/chatdesk/internal/core/domain"
	"github.com/yndnr/chatdesk/internal/storage"
)

// Run exercises store against the CredentialStore contract. newStore must
// return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) storage.CredentialStore) {
	t.Helper()
	ctx := context.Background()

	full := domain.TokenState{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    1_700_000_000_000,
		RefreshCount: 2,
	}

	t.Run("load empty", func(t *testing.T) {
		s := newStore(t)
		got, err := s.Load(ctx)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if got != (domain.TokenState{}) {
			t.Errorf("Load() = %+v, want zero state", got)
		}
	})

	t.Run("save then load forces count 0", func(t *testing.T) {
		s := newStore(t)
		if err := s.Save(ctx, full); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		got, err := s.Load(ctx)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		want := full
		want.RefreshCount = 0
		if got != want {
			t.Errorf("Load() = %+v, want %+v", got, want)
		}
	})

	t.Run("save overwrites without merge", func(t *testing.T) {
		s := newStore(t)
		if err := s.Save(ctx, full); err != nil {
			t.Fatal(err)
		}
		if err := s.Save(ctx, domain.TokenState{AccessToken: "only-access"}); err != nil {
			t.Fatal(err)
		}
		got, _ := s.Load(ctx)
		if got != (domain.TokenState{AccessToken: "only-access"}) {
			t.Errorf("Load() = %+v, want only the access token", got)
		}
	})

	t.Run("bump increments and returns new count", func(t *testing.T) {
		s := newStore(t)
		if err := s.Save(ctx, full); err != nil {
			t.Fatal(err)
		}
		for want := 1; want <= 3; want++ {
			n, err := s.BumpRefreshCount(ctx)
			if err != nil {
				t.Fatalf("BumpRefreshCount() error = %v", err)
			}
			if n != want {
				t.Errorf("BumpRefreshCount() = %d, want %d", n, want)
			}
		}
		got, _ := s.Load(ctx)
		if got.RefreshCount != 3 {
			t.Errorf("stored count = %d, want 3", got.RefreshCount)
		}
	})

	t.Run("bump on empty store starts at 1", func(t *testing.T) {
		s := newStore(t)
		n, err := s.BumpRefreshCount(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Errorf("BumpRefreshCount() = %d, want 1", n)
		}
	})

	t.Run("update tokens keeps count", func(t *testing.T) {
		s := newStore(t)
		if err := s.Save(ctx, full); err != nil {
			t.Fatal(err)
		}
		if _, err := s.BumpRefreshCount(ctx); err != nil {
			t.Fatal(err)
		}
		next := domain.TokenState{AccessToken: "access-2", RefreshToken: "refresh-2", ExpiresAt: 1_700_000_999_000, RefreshCount: 99}
		if err := s.UpdateTokens(ctx, next); err != nil {
			t.Fatalf("UpdateTokens() error = %v", err)
		}
		got, _ := s.Load(ctx)
		want := next
		want.RefreshCount = 1
		if got != want {
			t.Errorf("Load() = %+v, want %+v", got, want)
		}
	})

	t.Run("clear removes all keys and is idempotent", func(t *testing.T) {
		s := newStore(t)
		if err := s.Save(ctx, full); err != nil {
			t.Fatal(err)
		}
		if _, err := s.BumpRefreshCount(ctx); err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 2; i++ {
			if err := s.Clear(ctx); err != nil {
				t.Fatalf("Clear() #%d error = %v", i+1, err)
			}
		}
		got, _ := s.Load(ctx)
		if got != (domain.TokenState{}) {
			t.Errorf("Load() after Clear = %+v", got)
		}
	})

	t.Run("concurrent bumps are atomic", func(t *testing.T) {
		s := newStore(t)
		const workers = 16
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.BumpRefreshCount(ctx); err != nil {
					t.Errorf("BumpRefreshCount() error = %v", err)
				}
			}()
		}
		wg.Wait()
		got, _ := s.Load(ctx)
		if got.RefreshCount != workers {
			t.Errorf("count = %d, want %d", got.RefreshCount, workers)
		}
	})
}
