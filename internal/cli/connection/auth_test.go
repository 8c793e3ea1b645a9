package connection

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/yndnr/chatdesk/internal/core/domain"
	"github.com/yndnr/chatdesk/internal/tests/fakeauth"
)

func TestAuthClient_TokenAndRefresh(t *testing.T) {
	srv := fakeauth.New(t)
	client := NewAuthClient(srv.URL)
	ctx := context.Background()

	grant, err := client.Token(ctx, fakeauth.DefaultUser, fakeauth.DefaultPassword)
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if grant.AccessToken == "" || grant.RefreshToken == "" || grant.ExpiresIn != 1800 {
		t.Fatalf("Token() = %+v", grant)
	}
	if sub := (domain.TokenState{AccessToken: grant.AccessToken}).Subject(); sub != fakeauth.DefaultUser {
		t.Errorf("Subject() = %q, want %q", sub, fakeauth.DefaultUser)
	}

	next, err := client.Refresh(ctx, grant.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if next.AccessToken == "" || next.RefreshToken == grant.RefreshToken {
		t.Errorf("Refresh() = %+v, want rotated tokens", next)
	}

	// The rotated-out refresh token is dead.
	if _, err := client.Refresh(ctx, grant.RefreshToken); !errors.Is(err, domain.ErrExchangeFailed) {
		t.Errorf("Refresh(old) error = %v, want ErrExchangeFailed", err)
	}
}

func TestAuthClient_RefreshWithoutRotation(t *testing.T) {
	srv := fakeauth.New(t, fakeauth.WithoutRotation(), fakeauth.WithExpiresIn(0))
	client := NewAuthClient(srv.URL)
	ctx := context.Background()

	grant, err := client.Token(ctx, fakeauth.DefaultUser, fakeauth.DefaultPassword)
	if err != nil {
		t.Fatal(err)
	}
	if grant.ExpiresIn != 0 {
		t.Errorf("ExpiresIn = %d, want omitted", grant.ExpiresIn)
	}
	next, err := client.Refresh(ctx, grant.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if next.RefreshToken != "" {
		t.Errorf("RefreshToken = %q, want omitted", next.RefreshToken)
	}
	if next.Lifetime() != domain.DefaultExpiresIn {
		t.Errorf("Lifetime() = %v, want default", next.Lifetime())
	}
}

func TestAuthClient_InvalidCredentials(t *testing.T) {
	srv := fakeauth.New(t)
	_, err := NewAuthClient(srv.URL).Token(context.Background(), fakeauth.DefaultUser, "nope")
	if !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("Token() error = %v, want ErrInvalidCredentials", err)
	}
	var de *domain.DomainError
	if !errors.As(err, &de) || de.Details != "Incorrect username or password" {
		t.Errorf("details = %+v, want server detail", de)
	}
}

func TestAuthClient_RefreshRejected(t *testing.T) {
	srv := fakeauth.New(t)
	srv.SetRefreshStatus(http.StatusUnauthorized)

	_, err := NewAuthClient(srv.URL).Refresh(context.Background(), "whatever")
	if !errors.Is(err, domain.ErrExchangeFailed) {
		t.Fatalf("Refresh() error = %v, want ErrExchangeFailed", err)
	}
	if srv.RefreshCalls() != 1 {
		t.Errorf("RefreshCalls() = %d, want 1", srv.RefreshCalls())
	}
}

func TestAuthClient_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"truncated", `{"access_token":`},
		{"missing access token", `{"refresh_token":"r2","expires_in":1800}`},
		{"wrong type", `{"access_token":42}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewAuthClient(server.URL).Refresh(context.Background(), "r1")
			if !errors.Is(err, domain.ErrMalformedResponse) {
				t.Errorf("Refresh() error = %v, want ErrMalformedResponse", err)
			}
		})
	}
}

func TestAuthClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewAuthClient(url).Token(context.Background(), "u", "p")
	if !errors.Is(err, domain.ErrExchangeFailed) {
		t.Errorf("Token() error = %v, want ErrExchangeFailed", err)
	}
}

func TestAuthClient_ContextCanceled(t *testing.T) {
	srv := fakeauth.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewAuthClient(srv.URL).Refresh(ctx, "r1")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Refresh() error = %v, want context.Canceled", err)
	}
}
