package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestService(t *testing.T) (*Service, *InMemoryUsers) {
	t.Helper()
	SetPasswordCostForTests()
	tokens, err := NewTokens("test-secret", 15*time.Minute)
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	users := NewInMemoryUsers()
	svc, err := NewService(users, tokens)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, err := svc.EnsureUsers(context.Background(), DefaultSeedUsers()); err != nil {
		t.Fatalf("EnsureUsers: %v", err)
	}
	return svc, users
}

func TestLoginAndAuthenticate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, seed := range DefaultSeedUsers() {
		res, err := svc.Login(ctx, strings.ToUpper(seed.Email), seed.Password)
		if err != nil {
			t.Fatalf("Login(%s): %v", seed.Email, err)
		}
		if res.AccessToken == "" {
			t.Fatalf("empty token for %s", seed.Email)
		}
		if string(res.User.Role) != seed.Role {
			t.Fatalf("role mismatch: %s vs %s", res.User.Role, seed.Role)
		}
		sess, err := svc.Authenticate(ctx, res.AccessToken)
		if err != nil {
			t.Fatalf("Authenticate: %v", err)
		}
		if sess.UserID != res.User.ID || sess.Name != seed.Name || string(sess.Role) != seed.Role {
			t.Fatalf("unexpected session: %+v", sess)
		}
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct{ email, password string }{
		{"wrong@example.com", "wrongpassword"},
		{"admin@example.com", "nope"},
		{"", "admin123"},
		{"admin@example.com", ""},
	}
	for _, tc := range cases {
		if _, err := svc.Login(ctx, tc.email, tc.password); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("Login(%q,%q) = %v, want ErrInvalidCredentials", tc.email, tc.password, err)
		}
	}
}

func TestAuthenticateRejectsTamperedAndExpiredTokens(t *testing.T) {
	svc, users := newTestService(t)
	ctx := context.Background()
	res, err := svc.Login(ctx, "developer@example.com", "dev123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := svc.Authenticate(ctx, res.AccessToken+"x"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for tampered token, got %v", err)
	}

	other, err := NewTokens("other-secret", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	u, _ := users.FindByEmail(ctx, "developer@example.com")
	foreign, _, err := other.Issue(u)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Authenticate(ctx, foreign); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign signature, got %v", err)
	}

	later := time.Now().Add(time.Hour)
	expiring, err := NewService(users, svc.tokens, WithClock(func() time.Time { return later }))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := expiring.Authenticate(ctx, res.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestAuthenticateRejectsUnknownRole(t *testing.T) {
	svc, _ := newTestService(t)
	token, _, err := svc.tokens.Issue(User{ID: "ghost", Name: "Ghost", Role: Role("GUEST")})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Authenticate(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestEnsureUsersIsIdempotentAndValidates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	n, err := svc.EnsureUsers(ctx, DefaultSeedUsers())
	if err != nil {
		t.Fatalf("EnsureUsers: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no new users on second seed, got %d", n)
	}

	_, err = svc.EnsureUsers(ctx, []SeedUser{{Email: "x@example.com", Role: "viewer", Password: "pw"}})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad role, got %v", err)
	}
	_, err = svc.EnsureUsers(ctx, []SeedUser{{Email: "no-at-sign", Role: "ADMIN", Password: "pw"}})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad email, got %v", err)
	}
}

func TestNewTokensRequiresSecret(t *testing.T) {
	if _, err := NewTokens("  ", time.Minute); err == nil {
		t.Fatal("expected error for empty secret")
	}
	if _, err := NewTokens("s", 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}
