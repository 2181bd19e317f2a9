package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"genaiportal.org/internal/ids"
)

// Service authenticates users and resolves sessions from bearer tokens.
type Service struct {
	users  UserStore
	tokens *Tokens
	now    func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
			s.tokens.now = fn
		}
	}
}

// NewService constructs Service with optional configuration.
func NewService(users UserStore, tokens *Tokens, opts ...ServiceOption) (*Service, error) {
	if users == nil {
		return nil, errors.New("user store is required")
	}
	if tokens == nil {
		return nil, errors.New("token signer is required")
	}
	svc := &Service{users: users, tokens: tokens, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        Public    `json:"user"`
}

// Login checks credentials and issues an access token. Every credential failure is
// reported as ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return LoginResult{}, ErrInvalidCredentials
	}
	u, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return LoginResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return LoginResult{}, err
	}
	if err := VerifyPassword(u.PasswordHash, password); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}
	token, expires, err := s.tokens.Issue(u)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{AccessToken: token, ExpiresAt: expires, User: u.Public()}, nil
}

// Authenticate verifies token and returns the session it encodes. Sessions whose role
// is no longer recognised are rejected.
func (s *Service) Authenticate(_ context.Context, token string) (Session, error) {
	sess, err := s.tokens.Parse(token)
	if err != nil {
		return Session{}, err
	}
	if !sess.Role.Valid() {
		return Session{}, ErrInvalidToken
	}
	return sess, nil
}

// EnsureUsers provisions seed accounts, skipping emails that already exist.
func (s *Service) EnsureUsers(ctx context.Context, seeds []SeedUser) (int, error) {
	return EnsureUsers(ctx, s.users, seeds, s.now().UTC())
}

// EnsureUsers provisions seed accounts in users, skipping emails that already exist. It
// reports how many accounts were created.
func EnsureUsers(ctx context.Context, users UserStore, seeds []SeedUser, now time.Time) (int, error) {
	created := 0
	for _, seed := range seeds {
		email := normalizeEmail(seed.Email)
		if email == "" || !strings.Contains(email, "@") {
			return created, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
		}
		role := ParseRole(seed.Role)
		if !role.Valid() {
			return created, fmt.Errorf("%w: unsupported role %q for %s", ErrInvalidInput, seed.Role, email)
		}
		if _, err := users.FindByEmail(ctx, email); err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return created, err
		}
		hash, err := HashPassword(seed.Password)
		if err != nil {
			return created, fmt.Errorf("%w: %s: %v", ErrInvalidInput, email, err)
		}
		name := strings.TrimSpace(seed.Name)
		if name == "" {
			name = email
		}
		_, err = users.Create(ctx, User{
			ID:           ids.New(),
			Email:        email,
			Name:         name,
			Role:         role,
			PasswordHash: hash,
			CreatedAt:    now,
		})
		if err != nil && !errors.Is(err, ErrAlreadyExists) {
			return created, err
		}
		if err == nil {
			created++
		}
	}
	return created, nil
}

// DefaultSeedUsers mirrors the fixture accounts the portal has always shipped with.
func DefaultSeedUsers() []SeedUser {
	return []SeedUser{
		{Email: "admin@example.com", Name: "Admin User", Role: string(RoleAdmin), Password: "admin123"},
		{Email: "developer@example.com", Name: "Developer User", Role: string(RoleDeveloper), Password: "dev123"},
		{Email: "master@example.com", Name: "Master User", Role: string(RoleMaster), Password: "master123"},
	}
}
