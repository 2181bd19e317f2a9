package auth

import (
	"context"
	"strings"
	"time"
)

// Session is the authenticated caller. It is created at login, carried explicitly into
// every policy and lifecycle call, and discarded at logout.
type Session struct {
	UserID    string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Role      Role      `json:"role"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Authenticated reports whether the session identifies a user.
func (s Session) Authenticated() bool {
	return strings.TrimSpace(s.UserID) != ""
}

// Can reports whether the session's role holds capability.
func (s Session) Can(capability Capability) bool {
	return s.Authenticated() && Allows(s.Role, capability)
}

// Expired reports whether the session's token is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

type sessionContextKey struct{}

// ContextWithSession attaches the authenticated session to the context.
func ContextWithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, &s)
}

// SessionFromContext extracts the authenticated session from the context.
func SessionFromContext(ctx context.Context) (Session, bool) {
	if ctx == nil {
		return Session{}, false
	}
	v, ok := ctx.Value(sessionContextKey{}).(*Session)
	if !ok || v == nil || !v.Authenticated() {
		return Session{}, false
	}
	return *v, true
}
