package auth

import (
	"context"
	"testing"
	"time"
)

func TestSessionContextRoundTrip(t *testing.T) {
	if _, ok := SessionFromContext(context.Background()); ok {
		t.Fatal("expected no session in empty context")
	}
	ctx := ContextWithSession(context.Background(), Session{UserID: "u-7", Name: "Kim", Role: RoleMaster})
	got, ok := SessionFromContext(ctx)
	if !ok || got.UserID != "u-7" || got.Role != RoleMaster {
		t.Fatalf("unexpected session: %+v ok=%v", got, ok)
	}
	if !got.Can(CapSearchProjects) {
		t.Fatal("master should search")
	}

	anon := ContextWithSession(context.Background(), Session{Role: RoleAdmin})
	if _, ok := SessionFromContext(anon); ok {
		t.Fatal("session without user id must not count as authenticated")
	}
}

func TestSessionExpired(t *testing.T) {
	now := time.Now()
	s := Session{UserID: "u", ExpiresAt: now.Add(time.Minute)}
	if s.Expired(now) {
		t.Fatal("session should still be valid")
	}
	if !s.Expired(now.Add(2 * time.Minute)) {
		t.Fatal("session should be expired")
	}
	if (Session{UserID: "u"}).Expired(now) {
		t.Fatal("zero expiry never expires")
	}
}
