package portal_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"genaiportal.org/internal/auth"
	"genaiportal.org/internal/config"
	"genaiportal.org/internal/events"
	"genaiportal.org/internal/httpapi"
	"genaiportal.org/internal/playground"
	"genaiportal.org/internal/portal"
	"genaiportal.org/internal/project"
)

func startServer(t *testing.T) string {
	t.Helper()
	auth.SetPasswordCostForTests()
	tokens, err := auth.NewTokens("client-test-secret", time.Hour)
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	authSvc, err := auth.NewService(auth.NewInMemoryUsers(), tokens)
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}
	if _, err := authSvc.EnsureUsers(context.Background(), auth.DefaultSeedUsers()); err != nil {
		t.Fatalf("seed users: %v", err)
	}
	bus := events.New(8)
	api := httpapi.New(httpapi.Options{
		Version:   "test",
		Auth:      authSvc,
		Projects:  project.NewService(project.NewInMemory(), project.WithNotifier(bus)),
		Events:    bus,
		Chat:      playground.Build(playground.DefaultModels(), "", ""),
		RateLimit: config.RateLimit{RPS: 1000, Burst: 1000, LoginRPS: 1000, LoginBurst: 1000},
	})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

func newClient(t *testing.T, base string) *portal.Client {
	t.Helper()
	c, err := portal.New(base)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func loggedIn(t *testing.T, base, email, password string) *portal.Client {
	t.Helper()
	c := newClient(t, base)
	if _, err := c.Login(context.Background(), email, password); err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
	return c
}

func fields(title string) project.Fields {
	return project.Fields{
		Title:           title,
		Model:           "Claude 3.5 Sonnet",
		Registrant:      "Kim",
		Department:      "Legal",
		ProjectManager:  "Lee",
		Developers:      "Park",
		Description:     "Clause extraction",
		UsagePlan:       "On demand",
		ExpectedEffects: "Shorter reviews",
		Duration:        "6 months",
	}
}

func TestClientLifecycle(t *testing.T) {
	base := startServer(t)
	ctx := context.Background()
	dev := loggedIn(t, base, "developer@example.com", "dev123")
	master := loggedIn(t, base, "master@example.com", "master123")

	p, err := dev.CreateProject(ctx, fields("Clause extractor"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if n, err := dev.CountOwn(ctx); err != nil || n != 1 {
		t.Fatalf("count own: %d, %v", n, err)
	}

	pending, err := master.ListPending(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending: %v, %v", pending, err)
	}

	decided, err := master.Decide(ctx, p.ID, project.StatusRejected, "out of scope")
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decided.Status != project.StatusRejected || decided.StatusMessage != "out of scope" {
		t.Fatalf("unexpected decision: %+v", decided)
	}

	_, err = master.Decide(ctx, p.ID, project.StatusApproved, "reconsidered")
	if !errors.Is(err, project.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if portal.Retryable(err) {
		t.Fatalf("lifecycle errors must not be retryable")
	}
	var apiErr *portal.APIError
	if !errors.As(err, &apiErr) || apiErr.RequestID == "" || apiErr.Code != "invalid_transition" {
		t.Fatalf("expected APIError with request id, got %#v", err)
	}

	got, err := dev.GetProject(ctx, p.ID)
	if err != nil || got.Status != project.StatusRejected {
		t.Fatalf("get: %+v, %v", got, err)
	}

	found, err := master.Search(ctx, project.Query{Keyword: "clause", Status: project.StatusRejected})
	if err != nil || len(found) != 1 {
		t.Fatalf("search: %v, %v", found, err)
	}
}

func TestClientDrafts(t *testing.T) {
	base := startServer(t)
	ctx := context.Background()
	dev := loggedIn(t, base, "developer@example.com", "dev123")

	d, err := dev.SaveDraft(ctx, project.DraftInput{Fields: project.Fields{Title: "later"}})
	if err != nil {
		t.Fatalf("save draft: %v", err)
	}
	drafts, err := dev.ListDrafts(ctx)
	if err != nil || len(drafts) != 1 {
		t.Fatalf("list drafts: %v, %v", drafts, err)
	}

	if _, err := dev.PromoteDraft(ctx, d.ID, project.DraftInput{}); !errors.Is(err, project.ErrValidation) {
		t.Fatalf("expected ErrValidation for incomplete draft, got %v", err)
	}
	p, err := dev.PromoteDraft(ctx, d.ID, project.DraftInput{Fields: fields("now")})
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if p.Title != "now" {
		t.Fatalf("unexpected promoted title %q", p.Title)
	}
	if err := dev.DeleteDraft(ctx, d.ID); !errors.Is(err, project.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after promotion, got %v", err)
	}
}

func TestClientPlayground(t *testing.T) {
	base := startServer(t)
	dev := loggedIn(t, base, "developer@example.com", "dev123")

	res, err := dev.Chat(context.Background(), playground.Request{Model: "Jamba", Message: "hi"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if len(res.ConversationHistory) != 2 || res.Model != "Jamba" {
		t.Fatalf("unexpected chat response: %+v", res)
	}
	models, err := dev.Models(context.Background())
	if err != nil || len(models) != 4 {
		t.Fatalf("models: %v, %v", models, err)
	}
}

func TestClientLoginLogout(t *testing.T) {
	base := startServer(t)
	ctx := context.Background()
	c := newClient(t, base)

	if _, err := c.Login(ctx, "developer@example.com", "nope"); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}

	sess, err := c.Login(ctx, "developer@example.com", "dev123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if sess.Role != auth.RoleDeveloper || sess.Token == "" {
		t.Fatalf("unexpected session: %+v", sess)
	}

	id, err := c.Verify(ctx)
	if err != nil || id.Role != auth.RoleDeveloper || len(id.Capabilities) == 0 {
		t.Fatalf("verify: %+v, %v", id, err)
	}

	other := newClient(t, base)
	resumed, err := other.Resume(ctx, sess.Token)
	if err != nil || resumed.UserID != sess.UserID {
		t.Fatalf("resume: %+v, %v", resumed, err)
	}

	c.Logout()
	if _, ok := c.Session(); ok {
		t.Fatalf("expected no session after logout")
	}
	if _, err := c.ListOwn(ctx); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated after logout, got %v", err)
	}
}

// countingServer records how many requests reach it.
func countingServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/v1/auth/login" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"t","expires_at":"2999-01-01T00:00:00Z","user":{"id":"u1","name":"Admin","email":"a@example.com","role":"ADMIN"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestClientPolicyCheckedBeforeNetwork(t *testing.T) {
	srv, hits := countingServer(t, http.StatusOK, `[]`)
	ctx := context.Background()
	c := newClient(t, srv.URL)

	if _, err := c.ListAll(ctx); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("expected no request without a session, got %d", hits.Load())
	}

	if _, err := c.Login(ctx, "a@example.com", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}
	hits.Store(0)

	calls := map[string]func() error{
		"create": func() error { _, err := c.CreateProject(ctx, fields("x")); return err },
		"drafts": func() error { _, err := c.ListDrafts(ctx); return err },
		"own":    func() error { _, err := c.ListOwn(ctx); return err },
		"save": func() error {
			_, err := c.SaveDraft(ctx, project.DraftInput{})
			return err
		},
	}
	for name, call := range calls {
		if err := call(); !errors.Is(err, auth.ErrUnauthorized) {
			t.Fatalf("%s: expected ErrUnauthorized, got %v", name, err)
		}
	}
	if hits.Load() != 0 {
		t.Fatalf("expected denied calls to stay local, got %d requests", hits.Load())
	}

	if _, err := c.ListAll(ctx); err != nil {
		t.Fatalf("allowed call failed: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one request, got %d", hits.Load())
	}
}

func TestClientExpiredSession(t *testing.T) {
	srv, hits := countingServer(t, http.StatusOK, `[]`)
	ctx := context.Background()
	now := time.Date(3000, 1, 1, 0, 0, 0, 0, time.UTC)
	c, err := portal.New(srv.URL, portal.WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := c.Login(ctx, "a@example.com", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}
	hits.Store(0)

	if _, err := c.ListAll(ctx); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for expired session, got %v", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("expected no request with an expired session")
	}
	if _, ok := c.Session(); ok {
		t.Fatalf("expected expired session to be discarded")
	}
}

func TestClientTransportErrorsAreRetryable(t *testing.T) {
	ctx := context.Background()

	srv, _ := countingServer(t, http.StatusInternalServerError, `{"error":"internal error","code":"internal","request_id":"r-1"}`)
	c := newClient(t, srv.URL)
	if _, err := c.Login(ctx, "a@example.com", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}
	_, err := c.ListAll(ctx)
	if !errors.Is(err, portal.ErrTransport) || !portal.Retryable(err) {
		t.Fatalf("expected retryable transport error, got %v", err)
	}
	var apiErr *portal.APIError
	if !errors.As(err, &apiErr) || apiErr.RequestID != "r-1" {
		t.Fatalf("expected request id from body, got %#v", err)
	}

	upstream, _ := countingServer(t, http.StatusBadGateway, `{"success":false,"error":"playground: upstream unavailable","retryable":true}`)
	c = newClient(t, upstream.URL)
	if _, err := c.Login(ctx, "a@example.com", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}
	_, err = c.Chat(ctx, playground.Request{Message: "hi"})
	if !errors.Is(err, playground.ErrUpstream) || !portal.Retryable(err) {
		t.Fatalf("expected retryable upstream error, got %v", err)
	}

	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()
	c = newClient(t, url)
	_, err = c.Login(ctx, "a@example.com", "pw")
	if !errors.Is(err, portal.ErrTransport) || !portal.Retryable(err) {
		t.Fatalf("expected retryable error for unreachable server, got %v", err)
	}
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	for _, base := range []string{"", "ftp://example.com", "://"} {
		if _, err := portal.New(base); err == nil {
			t.Fatalf("%q: expected error", base)
		}
	}
}
