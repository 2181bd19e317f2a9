// Package portal is a Go client for the portal HTTP API. It holds the caller's session
// between Login and Logout and re-applies the role policy before every call, so a
// denied action fails without touching the network.
package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"genaiportal.org/internal/auth"
	"genaiportal.org/internal/playground"
	"genaiportal.org/internal/project"
)

const maxResponseBytes = 4 << 20

// Client talks to one portal API server.
type Client struct {
	base *url.URL
	http *http.Client
	now  func() time.Time

	mu   sync.RWMutex
	sess auth.Session
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithClock overrides the time source used for session expiry checks.
func WithClock(fn func() time.Time) Option {
	return func(c *Client) {
		if fn != nil {
			c.now = fn
		}
	}
}

// New returns a client for the API at baseURL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("portal: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("portal: base url must be http or https, got %q", baseURL)
	}
	c := &Client{
		base: u,
		http: &http.Client{Timeout: 30 * time.Second},
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Session returns the current session, if any.
func (c *Client) Session() (auth.Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sess, c.sess.Authenticated()
}

// Login authenticates and starts a session.
func (c *Client) Login(ctx context.Context, email, password string) (auth.Session, error) {
	var res auth.LoginResult
	err := c.call(ctx, http.MethodPost, "/v1/auth/login", nil, map[string]string{
		"email":    email,
		"password": password,
	}, "", &res)
	if err != nil {
		return auth.Session{}, err
	}
	sess := auth.Session{
		UserID:    res.User.ID,
		Name:      res.User.Name,
		Email:     res.User.Email,
		Role:      res.User.Role,
		Token:     res.AccessToken,
		ExpiresAt: res.ExpiresAt,
	}
	c.setSession(sess)
	return sess, nil
}

// Identity is the verified caller as reported by the server.
type Identity struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Email        string            `json:"email"`
	Role         auth.Role         `json:"role"`
	Capabilities []auth.Capability `json:"capabilities"`
	ExpiresAt    time.Time         `json:"expires_at"`
}

// Resume starts a session from a previously issued token after the server confirms it.
func (c *Client) Resume(ctx context.Context, token string) (auth.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return auth.Session{}, auth.ErrUnauthenticated
	}
	var id Identity
	if err := c.call(ctx, http.MethodGet, "/v1/auth/verify", nil, nil, token, &id); err != nil {
		return auth.Session{}, err
	}
	sess := auth.Session{
		UserID:    id.ID,
		Name:      id.Name,
		Email:     id.Email,
		Role:      id.Role,
		Token:     token,
		ExpiresAt: id.ExpiresAt,
	}
	c.setSession(sess)
	return sess, nil
}

// Logout discards the session. Tokens are stateless, so there is no server call.
func (c *Client) Logout() {
	c.setSession(auth.Session{})
}

// Verify asks the server who the current session belongs to.
func (c *Client) Verify(ctx context.Context) (Identity, error) {
	sess, err := c.current()
	if err != nil {
		return Identity{}, err
	}
	var id Identity
	err = c.call(ctx, http.MethodGet, "/v1/auth/verify", nil, nil, sess.Token, &id)
	return id, err
}

func (c *Client) CreateProject(ctx context.Context, fields project.Fields) (project.Project, error) {
	var p project.Project
	err := c.authorized(ctx, auth.CapCreateProject, http.MethodPost, "/v1/projects", nil, fields, &p)
	return p, err
}

func (c *Client) GetProject(ctx context.Context, id string) (project.Project, error) {
	sess, err := c.current()
	if err != nil {
		return project.Project{}, err
	}
	if !sess.Can(auth.CapViewOwnProjects) && !sess.Can(auth.CapViewAllProjects) {
		return project.Project{}, fmt.Errorf("%w: role %s may not view projects", auth.ErrUnauthorized, sess.Role)
	}
	var p project.Project
	err = c.call(ctx, http.MethodGet, "/v1/projects/"+url.PathEscape(id), nil, nil, sess.Token, &p)
	return p, err
}

func (c *Client) ListOwn(ctx context.Context) ([]project.Project, error) {
	var list []project.Project
	err := c.authorized(ctx, auth.CapViewOwnProjects, http.MethodGet, "/v1/projects/my", nil, nil, &list)
	return list, err
}

func (c *Client) CountOwn(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	err := c.authorized(ctx, auth.CapViewOwnProjects, http.MethodGet, "/v1/projects/my/count", nil, nil, &out)
	return out.Count, err
}

func (c *Client) ListAll(ctx context.Context) ([]project.Project, error) {
	var list []project.Project
	err := c.authorized(ctx, auth.CapViewAllProjects, http.MethodGet, "/v1/projects/all", nil, nil, &list)
	return list, err
}

// ListPending returns projects awaiting a decision. Only reviewers may call it.
func (c *Client) ListPending(ctx context.Context) ([]project.Project, error) {
	var list []project.Project
	err := c.authorized(ctx, auth.CapApproveRejectProject, http.MethodGet, "/v1/projects/status/pending", nil, nil, &list)
	return list, err
}

func (c *Client) Search(ctx context.Context, q project.Query) ([]project.Project, error) {
	query := url.Values{}
	if q.Keyword != "" {
		query.Set("q", q.Keyword)
	}
	if q.Status != "" {
		query.Set("status", string(q.Status))
	}
	var list []project.Project
	err := c.authorized(ctx, auth.CapSearchProjects, http.MethodGet, "/v1/projects/search", query, nil, &list)
	return list, err
}

// Decide approves or rejects a pending project.
func (c *Client) Decide(ctx context.Context, id string, outcome project.Status, message string) (project.Project, error) {
	var p project.Project
	body := map[string]string{"status": string(outcome), "statusMessage": message}
	err := c.authorized(ctx, auth.CapApproveRejectProject, http.MethodPut,
		"/v1/projects/"+url.PathEscape(id)+"/status", nil, body, &p)
	return p, err
}

func (c *Client) SaveDraft(ctx context.Context, in project.DraftInput) (project.Draft, error) {
	var d project.Draft
	err := c.authorized(ctx, auth.CapSaveDraft, http.MethodPost, "/v1/projects/temp", nil, in, &d)
	return d, err
}

func (c *Client) ListDrafts(ctx context.Context) ([]project.Draft, error) {
	var list []project.Draft
	err := c.authorized(ctx, auth.CapSaveDraft, http.MethodGet, "/v1/projects/temp", nil, nil, &list)
	return list, err
}

func (c *Client) DeleteDraft(ctx context.Context, id string) error {
	return c.authorized(ctx, auth.CapSaveDraft, http.MethodDelete, "/v1/projects/temp/"+url.PathEscape(id), nil, nil, nil)
}

// PromoteDraft submits a stored draft; non-empty fields of in override it.
func (c *Client) PromoteDraft(ctx context.Context, id string, in project.DraftInput) (project.Project, error) {
	var p project.Project
	err := c.authorized(ctx, auth.CapCreateProject, http.MethodPost,
		"/v1/projects/temp/"+url.PathEscape(id)+"/submit", nil, in, &p)
	return p, err
}

// Chat sends one playground turn. Upstream failures are retryable.
func (c *Client) Chat(ctx context.Context, req playground.Request) (playground.Response, error) {
	body := map[string]any{
		"message":             req.Message,
		"conversationHistory": req.History,
		"maxTokens":           req.MaxTokens,
		"model":               req.Model,
	}
	var out struct {
		Success             bool                 `json:"success"`
		Model               string               `json:"model"`
		ConversationHistory []playground.Message `json:"conversationHistory"`
		Error               string               `json:"error"`
	}
	if err := c.authorized(ctx, auth.CapUsePlayground, http.MethodPost, "/v1/ai/playground-chat", nil, body, &out); err != nil {
		return playground.Response{}, err
	}
	if !out.Success {
		return playground.Response{}, &transportError{op: "chat", err: fmt.Errorf("%w: %s", playground.ErrUpstream, out.Error)}
	}
	return playground.Response{Model: out.Model, ConversationHistory: out.ConversationHistory}, nil
}

// Models lists the playground models the server offers.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	var out struct {
		Models []string `json:"models"`
	}
	err := c.authorized(ctx, auth.CapUsePlayground, http.MethodGet, "/v1/ai/models", nil, nil, &out)
	return out.Models, err
}

// --- plumbing ---

func (c *Client) setSession(s auth.Session) {
	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()
}

// current returns a live session or ErrUnauthenticated.
func (c *Client) current() (auth.Session, error) {
	sess, ok := c.Session()
	if !ok {
		return auth.Session{}, auth.ErrUnauthenticated
	}
	if sess.Expired(c.now()) {
		c.Logout()
		return auth.Session{}, fmt.Errorf("%w: session expired", auth.ErrUnauthenticated)
	}
	return sess, nil
}

// authorized checks the capability locally and then performs the call.
func (c *Client) authorized(ctx context.Context, capability auth.Capability, method, path string, query url.Values, body, out any) error {
	sess, err := c.current()
	if err != nil {
		return err
	}
	if err := auth.Require(sess, capability); err != nil {
		return err
	}
	return c.call(ctx, method, path, query, body, sess.Token, out)
}

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

func (c *Client) call(ctx context.Context, method, path string, query url.Values, body any, token string, out any) error {
	target := strings.TrimRight(c.base.String(), "/") + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("portal: encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("portal: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &transportError{op: method + " " + path, err: err}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &transportError{op: method + " " + path, err: err}
	}

	if resp.StatusCode >= 300 {
		var eb errorBody
		_ = json.Unmarshal(data, &eb)
		if resp.StatusCode == http.StatusUnauthorized && token != "" {
			c.Logout()
		}
		apiErr := &APIError{
			Status:    resp.StatusCode,
			Code:      eb.Code,
			Message:   eb.Error,
			RequestID: eb.RequestID,
			kind:      kindFor(resp.StatusCode, eb.Code),
		}
		if apiErr.RequestID == "" {
			apiErr.RequestID = resp.Header.Get("X-Request-ID")
		}
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &transportError{op: "decode " + path, err: err}
	}
	return nil
}
