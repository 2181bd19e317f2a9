package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/netip"
	"time"

	"genaiportal.org/internal/auth"
	"genaiportal.org/internal/config"
	"genaiportal.org/internal/events"
	"genaiportal.org/internal/obs"
	"genaiportal.org/internal/playground"
	"genaiportal.org/internal/project"
)

const serviceName = "genai-portal-api"

// Pinger is satisfied by the PostgreSQL store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe reports readiness, e.g. by pinging the database.
type ReadyProbe struct {
	DB Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.Ping(ctx)
}

// Options wires the API to its collaborators. Auth and Projects are required.
type Options struct {
	Version        string
	Auth           *auth.Service
	Projects       *project.Service
	Events         *events.Broadcaster
	Chat           playground.Chatter
	Ready          ReadyProbe
	AllowedOrigins []string
	RateLimit      config.RateLimit
	// TrustedProxies are the peers whose X-Forwarded-For header is believed.
	TrustedProxies []netip.Prefix
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	auth     *auth.Service
	projects *project.Service
	events   *events.Broadcaster
	chat     playground.Chatter

	origins   []string
	proxies   []netip.Prefix
	rateLimit config.RateLimit
	login     *limiter
}

func New(opts Options) *API {
	rl := opts.RateLimit
	def := config.DefaultRateLimit()
	if rl.RPS <= 0 {
		rl.RPS = def.RPS
	}
	if rl.Burst <= 0 {
		rl.Burst = def.Burst
	}
	if rl.LoginRPS <= 0 {
		rl.LoginRPS = def.LoginRPS
	}
	if rl.LoginBurst <= 0 {
		rl.LoginBurst = def.LoginBurst
	}

	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: opts.Ready,
		version:    opts.Version,
		auth:       opts.Auth,
		projects:   opts.Projects,
		events:     opts.Events,
		chat:       opts.Chat,
		origins:    opts.AllowedOrigins,
		proxies:    opts.TrustedProxies,
		rateLimit:  rl,
		login:      newLimiter(rl.LoginRPS, rl.LoginBurst),
	}

	// health/ready/info
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("GET /metrics", obs.Handler())

	// auth
	a.mux.Handle("POST /v1/auth/login", a.login.middleware(http.HandlerFunc(a.handleLogin)))
	a.mux.HandleFunc("GET /v1/auth/verify", a.handleVerify)

	// projects
	a.mux.HandleFunc("POST /v1/projects", a.handleCreateProject)
	a.mux.HandleFunc("GET /v1/projects/my", a.handleListOwn)
	a.mux.HandleFunc("GET /v1/projects/my/count", a.handleCountOwn)
	a.mux.HandleFunc("GET /v1/projects/all", a.handleListAll)
	a.mux.HandleFunc("GET /v1/projects/status/pending", a.handleListPending)
	a.mux.HandleFunc("GET /v1/projects/search", a.handleSearch)
	a.mux.HandleFunc("GET /v1/projects/{id}", a.handleGetProject)
	a.mux.HandleFunc("PUT /v1/projects/{id}/status", a.handleDecide)

	// drafts
	a.mux.HandleFunc("GET /v1/projects/temp", a.handleListDrafts)
	a.mux.HandleFunc("POST /v1/projects/temp", a.handleSaveDraft)
	a.mux.HandleFunc("DELETE /v1/projects/temp/{id}", a.handleDeleteDraft)
	a.mux.HandleFunc("POST /v1/projects/temp/{id}/submit", a.handlePromoteDraft)

	// playground
	a.mux.HandleFunc("POST /v1/ai/playground-chat", a.handlePlaygroundChat)
	a.mux.HandleFunc("GET /v1/ai/models", a.handleModels)

	// invalidation stream
	a.mux.HandleFunc("GET /v1/events", a.Stream)
	a.mux.HandleFunc("GET /v1/events/ws", a.StreamWS)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateLimit.Burst, a.rateLimit.RPS)
	h = CORS(h, a.origins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RealIP(h, a.proxies)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	}
	if a.chat != nil {
		info["models"] = a.chat.Models()
	}
	writeJSON(w, http.StatusOK, info)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
