package obs

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	projectsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "portal_projects_created_total",
		Help: "Project requests submitted.",
	})

	projectDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_project_decisions_total",
			Help: "Review decisions applied, by outcome.",
		},
		[]string{"outcome"},
	)

	decisionConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "portal_decision_conflicts_total",
		Help: "Decisions rejected because the project had already left PENDING.",
	})

	draftsSaved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "portal_drafts_saved_total",
		Help: "Draft saves (inserts and updates).",
	})

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "portal_ready",
		Help: "1 when the last readiness probe succeeded.",
	})
)

// Init registers all collectors in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			projectsCreated, projectDecisions, decisionConflicts, draftsSaved, ready,
		)
	})
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ProjectCreated()               { projectsCreated.Inc() }
func ProjectDecided(outcome string) { projectDecisions.WithLabelValues(outcome).Inc() }
func DecisionConflict()             { decisionConflicts.Inc() }
func DraftSaved()                   { draftsSaved.Inc() }

// SetReady records the outcome of the latest readiness probe.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// Instrument measures in-flight requests, totals and latency per canonical path.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

var projectCollections = map[string]bool{
	"my":     true,
	"all":    true,
	"search": true,
	"status": true,
	"temp":   true,
}

// CanonicalPath collapses identifiers in request paths so metric label cardinality
// stays bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	if len(parts) < 3 || parts[0] != "v1" || parts[1] != "projects" {
		return raw
	}
	switch {
	case len(parts) == 3 && !projectCollections[parts[2]]:
		return "/v1/projects/:id"
	case len(parts) == 4 && !projectCollections[parts[2]] && parts[3] == "status":
		return "/v1/projects/:id/status"
	case len(parts) == 4 && parts[2] == "temp":
		return "/v1/projects/temp/:id"
	case len(parts) == 5 && parts[2] == "temp" && parts[4] == "submit":
		return "/v1/projects/temp/:id/submit"
	}
	return raw
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streaming working through the instrumentation wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the websocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	return h.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
