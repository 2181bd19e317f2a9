package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"genaiportal.org/internal/auth"
	"genaiportal.org/internal/obs"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// Stream sends invalidation events visible to the caller as Server-Sent Events.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	sess, ok := auth.SessionFromContext(r.Context())
	if !ok {
		handleError(w, r, auth.ErrUnauthenticated)
		return
	}
	if a.events == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	// Streams outlive the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx, cancel := sessionContext(r.Context(), sess)
	defer cancel()

	ch := a.events.Subscribe(ctx)

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	for event := range ch {
		if !event.VisibleTo(sess) {
			continue
		}
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("event: " + event.Kind + "\n"))
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		_, _ = w.Write([]byte("event: " + sessionExpiredEvent + "\ndata: {}\n\n"))
		flusher.Flush()
	}
}

const sessionExpiredEvent = "session.expired"

// sessionContext ends with the session's token so a stream never outlives it.
func sessionContext(parent context.Context, sess auth.Session) (context.Context, context.CancelFunc) {
	if sess.ExpiresAt.IsZero() {
		return context.WithCancel(parent)
	}
	return context.WithDeadline(parent, sess.ExpiresAt)
}

func (a *API) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || isLocalOrigin(origin) {
				return true
			}
			for _, o := range a.origins {
				if o == origin {
					return true
				}
			}
			return false
		},
		Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
			writeError(w, r, status, reason.Error())
		},
	}
}

// StreamWS sends the same events as Stream as JSON text frames over a websocket.
// Client frames are read only to observe close and pong.
func (a *API) StreamWS(w http.ResponseWriter, r *http.Request) {
	sess, ok := auth.SessionFromContext(r.Context())
	if !ok {
		handleError(w, r, auth.ErrUnauthenticated)
		return
	}
	if a.events == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled")
		return
	}

	up := a.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := sessionContext(context.Background(), sess)
	defer cancel()
	ch := a.events.Subscribe(ctx)

	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-ch:
			if !ok {
				closing := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					closing = websocket.FormatCloseMessage(websocket.ClosePolicyViolation, sessionExpiredEvent)
				}
				_ = conn.WriteControl(websocket.CloseMessage, closing, time.Now().Add(wsWriteWait))
				return
			}
			if !event.VisibleTo(sess) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(event); err != nil {
				obs.Warn("ws_write_failed", map[string]any{
					"request_id": RequestIDFromContext(r.Context()),
					"error":      err.Error(),
				})
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
