package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"genaiportal.org/internal/audit"
	"genaiportal.org/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyResponse struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Email        string            `json:"email"`
	Role         auth.Role         `json:"role"`
	Capabilities []auth.Capability `json:"capabilities"`
	ExpiresAt    time.Time         `json:"expires_at"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	res, err := a.auth.Login(r.Context(), email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			_ = audit.LogEvent(r.Context(), audit.EventLoginFailed, map[string]any{
				"email":     strings.ToLower(email),
				"remote_ip": clientIP(r),
			})
			writeError(w, r, http.StatusUnauthorized, "invalid email or password")
			return
		}
		handleError(w, r, err)
		return
	}

	ctx := auth.ContextWithSession(r.Context(), auth.Session{
		UserID: res.User.ID,
		Name:   res.User.Name,
		Email:  res.User.Email,
		Role:   res.User.Role,
	})
	_ = audit.LogEvent(ctx, audit.EventLogin, map[string]any{
		"expires_at": res.ExpiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleVerify(w http.ResponseWriter, r *http.Request) {
	sess, ok := auth.SessionFromContext(r.Context())
	if !ok {
		handleError(w, r, auth.ErrUnauthenticated)
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{
		ID:           sess.UserID,
		Name:         sess.Name,
		Email:        sess.Email,
		Role:         sess.Role,
		Capabilities: auth.Capabilities(sess.Role),
		ExpiresAt:    sess.ExpiresAt,
	})
}
