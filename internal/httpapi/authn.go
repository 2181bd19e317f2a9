package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"genaiportal.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
	// EventSource and browser websockets cannot set headers.
	tokenQueryParam = "access_token"
)

var publicPaths = []string{
	"/v1/auth/login",
	"/v1/info",
	"/metrics",
	"/healthz",
	"/readyz",
	"/",
}

var queryTokenPaths = []string{
	"/v1/events",
	"/v1/events/ws",
}

// withAuth resolves the bearer token into a Session on the request context. Public
// paths pass through untouched.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := requestToken(r)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="genai-portal"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		sess, err := a.auth.Authenticate(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrInvalidToken):
				w.Header().Set("WWW-Authenticate", `Bearer realm="genai-portal", error="invalid_token"`)
				writeError(w, r, http.StatusUnauthorized, "invalid token")
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.ContextWithSession(r.Context(), sess)))
	})
}

// session returns the caller's session, or the zero session which every policy check
// rejects as unauthenticated.
func session(r *http.Request) auth.Session {
	s, _ := auth.SessionFromContext(r.Context())
	return s
}

func requestToken(r *http.Request) (string, error) {
	header := r.Header.Get(authHeader)
	if strings.TrimSpace(header) == "" && allowsQueryToken(r.URL.Path) {
		if t := strings.TrimSpace(r.URL.Query().Get(tokenQueryParam)); t != "" {
			return t, nil
		}
	}
	return extractBearerToken(header)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

func allowsQueryToken(path string) bool {
	for _, p := range queryTokenPaths {
		if path == p {
			return true
		}
	}
	return false
}
