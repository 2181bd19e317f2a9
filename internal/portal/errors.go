package portal

import (
	"errors"
	"fmt"
	"net/http"

	"genaiportal.org/internal/auth"
	"genaiportal.org/internal/playground"
	"genaiportal.org/internal/project"
)

// ErrTransport marks failures that say nothing about the request itself: the server was
// unreachable, overloaded or failed internally. Such calls may be retried.
var ErrTransport = errors.New("portal: transport failure")

// APIError is a non-2xx answer from the portal API.
type APIError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
	kind      error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.RequestID != "" {
		return fmt.Sprintf("portal: %d %s (request %s)", e.Status, msg, e.RequestID)
	}
	return fmt.Sprintf("portal: %d %s", e.Status, msg)
}

// Unwrap exposes the sentinel matching the status, so callers can use errors.Is with
// the project and auth errors.
func (e *APIError) Unwrap() error { return e.kind }

// Retryable reports whether repeating the call could succeed.
func (e *APIError) Retryable() bool { return errors.Is(e.kind, ErrTransport) }

// Retryable reports whether err offers a retry. Policy, validation and lifecycle
// errors never do.
func Retryable(err error) bool {
	var r interface{ Retryable() bool }
	return errors.As(err, &r) && r.Retryable()
}

type transportError struct {
	op  string
	err error
}

func (e *transportError) Error() string   { return fmt.Sprintf("portal: %s: %v", e.op, e.err) }
func (e *transportError) Unwrap() []error { return []error{ErrTransport, e.err} }
func (e *transportError) Retryable() bool { return true }

func kindFor(status int, code string) error {
	switch status {
	case http.StatusBadRequest:
		return project.ErrValidation
	case http.StatusUnauthorized:
		return auth.ErrUnauthenticated
	case http.StatusForbidden:
		return auth.ErrUnauthorized
	case http.StatusNotFound:
		return project.ErrNotFound
	case http.StatusConflict:
		return project.ErrInvalidTransition
	case http.StatusBadGateway:
		return errors.Join(ErrTransport, playground.ErrUpstream)
	}
	if status == http.StatusTooManyRequests || status >= 500 {
		return ErrTransport
	}
	return fmt.Errorf("portal: unexpected status %d (%s)", status, code)
}
