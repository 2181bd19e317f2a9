package auth

import "errors"

var (
	ErrNotFound           = errors.New("auth: not found")
	ErrAlreadyExists      = errors.New("auth: already exists")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrInvalidToken       = errors.New("auth: invalid token")
	// ErrUnauthenticated means no valid session was presented.
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	// ErrUnauthorized means the session's role lacks the capability.
	ErrUnauthorized = errors.New("auth: unauthorized")
)
