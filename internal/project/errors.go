package project

import (
	"errors"

	"genaiportal.org/internal/auth"
)

var (
	ErrValidation        = errors.New("project: validation failed")
	ErrInvalidTransition = errors.New("project: invalid status transition")
	ErrNotFound          = errors.New("project: not found")

	// ErrUnauthorized is the Role Policy refusal, including draft ownership mismatches.
	ErrUnauthorized    = auth.ErrUnauthorized
	ErrUnauthenticated = auth.ErrUnauthenticated
)
