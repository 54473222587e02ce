package bridge

import "errors"

var (
	ErrMissingToken     = errors.New("missing bearer token")
	ErrInvalidToken     = errors.New("invalid token")
	ErrEmptySubject     = errors.New("token subject cannot be empty")
	ErrPermissionDenied = errors.New("permission denied")
	ErrServerRunning    = errors.New("bridge server already running")
)
