package pairing

import "errors"

var (
	// ErrDuplicateAttempt means an attempt id collided in the registry.
	ErrDuplicateAttempt = errors.New("duplicate pairing attempt")
	// ErrNotFound means the attempt is unknown or already cleaned up.
	ErrNotFound = errors.New("pairing attempt not found")

	// Terminal failure classes, surfaced through StatusView.Err.
	ErrTransition  = errors.New("pairing transition failed")
	ErrNoIdentity  = errors.New("link closed without identity")
	ErrClosedEarly = errors.New("link closed by remote")
	ErrExpired     = errors.New("pairing attempt expired")

	ErrInvalidInput = errors.New("invalid input")
	ErrConfig       = errors.New("invalid pairing config")
	ErrShuttingDown = errors.New("pairing service shutting down")
)
