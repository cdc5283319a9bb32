package connection

import "errors"

var (
	// ErrConnectionFailed wraps transport errors raised while connecting or
	// while using an established session.
	ErrConnectionFailed = errors.New("connection: connection failed")

	// ErrRetriesExhausted is returned by Run when Backoff.MaxRetries
	// consecutive failures occurred.
	ErrRetriesExhausted = errors.New("connection: retries exhausted")

	// ErrNotConnected is returned when an operation needs a live session.
	ErrNotConnected = errors.New("connection: not connected")

	// ErrInvalidBackoff indicates a Backoff that cannot be used.
	ErrInvalidBackoff = errors.New("connection: invalid backoff")

	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("connection: manager already running")
)
