package errors

import "errors"

// Sentinel errors for common error conditions
var (
	// ErrProviderUnavailable indicates that no adapter is registered for the
	// requested provider.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrNoMessages indicates that a turn was started with an empty message list.
	ErrNoMessages = errors.New("no input messages")

	// ErrInvalidInput indicates that input validation failed
	ErrInvalidInput = errors.New("invalid input")

	// ErrSessionNotFound indicates that no state is stored for a session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInternal indicates an internal error
	ErrInternal = errors.New("internal error")
)
