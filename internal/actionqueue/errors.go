package actionqueue

import "errors"

// Domain errors for the actionqueue package.
var (
	// ErrStopped is returned when pushing to or switching a stopped queue.
	ErrStopped = errors.New("actionqueue: stopped")

	// ErrDrainTimeout is returned when the queue does not empty in time.
	ErrDrainTimeout = errors.New("actionqueue: drain timeout")

	// ErrNoHandler is returned when creating a queue without a handler.
	ErrNoHandler = errors.New("actionqueue: handler is required")
)
