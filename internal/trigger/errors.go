package trigger

import "errors"

var (
	// ErrInvalidEvent is returned for events without a kind or moniker.
	ErrInvalidEvent = errors.New("trigger: invalid event")

	// ErrNoPublisher is returned when an MQTTSink has no publisher.
	ErrNoPublisher = errors.New("trigger: no publisher")
)
