package driver

import "errors"

// Failure classes. Drivers wrap one of these so the lifecycle loop can
// decide whether to retry, reconnect or give up.
var (
	// ErrConfiguration means required configuration is missing or invalid.
	// The instance stays in WaitingForConfig.
	ErrConfiguration = errors.New("driver: configuration error")

	// ErrResource means the port or socket could not be opened. It is
	// retried at the reconnect interval.
	ErrResource = errors.New("driver: resource error")

	// ErrProtocol means the device sent something unexpected. The link is
	// assumed desynchronised and is reconnected.
	ErrProtocol = errors.New("driver: protocol error")

	// ErrTimeout means the device did not answer in time. Consecutive
	// timeouts beyond Timing.TimeoutLimit force a reconnect.
	ErrTimeout = errors.New("driver: timeout")

	// ErrLostConnection asks the loop to drop and reacquire the resource.
	ErrLostConnection = errors.New("driver: lost connection")
)

// Errors returned to callers of Instance and Manager.
var (
	ErrNotConnected       = errors.New("driver: not connected")
	ErrTerminated         = errors.New("driver: terminated")
	ErrUnknownCommand     = errors.New("driver: unknown command")
	ErrUnknownKind        = errors.New("driver: unknown driver kind")
	ErrInstanceNotFound   = errors.New("driver: instance not found")
	ErrDuplicateMoniker   = errors.New("driver: duplicate moniker")
	ErrUnsupportedVersion = errors.New("driver: unsupported config version")
	ErrNotWritable        = errors.New("driver: field not handled by driver")
)

// errPanic marks a recovered panic from driver code.
var errPanic = errors.New("driver: panic in driver hook")
