package comm

import "errors"

// Domain errors for the comm package.
var (
	// ErrTimeout is returned when a bounded read completes without enough data.
	ErrTimeout = errors.New("comm: timeout")

	// ErrNotOpen is returned when using a resource that is not acquired.
	ErrNotOpen = errors.New("comm: resource not open")

	// ErrAlreadyOpen is returned when acquiring a resource that is already held.
	ErrAlreadyOpen = errors.New("comm: resource already open")

	// ErrInvalidPort is returned when port settings are incomplete or invalid.
	ErrInvalidPort = errors.New("comm: invalid port settings")

	// ErrShortWrite is returned when a transport accepts fewer bytes than given.
	ErrShortWrite = errors.New("comm: short write")
)
