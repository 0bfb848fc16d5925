package irrecv

import "errors"

var (
	// ErrHandshake is returned when the receiver does not answer "OK".
	ErrHandshake = errors.New("irrecv: handshake failed")

	// ErrNotTraining is returned when taking a trained key in normal mode.
	ErrNotTraining = errors.New("irrecv: not in training mode")

	// ErrNoTrainedKey is returned when no key arrived since training began
	// or since the last key was taken.
	ErrNoTrainedKey = errors.New("irrecv: no trained key")

	// ErrInvalidKeyMap is returned for a malformed key.<code> option.
	ErrInvalidKeyMap = errors.New("irrecv: invalid key map")
)
