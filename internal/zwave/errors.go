package zwave

import "errors"

var (
	// ErrChecksum is returned for a frame whose checksum does not match.
	ErrChecksum = errors.New("zwave: bad checksum")

	// ErrNoAck is returned when the controller did not acknowledge a frame.
	ErrNoAck = errors.New("zwave: no ack from controller")

	// ErrNAK is returned when the controller rejected a frame.
	ErrNAK = errors.New("zwave: nak received")

	// ErrCAN is returned when a frame collided with one from the controller.
	ErrCAN = errors.New("zwave: frame cancelled")

	// ErrRejected is returned when the controller refused a SendData request.
	ErrRejected = errors.New("zwave: request rejected by controller")

	// ErrTransmit is returned when a node did not acknowledge a transmission.
	ErrTransmit = errors.New("zwave: transmission failed")

	// ErrFrameTooLong is returned when a payload does not fit in one frame.
	ErrFrameTooLong = errors.New("zwave: frame too long")

	// ErrUnknownClass is returned for an unsupported command class name.
	ErrUnknownClass = errors.New("zwave: unknown command class")

	// ErrUnknownUnit is returned for a command naming no configured unit.
	ErrUnknownUnit = errors.New("zwave: unknown unit")

	// ErrFieldNotOwned is returned when no codec owns a written field.
	ErrFieldNotOwned = errors.New("zwave: field not owned by any codec")
)
