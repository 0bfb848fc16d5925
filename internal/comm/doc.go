// Package comm provides the communications resource a driver instance
// owns while it talks to its device: a serial port or a TCP socket.
//
// A Resource wraps an Opener and enforces the acquire/release discipline
// the lifecycle needs. Acquire opens the transport; Release closes it and
// is safe to call any number of times, so callers can defer it without
// tracking whether the open succeeded.
//
// All blocking reads go through ReadExact or ReadByte, which wait in short
// slices and check the context between them. Cancelling the context of a
// terminating driver therefore interrupts a long handshake or ack wait
// promptly instead of after the full timeout.
package comm
