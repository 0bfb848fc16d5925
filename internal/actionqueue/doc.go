// Package actionqueue implements an ordered, single-consumer queue for
// events that must not be dropped or reordered.
//
// One goroutine (the producer, normally a driver's lifecycle loop) pushes
// items and one consumer goroutine owned by the queue hands them to the
// Handler strictly in arrival order.
//
// # Training Mode
//
// In training mode pushed items are not queued. The most recent item is
// held in a single slot (last write wins) until TakeTrained reads and
// clears it. EnterTraining and ExitTraining first wait, bounded by a
// timeout, for every queued item to finish, so no item is ever handled
// under the wrong mode.
//
// # Shutdown
//
// Stop cancels the handler context and discards anything still queued
// without dispatching it.
package actionqueue
