// Package trigger carries events raised by driver instances to the rest of
// the platform.
//
// Drivers hold an Emitter and call Emit from their lifecycle goroutine. The
// Dispatcher queues events and delivers them, strictly in emission order, to
// every registered Sink from a single worker goroutine, so a slow broker or
// database never stalls a poll cycle.
//
// Sinks shipped here:
//   - MQTTSink publishes each event as JSON on <prefix>/trigger/<moniker>/<kind>
//   - SQLiteRecorder appends each event to the trigger_log table
package trigger
