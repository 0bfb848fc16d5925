// Package api implements the HTTP field access API and the WebSocket change
// stream of driverd.
//
// This package provides:
//   - REST endpoints to list driver instances, read and write their fields
//     and run backdoor commands
//   - driver configuration upload and removal
//   - the recent trigger log
//   - a WebSocket hub broadcasting field changes and lifecycle transitions
//   - middleware for request ids, logging, panic recovery and body limits
//
// # Architecture
//
// The server only talks to the driver manager through the DriverService
// interface. Field values travel as text in the format of field.ParseValue
// and field.Value.Format, so every field type is writable with a plain
// string.
//
// # Graceful Degradation
//
// The trigger log is optional; without it GET /api/triggers answers 503.
package api
