package driver

import (
	"context"

	"github.com/nerrad567/gray-logic-drivers/internal/comm"
	"github.com/nerrad567/gray-logic-drivers/internal/field"
	"github.com/nerrad567/gray-logic-drivers/internal/trigger"
)

// Driver is the device-specific part of an instance. All methods are called
// from the instance's lifecycle goroutine, never concurrently.
type Driver interface {
	// Initialize registers fields in host.Fields and returns the driver's
	// default timing. An error wrapping ErrConfiguration keeps the instance
	// in WaitingForConfig until it is reconfigured.
	Initialize(ctx context.Context, host *Host) (Timing, error)

	// Connect performs the protocol handshake on a freshly opened port.
	Connect(ctx context.Context, port comm.Port) error

	// Poll runs one poll cycle. activity reports whether the device
	// produced anything; it feeds the watchdog.
	Poll(ctx context.Context, port comm.Port) (activity bool, err error)

	// WriteField pushes a validated value to the device. The driver is
	// responsible for storing the confirmed or optimistic value.
	WriteField(ctx context.Context, port comm.Port, id field.ID, v field.Value) error

	// Disconnect is called before the port is released.
	Disconnect()

	// Terminate releases everything the driver owns. It is the last call.
	Terminate()
}

// Commander is implemented by drivers that accept backdoor commands.
// Unknown commands return ErrUnknownCommand.
type Commander interface {
	Command(ctx context.Context, port comm.Port, cmd, arg string) (string, error)
}

// Factory builds a driver for a config of its kind.
type Factory func(cfg Config) (Driver, error)

// Logger is the logging surface handed to drivers.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Host is what an instance lends its driver.
type Host struct {
	Moniker  string
	Config   Config
	Fields   *field.Registry
	Triggers trigger.Emitter
	Logger   Logger
}

// Emit raises a trigger on behalf of the instance.
func (h *Host) Emit(kind trigger.Kind, fieldName, value, unit string) {
	h.Triggers.Emit(trigger.New(kind, h.Moniker, fieldName, value, unit))
}
