package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/nerrad567/gray-logic-drivers/internal/comm"
)

// Result is the outcome of a hook call as seen by the lifecycle loop.
type Result int

const (
	ResultSuccess Result = iota
	ResultLostConnection
	ResultException
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "Success"
	case ResultLostConnection:
		return "LostConnection"
	case ResultException:
		return "Exception"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Classify maps a hook error to a Result. Transport and protocol failures
// are LostConnection; anything unrecognised, including recovered panics, is
// an Exception.
func Classify(err error) Result {
	if err == nil {
		return ResultSuccess
	}
	if errors.Is(err, errPanic) {
		return ResultException
	}
	var netErr net.Error
	switch {
	case errors.Is(err, ErrLostConnection),
		errors.Is(err, ErrProtocol),
		errors.Is(err, ErrResource),
		errors.Is(err, ErrTimeout),
		errors.Is(err, comm.ErrTimeout),
		errors.Is(err, comm.ErrNotOpen),
		errors.Is(err, comm.ErrShortWrite),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr):
		return ResultLostConnection
	}
	return ResultException
}

// isTimeout reports whether err is a plain no-answer timeout, which is
// tolerated up to Timing.TimeoutLimit times in a row.
func isTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, comm.ErrTimeout)
}

// guard runs fn and converts a panic into an error wrapping errPanic.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errPanic, r)
		}
	}()
	return fn()
}
