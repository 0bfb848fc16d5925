package comm

import (
	"context"
	"fmt"
	"time"
)

// readSlice bounds each individual read so context cancellation is noticed.
const readSlice = 50 * time.Millisecond

// ReadExact fills buf from port within timeout.
//
// Returns:
//   - ErrTimeout if buf is not filled in time (the bytes read so far are in buf)
//   - ctx.Err() if the context is cancelled first
//   - any transport error
func ReadExact(ctx context.Context, port Port, buf []byte, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	got := 0
	for got < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w: read %d of %d bytes", ErrTimeout, got, len(buf))
		}
		if err := port.SetReadTimeout(min(remaining, readSlice)); err != nil {
			return err
		}
		n, err := port.Read(buf[got:])
		got += n
		if err != nil {
			return err
		}
	}
	return nil
}

// ReadByte reads a single byte within timeout.
func ReadByte(ctx context.Context, port Port, timeout time.Duration) (byte, error) {
	var b [1]byte
	if err := ReadExact(ctx, port, b[:], timeout); err != nil {
		return 0, err
	}
	return b[0], nil
}

// WriteAll writes data completely.
func WriteAll(port Port, data []byte) error {
	n, err := port.Write(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("%w: %d of %d bytes", ErrShortWrite, n, len(data))
	}
	return nil
}

// Drain discards any input already waiting on the port.
func Drain(port Port) error {
	if f, ok := port.(Flusher); ok {
		return f.ResetInputBuffer()
	}
	if err := port.SetReadTimeout(time.Millisecond); err != nil {
		return err
	}
	var scratch [64]byte
	for {
		n, err := port.Read(scratch[:])
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

// PulseModemLines drops DTR and RTS, waits, then raises them again. Devices
// powered from the modem lines use this as a reset. Ports without modem
// control are left untouched.
func PulseModemLines(ctx context.Context, port Port, low time.Duration) error {
	mc, ok := port.(ModemControl)
	if !ok {
		return nil
	}
	if err := mc.SetDTR(false); err != nil {
		return fmt.Errorf("clearing DTR: %w", err)
	}
	if err := mc.SetRTS(false); err != nil {
		return fmt.Errorf("clearing RTS: %w", err)
	}

	timer := time.NewTimer(low)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	if err := mc.SetDTR(true); err != nil {
		return fmt.Errorf("setting DTR: %w", err)
	}
	if err := mc.SetRTS(true); err != nil {
		return fmt.Errorf("setting RTS: %w", err)
	}
	return nil
}
