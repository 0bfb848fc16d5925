package irrecv

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-drivers/internal/comm"
	"github.com/nerrad567/gray-logic-drivers/internal/driver"
)

// CodeLen is the size of one receiver code.
const CodeLen = 6

const (
	powerCycleLow = 200 * time.Millisecond
	settleDelay   = 100 * time.Millisecond
	initGap       = 2 * time.Millisecond
	codeByteGap   = 100 * time.Millisecond
)

// Code is one raw receiver code.
type Code [CodeLen]byte

// String returns the code as 12 upper-case hex digits.
func (c Code) String() string {
	return strings.ToUpper(hex.EncodeToString(c[:]))
}

// ParseCode accepts 12 hex digits in either case.
func ParseCode(s string) (Code, error) {
	var c Code
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil || len(b) != CodeLen {
		return c, fmt.Errorf("%w: code %q is not %d hex bytes", ErrInvalidKeyMap, s, CodeLen)
	}
	copy(c[:], b)
	return c, nil
}

// handshake power-cycles the receiver and waits for its "OK".
func handshake(ctx context.Context, port comm.Port, timeout time.Duration) error {
	if err := comm.PulseModemLines(ctx, port, powerCycleLow); err != nil {
		return fmt.Errorf("%w: power cycle: %w", driver.ErrLostConnection, err)
	}
	if err := sleepCtx(ctx, settleDelay); err != nil {
		return err
	}
	if err := comm.Drain(port); err != nil {
		return fmt.Errorf("%w: %w", driver.ErrLostConnection, err)
	}

	if err := comm.WriteAll(port, []byte{'I'}); err != nil {
		return fmt.Errorf("%w: %w", driver.ErrLostConnection, err)
	}
	if err := sleepCtx(ctx, initGap); err != nil {
		return err
	}
	if err := comm.WriteAll(port, []byte{'R'}); err != nil {
		return fmt.Errorf("%w: %w", driver.ErrLostConnection, err)
	}

	var ack [2]byte
	if err := comm.ReadExact(ctx, port, ack[:], timeout); err != nil {
		return fmt.Errorf("%w: %w: %w", driver.ErrTimeout, ErrHandshake, err)
	}
	if string(ack[:]) != "OK" {
		return fmt.Errorf("%w: %w: got %q", driver.ErrProtocol, ErrHandshake, ack[:])
	}
	return nil
}

// readCode waits up to wait for the first byte of a code, then reads the
// rest with a short inter-byte timeout. ok is false when nothing arrived.
func readCode(ctx context.Context, port comm.Port, wait time.Duration) (c Code, ok bool, err error) {
	if err := comm.ReadExact(ctx, port, c[:1], wait); err != nil {
		if isTimeout(err) {
			return c, false, nil
		}
		return c, false, err
	}
	if err := comm.ReadExact(ctx, port, c[1:], codeByteGap); err != nil {
		return c, true, fmt.Errorf("%w: partial code % X: %w", driver.ErrProtocol, c[:], err)
	}
	return c, true, nil
}

// repeatFilter drops a code that repeats the previous one within window,
// which is what a held remote key produces.
type repeatFilter struct {
	window time.Duration
	last   Code
	lastAt time.Time
	primed bool
}

// accept reports whether c is a new key press and records it.
func (f *repeatFilter) accept(c Code, now time.Time) bool {
	repeat := f.primed && c == f.last && now.Sub(f.lastAt) < f.window
	f.last, f.lastAt, f.primed = c, now, true
	return !repeat
}

func (f *repeatFilter) reset() {
	f.primed = false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
