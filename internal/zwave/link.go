package zwave

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/nerrad567/gray-logic-drivers/internal/comm"
	"github.com/nerrad567/gray-logic-drivers/internal/driver"
)

// Transmit options for SendData: ACK | AUTO_ROUTE | EXPLORE.
const txOptions byte = 0x25

// LinkOptions tunes a Link. Zero values pick the defaults.
type LinkOptions struct {
	AckTimeout      time.Duration // default 1.6s
	ResponseTimeout time.Duration // default 2s
	CallbackTimeout time.Duration // default 5s
	Retries         int           // default 3

	// FramesPerSecond paces outgoing frames. Default 10.
	FramesPerSecond float64

	Logger driver.Logger
}

// Link is the host side of a serial API controller connection. It is not
// safe for concurrent use; the owning driver serialises access.
type Link struct {
	port    comm.Port
	opts    LinkOptions
	limiter *rate.Limiter
	logger  driver.Logger

	callbackID byte

	// pending holds unsolicited frames read while waiting for something
	// else, in arrival order.
	pending []Frame
}

// NewLink wraps an open port.
func NewLink(port comm.Port, opts LinkOptions) *Link {
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = 1600 * time.Millisecond
	}
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = 2 * time.Second
	}
	if opts.CallbackTimeout <= 0 {
		opts.CallbackTimeout = 5 * time.Second
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.FramesPerSecond <= 0 {
		opts.FramesPerSecond = 10
	}
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	return &Link{
		port:    port,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.FramesPerSecond), 1),
		logger:  logger,
	}
}

// Reset discards buffered input and sends a NAK so the controller drops
// any half-received frame.
func (l *Link) Reset() error {
	l.pending = nil
	if err := comm.Drain(l.port); err != nil {
		return err
	}
	return comm.WriteAll(l.port, []byte{NAK})
}

// Send writes f and waits for the controller's ACK, retrying on NAK, CAN
// or silence.
func (l *Link) Send(ctx context.Context, f Frame) error {
	raw, err := f.Encode()
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= l.opts.Retries; attempt++ {
		if attempt > 0 {
			l.logger.Debug("zwave: resending frame", "attempt", attempt, "frame", f.String(), "error", lastErr)
			if err := sleepCtx(ctx, time.Duration(attempt)*100*time.Millisecond); err != nil {
				return err
			}
		}
		if err := l.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := comm.WriteAll(l.port, raw); err != nil {
			return fmt.Errorf("%w: writing frame: %w", driver.ErrLostConnection, err)
		}
		lastErr = l.awaitAck(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w: %w", driver.ErrTimeout, lastErr)
}

func (l *Link) awaitAck(ctx context.Context) error {
	deadline := time.Now().Add(l.opts.AckTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrNoAck
		}
		msg, err := readMessage(ctx, l.port, remaining)
		switch {
		case errors.Is(err, comm.ErrTimeout):
			return ErrNoAck
		case errors.Is(err, ErrChecksum):
			continue
		case err != nil:
			return err
		}
		switch msg.Control {
		case ACK:
			return nil
		case NAK:
			return ErrNAK
		case CAN:
			return ErrCAN
		default:
			l.pending = append(l.pending, msg.Frame)
		}
	}
}

// Request sends f and returns the controller's response frame.
func (l *Link) Request(ctx context.Context, f Frame) (Frame, error) {
	if err := l.Send(ctx, f); err != nil {
		return Frame{}, err
	}
	return l.await(ctx, l.opts.ResponseTimeout, func(in Frame) bool {
		return in.Type == TypeResponse && in.Func == f.Func
	})
}

// SendData transmits a command to a node and waits for the transmit
// callback. ErrRejected and ErrTransmit concern the node, not the link.
func (l *Link) SendData(ctx context.Context, node byte, cmd []byte) error {
	l.callbackID++
	if l.callbackID == 0 {
		l.callbackID = 1
	}
	id := l.callbackID

	payload := make([]byte, 0, len(cmd)+4)
	payload = append(payload, node, byte(len(cmd)))
	payload = append(payload, cmd...)
	payload = append(payload, txOptions, id)

	resp, err := l.Request(ctx, Frame{Type: TypeRequest, Func: FuncSendData, Payload: payload})
	if err != nil {
		return err
	}
	if len(resp.Payload) == 0 || resp.Payload[0] == 0 {
		return fmt.Errorf("%w: node %d", ErrRejected, node)
	}

	cb, err := l.await(ctx, l.opts.CallbackTimeout, func(in Frame) bool {
		return in.Type == TypeRequest && in.Func == FuncSendData && len(in.Payload) >= 2 && in.Payload[0] == id
	})
	if err != nil {
		return err
	}
	if status := cb.Payload[1]; status != 0 {
		return fmt.Errorf("%w: node %d status 0x%02X", ErrTransmit, node, status)
	}
	return nil
}

// Version asks the controller for its library version string.
func (l *Link) Version(ctx context.Context) (string, error) {
	resp, err := l.Request(ctx, Frame{Type: TypeRequest, Func: FuncGetVersion})
	if err != nil {
		return "", err
	}
	text := resp.Payload
	if i := bytes.IndexByte(text, 0); i >= 0 {
		text = text[:i]
	}
	if len(text) == 0 {
		return "", fmt.Errorf("%w: empty version response", driver.ErrProtocol)
	}
	return string(text), nil
}

// Receive returns the next unsolicited frame, waiting up to timeout. ok is
// false when nothing arrived.
func (l *Link) Receive(ctx context.Context, timeout time.Duration) (f Frame, ok bool, err error) {
	if len(l.pending) > 0 {
		f = l.pending[0]
		l.pending = l.pending[1:]
		return f, true, nil
	}
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Frame{}, false, nil
		}
		msg, err := readMessage(ctx, l.port, remaining)
		switch {
		case errors.Is(err, comm.ErrTimeout):
			return Frame{}, false, nil
		case errors.Is(err, ErrChecksum):
			continue
		case err != nil:
			return Frame{}, false, fmt.Errorf("%w: %w", driver.ErrProtocol, err)
		}
		if msg.Control == SOF {
			return msg.Frame, true, nil
		}
		// Stray ACK/NAK/CAN outside a send.
	}
}

// await returns the first frame matching want. Frames that do not match are
// kept for Receive.
func (l *Link) await(ctx context.Context, timeout time.Duration, want func(Frame) bool) (Frame, error) {
	for i, f := range l.pending {
		if want(f) {
			l.pending = append(l.pending[:i], l.pending[i+1:]...)
			return f, nil
		}
	}
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Frame{}, fmt.Errorf("%w: waiting for controller", driver.ErrTimeout)
		}
		msg, err := readMessage(ctx, l.port, remaining)
		switch {
		case errors.Is(err, comm.ErrTimeout):
			return Frame{}, fmt.Errorf("%w: waiting for controller", driver.ErrTimeout)
		case errors.Is(err, ErrChecksum):
			continue
		case err != nil:
			return Frame{}, fmt.Errorf("%w: %w", driver.ErrProtocol, err)
		}
		if msg.Control != SOF {
			continue
		}
		if want(msg.Frame) {
			return msg.Frame, nil
		}
		l.pending = append(l.pending, msg.Frame)
	}
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

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
