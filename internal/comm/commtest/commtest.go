// Package commtest provides an in-memory comm.Port for driver tests.
package commtest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-drivers/internal/comm"
)

// ErrClosed is returned by a Port after Close.
var ErrClosed = errors.New("commtest: port closed")

// Responder is called with every write and returns bytes to queue for reading.
type Responder func(written []byte) []byte

// Port is a scripted in-memory port. It implements comm.Port and
// comm.ModemControl.
type Port struct {
	mu        sync.Mutex
	rx        []byte
	writes    [][]byte
	timeout   time.Duration
	closed    bool
	readErr   error
	writeErr  error
	responder Responder
	dtr, rts  []bool
	signal    chan struct{}
}

// NewPort creates an empty open port.
func NewPort() *Port {
	return &Port{signal: make(chan struct{}, 1)}
}

// SetResponder installs fn to answer writes.
func (p *Port) SetResponder(fn Responder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responder = fn
}

// Feed queues bytes for reading.
func (p *Port) Feed(data ...byte) {
	p.mu.Lock()
	p.rx = append(p.rx, data...)
	p.mu.Unlock()
	p.wake()
}

// FailReads makes the next Read return err.
func (p *Port) FailReads(err error) {
	p.mu.Lock()
	p.readErr = err
	p.mu.Unlock()
	p.wake()
}

// FailWrites makes every Write return err until cleared with nil.
func (p *Port) FailWrites(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeErr = err
}

// Writes returns a copy of every write so far.
func (p *Port) Writes() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.writes))
	for i, w := range p.writes {
		out[i] = append([]byte(nil), w...)
	}
	return out
}

// Pending returns the number of unread bytes.
func (p *Port) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.rx)
}

// Closed reports whether Close was called.
func (p *Port) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// ModemHistory returns every DTR and RTS level set, in order.
func (p *Port) ModemHistory() (dtr, rts []bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool(nil), p.dtr...), append([]bool(nil), p.rts...)
}

// Read implements comm.Port. It returns 0, nil when the read timeout
// elapses with no data, and blocks without a timeout when none is set.
func (p *Port) Read(b []byte) (int, error) {
	p.mu.Lock()
	timeout := p.timeout
	p.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return 0, ErrClosed
		}
		if p.readErr != nil {
			err := p.readErr
			p.readErr = nil
			p.mu.Unlock()
			return 0, err
		}
		if len(p.rx) > 0 {
			n := copy(b, p.rx)
			p.rx = p.rx[n:]
			p.mu.Unlock()
			return n, nil
		}
		p.mu.Unlock()

		select {
		case <-p.signal:
		case <-expired:
			return 0, nil
		}
	}
}

// Write implements comm.Port.
func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrClosed
	}
	if p.writeErr != nil {
		err := p.writeErr
		p.mu.Unlock()
		return 0, err
	}
	p.writes = append(p.writes, append([]byte(nil), b...))
	responder := p.responder
	p.mu.Unlock()

	if responder != nil {
		if reply := responder(b); len(reply) > 0 {
			p.Feed(reply...)
		}
	}
	return len(b), nil
}

// Close implements comm.Port.
func (p *Port) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wake()
	return nil
}

// SetReadTimeout implements comm.Port.
func (p *Port) SetReadTimeout(d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeout = d
	return nil
}

// SetDTR implements comm.ModemControl.
func (p *Port) SetDTR(on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dtr = append(p.dtr, on)
	return nil
}

// SetRTS implements comm.ModemControl.
func (p *Port) SetRTS(on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rts = append(p.rts, on)
	return nil
}

func (p *Port) wake() {
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

// Opener is a comm.Opener returning a fresh Port from NewPort for each open,
// after failing the first Failures attempts.
type Opener struct {
	mu       sync.Mutex
	Failures int
	Err      error
	NewPort  func() *Port

	opens    int
	attempts int
	last     *Port
}

// Open implements comm.Opener.
func (o *Opener) Open(ctx context.Context) (comm.Port, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts++
	if o.attempts <= o.Failures {
		err := o.Err
		if err == nil {
			err = errors.New("commtest: open failed")
		}
		return nil, err
	}
	o.opens++
	if o.NewPort != nil {
		o.last = o.NewPort()
	} else {
		o.last = NewPort()
	}
	return o.last, nil
}

// String implements comm.Opener.
func (o *Opener) String() string { return "commtest" }

// Attempts returns the number of Open calls.
func (o *Opener) Attempts() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.attempts
}

// Opens returns the number of successful Open calls.
func (o *Opener) Opens() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

// Last returns the most recently opened port.
func (o *Opener) Last() *Port {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}
