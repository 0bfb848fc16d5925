package comm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"go.bug.st/serial"
)

// Port is an open transport.
//
// Read follows serial port semantics: when the read timeout elapses with
// no data it returns 0 and a nil error.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(d time.Duration) error
}

// ModemControl is implemented by ports with controllable modem lines.
type ModemControl interface {
	SetDTR(on bool) error
	SetRTS(on bool) error
}

// Flusher is implemented by ports that can discard buffered input.
type Flusher interface {
	ResetInputBuffer() error
}

// Opener creates a Port. Implementations must not keep a reference to the
// port they return.
type Opener interface {
	Open(ctx context.Context) (Port, error)
	String() string
}

// SerialOpener opens a local serial port.
type SerialOpener struct {
	Name     string
	BaudRate int
	DataBits int
	Parity   string // none, even, odd, mark, space
	StopBits string // 1, 1.5, 2
}

// Open opens the serial port. The context is only checked before opening;
// the underlying open call does not block on the device.
func (o SerialOpener) Open(ctx context.Context) (Port, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mode, err := o.mode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(o.Name, mode)
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", o.Name, err)
	}
	return port, nil
}

// String implements Opener.
func (o SerialOpener) String() string {
	return fmt.Sprintf("serial:%s@%d", o.Name, o.BaudRate)
}

func (o SerialOpener) mode() (*serial.Mode, error) {
	if o.Name == "" {
		return nil, fmt.Errorf("%w: serial port name is required", ErrInvalidPort)
	}
	mode := &serial.Mode{
		BaudRate: o.BaudRate,
		DataBits: o.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	if mode.BaudRate == 0 {
		mode.BaudRate = 9600
	}
	if mode.DataBits == 0 {
		mode.DataBits = 8
	}

	switch strings.ToLower(o.Parity) {
	case "", "none", "n":
	case "even", "e":
		mode.Parity = serial.EvenParity
	case "odd", "o":
		mode.Parity = serial.OddParity
	case "mark", "m":
		mode.Parity = serial.MarkParity
	case "space", "s":
		mode.Parity = serial.SpaceParity
	default:
		return nil, fmt.Errorf("%w: unknown parity %q", ErrInvalidPort, o.Parity)
	}

	switch o.StopBits {
	case "", "1":
	case "1.5":
		mode.StopBits = serial.OnePointFiveStopBits
	case "2":
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("%w: unknown stop bits %q", ErrInvalidPort, o.StopBits)
	}
	return mode, nil
}

// TCPOpener opens a TCP connection, for serial-to-network bridges.
type TCPOpener struct {
	Address     string
	DialTimeout time.Duration
}

// Open dials the address.
func (o TCPOpener) Open(ctx context.Context) (Port, error) {
	if o.Address == "" {
		return nil, fmt.Errorf("%w: tcp address is required", ErrInvalidPort)
	}
	timeout := o.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", o.Address)
	if err != nil {
		return nil, fmt.Errorf("dialling %s: %w", o.Address, err)
	}
	return &tcpPort{conn: conn}, nil
}

// String implements Opener.
func (o TCPOpener) String() string {
	return "tcp:" + o.Address
}

// tcpPort adapts a net.Conn to serial read-timeout semantics.
type tcpPort struct {
	conn    net.Conn
	timeout time.Duration
}

func (p *tcpPort) Read(b []byte) (int, error) {
	if p.timeout > 0 {
		if err := p.conn.SetReadDeadline(time.Now().Add(p.timeout)); err != nil {
			return 0, err
		}
	} else {
		if err := p.conn.SetReadDeadline(time.Time{}); err != nil {
			return 0, err
		}
	}
	n, err := p.conn.Read(b)
	if err != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		return n, nil
	}
	return n, err
}

func (p *tcpPort) Write(b []byte) (int, error) { return p.conn.Write(b) }

func (p *tcpPort) Close() error { return p.conn.Close() }

func (p *tcpPort) SetReadTimeout(d time.Duration) error {
	p.timeout = d
	return nil
}
