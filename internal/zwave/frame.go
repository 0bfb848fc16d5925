package zwave

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-drivers/internal/comm"
)

// Control bytes.
const (
	SOF byte = 0x01
	ACK byte = 0x06
	NAK byte = 0x15
	CAN byte = 0x18
)

// Frame types.
const (
	TypeRequest  byte = 0x00
	TypeResponse byte = 0x01
)

// Serial API functions used by the driver.
const (
	FuncApplicationCommandHandler byte = 0x04
	FuncSendData                  byte = 0x13
	FuncGetVersion                byte = 0x15
)

// maxPayload keeps LEN (type + func + payload + checksum) within one byte.
const maxPayload = 0xFF - 3

// frameByteTimeout bounds the gap between bytes inside one frame.
const frameByteTimeout = time.Second

// Frame is one serial API data frame.
type Frame struct {
	Type    byte
	Func    byte
	Payload []byte
}

func (f Frame) String() string {
	kind := "REQ"
	if f.Type == TypeResponse {
		kind = "RES"
	}
	return fmt.Sprintf("%s func=0x%02X payload=% X", kind, f.Func, f.Payload)
}

// Encode serialises the frame including SOF and checksum.
func (f Frame) Encode() ([]byte, error) {
	if len(f.Payload) > maxPayload {
		return nil, fmt.Errorf("%w: %d payload bytes", ErrFrameTooLong, len(f.Payload))
	}
	out := make([]byte, 0, len(f.Payload)+5)
	out = append(out, SOF, byte(len(f.Payload)+3), f.Type, f.Func)
	out = append(out, f.Payload...)
	out = append(out, Checksum(out[1:]))
	return out, nil
}

// Checksum is 0xFF XORed with every byte from LEN to the last payload byte.
func Checksum(b []byte) byte {
	sum := byte(0xFF)
	for _, c := range b {
		sum ^= c
	}
	return sum
}

// DecodeFrame parses the bytes that follow SOF: LEN, type, func, payload and
// checksum.
func DecodeFrame(body []byte) (Frame, error) {
	if len(body) < 4 || int(body[0]) != len(body)-1 {
		return Frame{}, fmt.Errorf("zwave: malformed frame % X", body)
	}
	if want := Checksum(body[:len(body)-1]); body[len(body)-1] != want {
		return Frame{}, fmt.Errorf("%w: got 0x%02X want 0x%02X", ErrChecksum, body[len(body)-1], want)
	}
	payload := make([]byte, len(body)-4)
	copy(payload, body[3:len(body)-1])
	return Frame{Type: body[1], Func: body[2], Payload: payload}, nil
}

// message is either a control byte or, when Control is SOF, a frame.
type message struct {
	Control byte
	Frame   Frame
}

// readMessage waits up to timeout for the first byte of a message and
// acknowledges every valid frame it reads. Noise between messages is
// skipped. A frame with a bad checksum is NAKed and reported as ErrChecksum.
func readMessage(ctx context.Context, port comm.Port, timeout time.Duration) (message, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return message{}, comm.ErrTimeout
		}
		b, err := comm.ReadByte(ctx, port, remaining)
		if err != nil {
			return message{}, err
		}
		switch b {
		case ACK, NAK, CAN:
			return message{Control: b}, nil
		case SOF:
		default:
			continue
		}

		length, err := comm.ReadByte(ctx, port, frameByteTimeout)
		if err != nil {
			return message{}, fmt.Errorf("reading frame length: %w", err)
		}
		body := make([]byte, int(length)+1)
		body[0] = length
		if err := comm.ReadExact(ctx, port, body[1:], frameByteTimeout); err != nil {
			return message{}, fmt.Errorf("reading frame body: %w", err)
		}
		f, err := DecodeFrame(body)
		if err != nil {
			if errors.Is(err, ErrChecksum) {
				_ = comm.WriteAll(port, []byte{NAK}) //nolint:errcheck // the read error is reported
			}
			return message{}, err
		}
		if err := comm.WriteAll(port, []byte{ACK}); err != nil {
			return message{}, fmt.Errorf("acknowledging frame: %w", err)
		}
		return message{Control: SOF, Frame: f}, nil
	}
}
