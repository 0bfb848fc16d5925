// Package zwave drives Z-Wave switches through a serial API controller.
//
// The controller link speaks the serial API framing (SOF, length, type,
// function, payload, checksum) with single-byte ACK/NAK/CAN handshakes.
// Device traffic is carried in SendData requests and ApplicationCommandHandler
// callbacks; multi-channel encapsulation addresses individual endpoints.
//
// Each configured unit gets one CommandClass codec per endpoint. A codec owns
// the fields of its endpoint and reconciles the overlapping report shapes a
// device may use for the same state, in this precedence:
//
//  1. scene actuator configuration report for scene 0
//  2. the class's own report (switch binary or switch multilevel)
//  3. the basic report
//
// Within one poll cycle a lower-precedence report never overrides a value
// applied from a higher-precedence one.
package zwave
