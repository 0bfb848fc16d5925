// Package irrecv drives IRMan-style serial infrared receivers.
//
// The receiver is powered from the modem control lines. Connecting drops
// DTR and RTS, raises them again, sends "I" then "R" and expects "OK".
// After that the device sends one 6-byte code per received IR frame and
// repeats it while a remote key is held.
//
// Decoded keys go through an actionqueue.Queue. In normal mode each key is
// handed, in order, to an ActionInvoker. In training mode only the most
// recent key is kept until the trainer takes it.
package irrecv
