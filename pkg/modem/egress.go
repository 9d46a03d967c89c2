// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package modem

// SerialPort sends bytes on the serial link. SendByte starts sending one
// byte; the port reports completion by calling the modem's SerialReady
// handler. Implementations must not call back into the modem from SendByte.
type SerialPort interface {
	SendByte(b byte)
}

// Egress buffers relayed messages and drains them one byte per serial
// ready signal. Methods run inside the modem's critical section.
type Egress struct {
	buf    []byte
	n      int
	cursor int
	port   SerialPort
}

// NewEgress creates an empty egress buffer draining to port.
func NewEgress(capacity int, port SerialPort) *Egress {
	return &Egress{
		buf:  make([]byte, capacity),
		port: port,
	}
}

// Append adds a decoded frame followed by "<rssi> <lqi>\n". The record is
// appended whole or not at all: when the payload plus the smallest possible
// trailer does not fit, ErrEgressOverflow is returned and the buffer is left
// untouched. A diagnostic value that does not fit in full is replaced by a
// single placeholder character.
func (e *Egress) Append(r Received) error {
	if e.n+len(r.Payload)+trailerReserve > len(e.buf) {
		return ErrEgressOverflow
	}

	start := e.n
	n := start
	n += copy(e.buf[n:], r.Payload)

	// Leave room for the separator, the second value and the newline
	n = e.appendValue(n, len(e.buf)-3, int(r.RSSI))
	e.buf[n] = ' '
	n++
	n = e.appendValue(n, len(e.buf)-1, int(r.LQI))
	e.buf[n] = Terminator
	n++

	e.n = n
	if start == 0 {
		// Idle port: push the first byte, the rest follow on ready signals
		e.port.SendByte(e.buf[0])
	}
	return nil
}

func (e *Egress) appendValue(at, limit, value int) int {
	if w := FormatDecimal(e.buf[at:limit], value); w > 0 {
		return at + w
	}
	e.buf[at] = placeholder
	return at + 1
}

// Ready advances the drain after the serial port finished a byte. A ready
// signal with nothing buffered is ignored.
func (e *Egress) Ready() {
	if e.n == 0 {
		return
	}

	e.cursor++
	if e.cursor >= e.n {
		e.cursor = 0
		e.n = 0
		return
	}
	e.port.SendByte(e.buf[e.cursor])
}

// Len returns the number of bytes buffered, including those already sent
// from the current run.
func (e *Egress) Len() int {
	return e.n
}

// Bytes returns the buffered bytes. The slice is only valid inside the
// critical section.
func (e *Egress) Bytes() []byte {
	return e.buf[:e.n]
}
