// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package modem

import "bytes"

// Ingress assembles serial bytes into messages.
//
// The serial receive handler produces into it and the supervisor consumes
// from it; every method must run inside the modem's critical section.
type Ingress struct {
	buf   []byte
	n     int
	ready int  // length up to and including the last terminator seen
	flush bool // flush timer fired with bytes buffered
	timer *FlushTimer
}

// NewIngress creates an empty ingress buffer of the given capacity.
func NewIngress(capacity int, timer *FlushTimer) *Ingress {
	return &Ingress{
		buf:   make([]byte, capacity),
		timer: timer,
	}
}

// Accept stores one received serial byte. It reports whether a complete
// message became ready. A byte arriving with the buffer full is dropped and
// ErrIngressOverflow returned; the timer and any fired flush are left as
// they were, so the buffered bytes still drain.
func (in *Ingress) Accept(b byte) (bool, error) {
	if in.n == len(in.buf) {
		return false, ErrIngressOverflow
	}

	in.timer.Cancel()
	in.flush = false

	in.buf[in.n] = b
	in.n++

	if b == Terminator {
		in.ready = in.n
		return true, nil
	}

	in.timer.Arm()
	return false, nil
}

// Expire handles the flush timer firing. It reports whether a flush became
// pending.
func (in *Ingress) Expire(gen uint64) bool {
	if !in.timer.Expire(gen) {
		return false
	}
	if in.n == 0 {
		return false
	}
	in.flush = true
	return true
}

// Pending reports whether a message is ready for dispatch.
func (in *Ingress) Pending() bool {
	return in.ready > 0 || in.flush
}

// Len returns the number of buffered bytes.
func (in *Ingress) Len() int {
	return in.n
}

// Bytes returns the buffered bytes. The slice is only valid inside the
// critical section.
func (in *Ingress) Bytes() []byte {
	return in.buf[:in.n]
}

// Take moves the next message, at most max bytes, into dst and shifts any
// residual bytes to the front of the buffer. timeout reports whether the
// message was released by the flush timer rather than a terminator.
//
// Without a ready terminator or a pending flush the buffer is cleared and
// ErrNoTerminator returned, so a stray dispatch can never stall the link.
func (in *Ingress) Take(dst []byte, max int) (n int, timeout bool, err error) {
	timeout = in.flush
	if timeout {
		n = in.n
		in.flush = false
	} else if i := bytes.IndexByte(in.buf[:in.ready], Terminator); i >= 0 {
		n = i + 1
	}

	if n == 0 {
		in.Clear()
		return 0, timeout, ErrNoTerminator
	}

	if n > max {
		n = max
		// The rest of a flushed run is still owed
		in.flush = timeout
	}

	copy(dst, in.buf[:n])
	copy(in.buf, in.buf[n:in.n])
	in.n -= n
	in.ready -= n
	if in.ready < 0 {
		in.ready = 0
	}
	if in.n == 0 {
		in.ready = 0
		in.flush = false
	}
	return n, timeout, nil
}

// Clear drops all buffered bytes and pending state.
func (in *Ingress) Clear() {
	in.n = 0
	in.ready = 0
	in.flush = false
}
