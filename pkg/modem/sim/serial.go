// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sim

import (
	"bytes"
	"sync"
)

// Serial is a simulated UART implementing modem.SerialPort. Bytes sent by
// the modem are collected; each one completes on its own goroutine.
type Serial struct {
	mu       sync.Mutex
	out      bytes.Buffer
	received func(b byte)
	ready    func()
	notify   chan struct{}

	stalled bool
	held    int
}

// NewSerial creates an unbound serial port.
func NewSerial() *Serial {
	return &Serial{notify: make(chan struct{}, 1)}
}

// Bind sets the handlers, normally a modem's SerialByteReceived and
// SerialReady.
func (s *Serial) Bind(received func(b byte), ready func()) {
	s.mu.Lock()
	s.received = received
	s.ready = ready
	s.mu.Unlock()
}

// SendByte implements modem.SerialPort.
func (s *Serial) SendByte(b byte) {
	s.mu.Lock()
	s.out.WriteByte(b)
	ready := s.ready
	if s.stalled {
		s.held++
		ready = nil
	}
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	if ready != nil {
		go ready()
	}
}

// Feed delivers p to the modem one byte at a time, as the receive
// interrupt would.
func (s *Serial) Feed(p []byte) {
	s.mu.Lock()
	received := s.received
	s.mu.Unlock()
	if received == nil {
		return
	}
	for _, b := range p {
		received(b)
	}
}

// Output returns a copy of everything sent so far.
func (s *Serial) Output() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.out.Bytes()...)
}

// Drain returns everything sent since the last Drain and clears it.
func (s *Serial) Drain() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := append([]byte(nil), s.out.Bytes()...)
	s.out.Reset()
	return p
}

// Notify is signalled whenever a byte is sent.
func (s *Serial) Notify() <-chan struct{} {
	return s.notify
}

// Stall holds back ready signals, as a UART blocked by flow control would.
func (s *Serial) Stall() {
	s.mu.Lock()
	s.stalled = true
	s.mu.Unlock()
}

// Release delivers the held ready signals and resumes normal operation.
func (s *Serial) Release() {
	s.mu.Lock()
	s.stalled = false
	held := s.held
	s.held = 0
	ready := s.ready
	s.mu.Unlock()

	if ready == nil {
		return
	}
	for i := 0; i < held; i++ {
		go ready()
	}
}
