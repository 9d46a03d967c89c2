// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package hostio attaches a modem's serial side to a host byte stream such
// as a serial device, a WebSocket bridge or a terminal.
package hostio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Port adapts an io.ReadWriter to modem.SerialPort.
//
// Bytes read from the stream are delivered to the receive handler one at a
// time. Bytes sent by the modem are written by a separate goroutine, which
// signals the ready handler after each one and flushes whenever the modem
// has nothing more queued.
type Port struct {
	rw  io.ReadWriter
	out chan byte
	log logrus.FieldLogger

	received func(b byte)
	ready    func()

	overruns atomic.Uint64
}

// New creates a port over rw.
func New(rw io.ReadWriter, log logrus.FieldLogger) *Port {
	return &Port{
		rw:  rw,
		out: make(chan byte, 1),
		log: log,
	}
}

// Bind sets the handlers, normally a modem's SerialByteReceived and
// SerialReady. Call before Run.
func (p *Port) Bind(received func(b byte), ready func()) {
	p.received = received
	p.ready = ready
}

// SendByte implements modem.SerialPort. It never blocks; the modem keeps at
// most one byte outstanding, so a full queue means the contract was broken
// and the byte is counted as an overrun.
func (p *Port) SendByte(b byte) {
	select {
	case p.out <- b:
	default:
		p.overruns.Add(1)
	}
}

// Overruns returns the number of bytes dropped by SendByte.
func (p *Port) Overruns() uint64 {
	return p.overruns.Load()
}

// Run pumps bytes in both directions until ctx is done or the stream
// fails. Closing the stream is the caller's job.
func (p *Port) Run(ctx context.Context) error {
	if p.received == nil || p.ready == nil {
		return errors.New("hostio: port not bound")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 2)
	go func() { errc <- p.readLoop() }()
	go func() { errc <- p.writeLoop(ctx) }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errc:
		return err
	}
}

func (p *Port) readLoop() error {
	buf := make([]byte, 128)
	for {
		n, err := p.rw.Read(buf)
		for i := 0; i < n; i++ {
			p.received(buf[i])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				p.log.Debug("host stream closed")
				return io.EOF
			}
			return fmt.Errorf("read host stream: %w", err)
		}
	}
}

func (p *Port) writeLoop(ctx context.Context) error {
	w := bufio.NewWriter(p.rw)
	for {
		select {
		case <-ctx.Done():
			w.Flush()
			return ctx.Err()
		case b := <-p.out:
			if err := w.WriteByte(b); err != nil {
				return fmt.Errorf("write host stream: %w", err)
			}
			// The modem queues its next byte from inside the handler
			p.ready()
			if len(p.out) == 0 {
				if err := w.Flush(); err != nil {
					return fmt.Errorf("write host stream: %w", err)
				}
			}
		}
	}
}
