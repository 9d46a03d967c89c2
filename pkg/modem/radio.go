// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package modem

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// RadioAdapter is the radio hardware as seen by the link controller.
//
// Completion of a transmission or reception sets the end-of-packet flag and
// is signalled by calling the modem's RadioEvent handler. Transmit,
// StartReceive, StopReceive and Reset clear the flag, so an event that was
// raised before one of them finds it clear when it is handled.
// Implementations must not call back into the modem from any of these
// methods.
type RadioAdapter interface {
	// Transmit writes frame to the transmit queue and starts sending.
	Transmit(frame []byte) error
	// StartReceive enters receive mode.
	StartReceive() error
	// StopReceive returns to idle and flushes the receive queue.
	StopReceive() error
	// EndOfPacket reports and clears the end-of-packet flag.
	EndOfPacket() bool
	// ReadFrame copies the received frame, status bytes included, into dst.
	ReadFrame(dst []byte) (int, error)
	// Status issues a no-op command and returns the chip status.
	Status() (ChipStatus, error)
	// Reset fully resets and reinitialises the radio at the given power.
	Reset(txPower byte) error
}

// RadioState is the link controller's view of the radio.
type RadioState int

const (
	RadioIdle RadioState = iota
	RadioListening
	RadioTransmitting
	RadioReceiving
	RadioFaulted
)

func (s RadioState) String() string {
	switch s {
	case RadioIdle:
		return "idle"
	case RadioListening:
		return "listening"
	case RadioTransmitting:
		return "transmitting"
	case RadioReceiving:
		return "receiving"
	case RadioFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Completion is the operation a radio event finished.
type Completion int

const (
	CompletionNone Completion = iota
	CompletionTransmit
	CompletionReceive
)

// Controller owns the radio's operating state. It never resets the radio
// on its own; a fault sticks until Reset is called. Methods run inside the
// modem's critical section.
type Controller struct {
	radio RadioAdapter
	codec Codec
	state RadioState
	fault *FaultError

	rx []byte
	tx []byte

	log logrus.FieldLogger
}

// NewController creates a controller in the Idle state.
func NewController(radio RadioAdapter, capacity int, log logrus.FieldLogger) *Controller {
	return &Controller{
		radio: radio,
		codec: Codec{Capacity: capacity},
		state: RadioIdle,
		rx:    make([]byte, LengthFieldSize+capacity+StatusFieldSize),
		tx:    make([]byte, LengthFieldSize+capacity),
		log:   log,
	}
}

// State returns the current radio state.
func (c *Controller) State() RadioState {
	return c.state
}

// Fault returns the fault that put the radio in the Faulted state.
func (c *Controller) Fault() *FaultError {
	return c.fault
}

func (c *Controller) setState(s RadioState) {
	if s != c.state {
		c.log.WithFields(logrus.Fields{"from": c.state, "to": s}).Debug("radio state")
		c.state = s
	}
}

// Faulted marks the radio faulted and returns the fault.
func (c *Controller) Faulted(kind FaultKind, status ChipStatus, err error) *FaultError {
	c.fault = &FaultError{Kind: kind, Status: status, Err: err}
	c.setState(RadioFaulted)
	return c.fault
}

// QueryState returns the radio's state bits.
func (c *Controller) QueryState() (ChipStatus, error) {
	status, err := c.radio.Status()
	if err != nil {
		return 0, fmt.Errorf("query radio status: %w", err)
	}
	return status.State(), nil
}

// StopReceive leaves receive mode. A faulted radio stays faulted.
func (c *Controller) StopReceive() error {
	if err := c.radio.StopReceive(); err != nil {
		return fmt.Errorf("stop receive: %w", err)
	}
	if c.state == RadioListening {
		c.setState(RadioIdle)
	}
	return nil
}

// Reset fully resets the radio and clears any fault.
func (c *Controller) Reset(txPower byte) error {
	if err := c.radio.Reset(txPower); err != nil {
		return fmt.Errorf("reset radio: %w", err)
	}
	c.fault = nil
	c.setState(RadioIdle)
	return nil
}

// Listen enters receive mode. The caller has confirmed the chip is idle.
func (c *Controller) Listen() error {
	if c.state != RadioIdle {
		return fmt.Errorf("%w: listen from %s", ErrRadioBusy, c.state)
	}
	if err := c.radio.StartReceive(); err != nil {
		return c.Faulted(FaultAdapter, 0, fmt.Errorf("start receive: %w", err))
	}
	c.setState(RadioListening)
	return nil
}

// Transmit encodes msg and starts sending it, leaving receive mode first.
func (c *Controller) Transmit(msg []byte) error {
	if c.state != RadioIdle && c.state != RadioListening {
		return fmt.Errorf("%w: transmit from %s", ErrRadioBusy, c.state)
	}

	frame, err := c.codec.Encode(c.tx, msg)
	if err != nil {
		return err
	}

	if c.state == RadioListening {
		if err := c.StopReceive(); err != nil {
			return c.Faulted(FaultAdapter, 0, err)
		}
	}

	c.setState(RadioTransmitting)
	if err := c.radio.Transmit(frame); err != nil {
		return c.Faulted(FaultAdapter, 0, fmt.Errorf("transmit: %w", err))
	}
	return nil
}

// Complete handles the radio's end-of-packet event. For a reception it
// reads and decodes the frame; the returned payload aliases the controller's
// receive buffer and is valid until the next event. Any failure leaves the
// radio Faulted. An event whose flag was cleared by a later command, such as
// a reception that ended just before a transmission started, completes
// nothing.
func (c *Controller) Complete() (Completion, Received, error) {
	if !c.radio.EndOfPacket() {
		return CompletionNone, Received{}, nil
	}

	switch c.state {
	case RadioTransmitting:
		c.setState(RadioIdle)
		return CompletionTransmit, Received{}, nil

	case RadioListening:
		r, err := c.receive()
		return CompletionReceive, r, err

	default:
		return CompletionNone, Received{}, nil
	}
}

func (c *Controller) receive() (Received, error) {
	c.setState(RadioReceiving)

	// The radio drops to idle at the end of a packet
	status, err := c.QueryState()
	if err != nil {
		return Received{}, c.Faulted(FaultAdapter, 0, err)
	}
	if status != ChipIdle {
		return Received{}, c.Faulted(FaultStatusMismatch, status, ErrStatusMismatch)
	}

	n, err := c.radio.ReadFrame(c.rx)
	if err != nil {
		return Received{}, c.Faulted(FaultShortFrame, status, fmt.Errorf("read frame: %w", err))
	}

	r, err := c.codec.Decode(c.rx[:n])
	if err != nil {
		return Received{}, c.Faulted(faultKindOf(err), status, err)
	}

	c.setState(RadioIdle)
	return r, nil
}
