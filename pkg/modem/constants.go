// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package modem implements the Snowcap radio modem core.
//
// The modem relays newline-terminated messages between a serial link and a
// half-duplex packet radio. Serial bytes are assembled into messages and sent
// as single radio frames; received frames are decoded, annotated with signal
// strength and link quality, and drained back out of the serial port one byte
// at a time.
//
// Hardware is reached only through the RadioAdapter and SerialPort
// interfaces. Hardware events are delivered by calling the Modem's handler
// methods (SerialByteReceived, SerialReady, RadioEvent); the flush timer
// delivers its own. Handlers are mutually exclusive, like interrupts on a
// single core, and the supervisor loop in Run masks them while it inspects
// or mutates shared state.
package modem

import "time"

// Terminator ends a message on the serial link.
const Terminator = '\n'

// Defaults
const (
	DefaultPayloadCapacity = 32
	DefaultBufferCapacity  = DefaultPayloadCapacity * 3
	DefaultFlushTimeoutMs  = 4
	DefaultTxPower         = 0x51 // 0 dBm
	DefaultIdlePollRetries = 50
	DefaultIdlePollMs      = 1
	DefaultMaxResetRetries = 3
)

// Limits
const (
	MaxPayloadCapacity = 61  // 64 byte radio FIFO minus length and two status bytes
	MaxBufferCapacity  = 255 // buffer indices are single bytes on the target
	MaxFlushTimeout    = 195 * time.Millisecond
)

// Radio frame layout
const (
	LengthFieldSize = 1
	StatusFieldSize = 2 // RSSI + CRC/LQI appended by the radio on reception

	// MinReceivedFrameSize is length + one payload byte + terminator + status bytes.
	MinReceivedFrameSize = LengthFieldSize + 1 + 1 + StatusFieldSize

	CRCOK   = 0x80 // CRC-valid flag in the final status byte
	LQIMask = 0x7F
)

// trailerReserve is the smallest diagnostics trailer: placeholder, space,
// placeholder, newline.
const trailerReserve = 4

// placeholder replaces a diagnostic value that does not fit the egress buffer.
const placeholder = 'X'

// ChipStatus is the state field of the radio's status byte.
type ChipStatus byte

// Radio chip states as reported by a no-op status strobe
const (
	ChipIdle        ChipStatus = 0x00
	ChipRx          ChipStatus = 0x10
	ChipTx          ChipStatus = 0x20
	ChipRxOverflow  ChipStatus = 0x60
	ChipTxUnderflow ChipStatus = 0x70

	ChipStateMask ChipStatus = 0x70
)

// State masks off everything but the state bits.
func (s ChipStatus) State() ChipStatus {
	return s & ChipStateMask
}

func (s ChipStatus) String() string {
	switch s.State() {
	case ChipIdle:
		return "IDLE"
	case ChipRx:
		return "RX"
	case ChipTx:
		return "TX"
	case ChipRxOverflow:
		return "RX_OVERFLOW"
	case ChipTxUnderflow:
		return "TX_UNDERFLOW"
	default:
		return "UNKNOWN"
	}
}
