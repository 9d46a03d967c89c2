// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package modem

import (
	"errors"
	"fmt"
)

var (
	// ErrIngressOverflow means a serial byte arrived with the ingress buffer full.
	ErrIngressOverflow = errors.New("ingress buffer full")
	// ErrNoTerminator means a dispatch found no message boundary.
	ErrNoTerminator = errors.New("no terminator in ingress buffer")
	// ErrEgressOverflow means a decoded frame did not fit the egress buffer.
	ErrEgressOverflow = errors.New("egress buffer full")

	ErrMalformedFrame  = errors.New("malformed frame")
	ErrShortFrame      = errors.New("short frame")
	ErrCRCFailure      = errors.New("CRC check failed")
	ErrStatusMismatch  = errors.New("unexpected radio status")
	ErrIdleTimeout     = errors.New("radio did not reach idle")
	ErrPayloadTooLarge = errors.New("payload exceeds frame capacity")
	ErrEmptyPayload    = errors.New("empty payload")
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrRadioBusy       = errors.New("radio busy")
)

// FaultKind classifies a link fault.
type FaultKind int

const (
	FaultStatusMismatch FaultKind = iota
	FaultShortFrame
	FaultCRC
	FaultIdleTimeout
	FaultAdapter
)

func (k FaultKind) String() string {
	switch k {
	case FaultStatusMismatch:
		return "status mismatch"
	case FaultShortFrame:
		return "short frame"
	case FaultCRC:
		return "CRC failure"
	case FaultIdleTimeout:
		return "idle timeout"
	case FaultAdapter:
		return "adapter error"
	default:
		return "unknown"
	}
}

// FaultError is a link fault. The radio stays Faulted until the supervisor
// resets it.
type FaultError struct {
	Kind   FaultKind
	Status ChipStatus
	Err    error
}

func (e *FaultError) Error() string {
	if e.Kind == FaultStatusMismatch || e.Kind == FaultIdleTimeout {
		return fmt.Sprintf("link fault (%s, status %s): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("link fault (%s): %v", e.Kind, e.Err)
}

func (e *FaultError) Unwrap() error {
	return e.Err
}

// faultKindOf maps a decode error onto the fault it causes.
func faultKindOf(err error) FaultKind {
	switch {
	case errors.Is(err, ErrCRCFailure):
		return FaultCRC
	case errors.Is(err, ErrShortFrame), errors.Is(err, ErrMalformedFrame):
		return FaultShortFrame
	default:
		return FaultAdapter
	}
}
