// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package modem

import (
	"errors"
	"fmt"
	"time"
)

// Stats counts link events since the modem started.
type Stats struct {
	StartTime time.Time

	// Radio
	FramesSent       uint64
	FramesReceived   uint64
	CRCFailures      uint64
	ShortFrames      uint64
	StatusMismatches uint64
	AdapterErrors    uint64
	IdleTimeouts     uint64
	Resets           uint64
	ResetFailures    uint64

	// Serial
	BytesIn             uint64
	BytesOut            uint64
	IngressDrops        uint64
	EgressDrops         uint64
	TimeoutFlushes      uint64
	DiscardedDispatches uint64
}

// recordFault counts a link fault by kind.
func (s *Stats) recordFault(err error) {
	var fault *FaultError
	if !errors.As(err, &fault) {
		s.AdapterErrors++
		return
	}
	switch fault.Kind {
	case FaultCRC:
		s.CRCFailures++
	case FaultShortFrame:
		s.ShortFrames++
	case FaultStatusMismatch:
		s.StatusMismatches++
	case FaultIdleTimeout:
		s.IdleTimeouts++
	default:
		s.AdapterErrors++
	}
}

// LinkFaults returns the number of faults that forced a radio reset.
func (s Stats) LinkFaults() uint64 {
	return s.CRCFailures + s.ShortFrames + s.StatusMismatches + s.AdapterErrors + s.IdleTimeouts
}

// Uptime returns the time since the modem started.
func (s Stats) Uptime() time.Duration {
	if s.StartTime.IsZero() {
		return 0
	}
	return time.Since(s.StartTime)
}

// String returns a one-line summary.
func (s Stats) String() string {
	return fmt.Sprintf("tx=%d rx=%d crc=%d short=%d status=%d idle=%d resets=%d in=%d out=%d drop_in=%d drop_out=%d",
		s.FramesSent, s.FramesReceived, s.CRCFailures, s.ShortFrames, s.StatusMismatches,
		s.IdleTimeouts, s.Resets, s.BytesIn, s.BytesOut, s.IngressDrops, s.EgressDrops)
}
