// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package diag

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks relayed messages and link quality
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalMessages   uint64
	PayloadBytes    uint64
	RSSIPlaceholder uint64
	LQIPlaceholder  uint64
	LineOverflows   uint64
	DecodeErrors    uint64

	// Signal
	rssiSum   float64
	rssiCount uint64
	lqiSum    uint64
	lqiCount  uint64
	MinRSSI   float64
	MaxRSSI   float64

	// Rates (calculated)
	MessageRate float64 // messages/sec
	ByteRate    float64 // payload bytes/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update updates statistics based on a decoded message or decode error
func (s *Statistics) Update(msg *Message, decodeErr error) {
	if decodeErr != nil {
		if errors.Is(decodeErr, ErrLineOverflow) {
			s.LineOverflows++
		} else {
			s.DecodeErrors++
		}
		return
	}
	if msg == nil {
		return
	}

	s.TotalMessages++
	s.PayloadBytes += uint64(len(msg.Payload))

	if dbm, ok := msg.RSSIdBm(); ok {
		if s.rssiCount == 0 || dbm < s.MinRSSI {
			s.MinRSSI = dbm
		}
		if s.rssiCount == 0 || dbm > s.MaxRSSI {
			s.MaxRSSI = dbm
		}
		s.rssiSum += dbm
		s.rssiCount++
	} else {
		s.RSSIPlaceholder++
	}

	if msg.LQI == Unknown {
		s.LQIPlaceholder++
	} else {
		s.lqiSum += uint64(msg.LQI)
		s.lqiCount++
	}

	s.LastUpdateTime = time.Now()
}

// AverageRSSI returns the mean RSSI in dBm over messages that carried one
func (s *Statistics) AverageRSSI() (float64, bool) {
	if s.rssiCount == 0 {
		return 0, false
	}
	return s.rssiSum / float64(s.rssiCount), true
}

// AverageLQI returns the mean link quality over messages that carried one
func (s *Statistics) AverageLQI() (float64, bool) {
	if s.lqiCount == 0 {
		return 0, false
	}
	return float64(s.lqiSum) / float64(s.lqiCount), true
}

// CalculateRates calculates message and byte rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.MessageRate = float64(s.TotalMessages) / elapsed
		s.ByteRate = float64(s.PayloadBytes) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()
	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Messages:        %8d\n", s.TotalMessages)
	result += fmt.Sprintf("Payload Bytes:   %8d\n", s.PayloadBytes)

	if avg, ok := s.AverageRSSI(); ok {
		result += fmt.Sprintf("RSSI:            %8.1f dBm (min %.1f, max %.1f)\n", avg, s.MinRSSI, s.MaxRSSI)
	}
	if avg, ok := s.AverageLQI(); ok {
		result += fmt.Sprintf("LQI:             %8.1f\n", avg)
	}
	if s.RSSIPlaceholder > 0 || s.LQIPlaceholder > 0 {
		result += fmt.Sprintf("Placeholders:    %8d rssi, %d lqi\n", s.RSSIPlaceholder, s.LQIPlaceholder)
	}
	if s.LineOverflows > 0 {
		result += fmt.Sprintf("Line Overflows:  %8d\n", s.LineOverflows)
	}
	if s.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d\n", s.DecodeErrors)
	}

	result += fmt.Sprintf("Message Rate:    %8.1f msgs/sec\n", s.MessageRate)
	result += fmt.Sprintf("Byte Rate:       %8.1f bytes/sec\n", s.ByteRate)
	result += "================================\n"
	return result
}
