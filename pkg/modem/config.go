// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package modem

import (
	"fmt"
	"time"
)

// Config holds the tunable parameters of a modem instance.
type Config struct {
	PayloadCapacity    int   `mapstructure:"payload_capacity"`
	IngressCapacity    int   `mapstructure:"ingress_capacity"`
	EgressCapacity     int   `mapstructure:"egress_capacity"`
	FlushTimeoutMs     int   `mapstructure:"flush_timeout_ms"`
	TxPower            uint8 `mapstructure:"tx_power"`
	IdlePollRetries    int   `mapstructure:"idle_poll_retries"`
	IdlePollIntervalMs int   `mapstructure:"idle_poll_interval_ms"`
	MaxResetAttempts   int   `mapstructure:"max_reset_attempts"`
}

// DefaultConfig returns the configuration of the Snowcap radio board.
func DefaultConfig() Config {
	return Config{
		PayloadCapacity:    DefaultPayloadCapacity,
		IngressCapacity:    DefaultBufferCapacity,
		EgressCapacity:     DefaultBufferCapacity,
		FlushTimeoutMs:     DefaultFlushTimeoutMs,
		TxPower:            DefaultTxPower,
		IdlePollRetries:    DefaultIdlePollRetries,
		IdlePollIntervalMs: DefaultIdlePollMs,
		MaxResetAttempts:   DefaultMaxResetRetries,
	}
}

// Validate checks every field against its bounds.
func (c Config) Validate() error {
	if c.PayloadCapacity < 1 || c.PayloadCapacity > MaxPayloadCapacity {
		return fmt.Errorf("%w: payload capacity %d (valid 1-%d)", ErrInvalidConfig, c.PayloadCapacity, MaxPayloadCapacity)
	}
	if c.IngressCapacity < c.PayloadCapacity || c.IngressCapacity > MaxBufferCapacity {
		return fmt.Errorf("%w: ingress capacity %d (valid %d-%d)", ErrInvalidConfig, c.IngressCapacity, c.PayloadCapacity, MaxBufferCapacity)
	}
	// A full-size frame plus its shortest trailer must fit an empty buffer
	if minEgress := c.PayloadCapacity + trailerReserve; c.EgressCapacity < minEgress || c.EgressCapacity > MaxBufferCapacity {
		return fmt.Errorf("%w: egress capacity %d (valid %d-%d)", ErrInvalidConfig, c.EgressCapacity, minEgress, MaxBufferCapacity)
	}
	if c.FlushTimeoutMs < 1 {
		return fmt.Errorf("%w: flush timeout %d ms (min 1)", ErrInvalidConfig, c.FlushTimeoutMs)
	}
	if c.IdlePollRetries < 1 {
		return fmt.Errorf("%w: idle poll retries %d (min 1)", ErrInvalidConfig, c.IdlePollRetries)
	}
	if c.IdlePollIntervalMs < 0 {
		return fmt.Errorf("%w: idle poll interval %d ms", ErrInvalidConfig, c.IdlePollIntervalMs)
	}
	if c.MaxResetAttempts < 1 {
		return fmt.Errorf("%w: max reset attempts %d (min 1)", ErrInvalidConfig, c.MaxResetAttempts)
	}
	return nil
}

// FlushTimeout returns the inactivity window, clamped to MaxFlushTimeout.
func (c Config) FlushTimeout() time.Duration {
	d := time.Duration(c.FlushTimeoutMs) * time.Millisecond
	if d > MaxFlushTimeout {
		return MaxFlushTimeout
	}
	return d
}

// IdlePollInterval returns the delay between idle status polls.
func (c Config) IdlePollInterval() time.Duration {
	return time.Duration(c.IdlePollIntervalMs) * time.Millisecond
}
