// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package modem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Modem is the context shared by the hardware event handlers and the link
// supervisor. All buffers and flags live here.
//
// mu is the critical section: every handler holds it for its whole
// duration, so handlers never interleave, and the supervisor holds it while
// it decides whether a message is ready and mutates the ingress buffer.
type Modem struct {
	cfg Config

	mu      sync.Mutex
	ingress *Ingress
	egress  *Egress
	radio   *Controller
	timer   *FlushTimer
	msg     []byte
	stats   Stats
	linkUps int // consecutive failed attempts to start listening

	wake chan struct{}

	log      logrus.FieldLogger
	after    AfterFunc
	activity Indicator
	txLight  Indicator
}

// Option customises a Modem.
type Option func(*Modem)

// WithLogger sets the logger. Lines carry whatever fields the logger has.
func WithLogger(log logrus.FieldLogger) Option {
	return func(m *Modem) {
		m.log = log
	}
}

// WithAfterFunc replaces the scheduler behind the flush timer.
func WithAfterFunc(after AfterFunc) Option {
	return func(m *Modem) {
		m.after = after
	}
}

// WithIndicators sets the activity light, toggled once per supervisor
// iteration, and the transmit light, lit while a frame is on the air.
func WithIndicators(activity, transmit Indicator) Option {
	return func(m *Modem) {
		if activity != nil {
			m.activity = activity
		}
		if transmit != nil {
			m.txLight = transmit
		}
	}
}

// New creates a modem driving radio and port.
func New(cfg Config, radio RadioAdapter, port SerialPort, opts ...Option) (*Modem, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if radio == nil || port == nil {
		return nil, fmt.Errorf("%w: radio and serial port are required", ErrInvalidConfig)
	}

	m := &Modem{
		cfg:      cfg,
		msg:      make([]byte, cfg.PayloadCapacity),
		wake:     make(chan struct{}, 1),
		after:    RealAfterFunc,
		activity: noIndicator{},
		txLight:  noIndicator{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		m.log = discard
	}

	m.timer = NewFlushTimer(cfg.FlushTimeout(), m.after, m.flushExpired)
	m.ingress = NewIngress(cfg.IngressCapacity, m.timer)
	m.egress = NewEgress(cfg.EgressCapacity, port)
	m.radio = NewController(radio, cfg.PayloadCapacity, m.log)
	return m, nil
}

// Config returns the modem's configuration.
func (m *Modem) Config() Config {
	return m.cfg
}

// Stats returns a snapshot of the counters.
func (m *Modem) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// RadioState returns the link controller's current state.
func (m *Modem) RadioState() RadioState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.radio.State()
}

// signal wakes the supervisor. A wake-up posted while the supervisor is busy
// is kept for its next wait.
func (m *Modem) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// ============================================================
// Event handlers
// ============================================================

// SerialByteReceived handles one byte from the serial link.
func (m *Modem) SerialByteReceived(b byte) {
	m.mu.Lock()
	m.stats.BytesIn++
	ready, err := m.ingress.Accept(b)
	if err != nil {
		m.stats.IngressDrops++
		m.log.WithField("byte", b).Debug("ingress buffer full, byte dropped")
	}
	m.mu.Unlock()

	if ready {
		m.signal()
	}
}

// SerialReady handles the serial port finishing a byte.
func (m *Modem) SerialReady() {
	m.mu.Lock()
	if m.egress.Len() > 0 {
		m.stats.BytesOut++
	}
	m.egress.Ready()
	m.mu.Unlock()
}

// RadioEvent handles the radio's end-of-packet signal.
func (m *Modem) RadioEvent() {
	m.mu.Lock()
	completion, r, err := m.radio.Complete()
	switch completion {
	case CompletionTransmit:
		m.stats.FramesSent++
		m.txLight.Set(false)

	case CompletionReceive:
		if err != nil {
			m.stats.recordFault(err)
			m.log.WithError(err).Warn("receive failed, radio reset pending")
			break
		}
		m.stats.FramesReceived++
		if err := m.egress.Append(r); err != nil {
			m.stats.EgressDrops++
			m.log.WithFields(logrus.Fields{
				"payload": len(r.Payload),
				"queued":  m.egress.Len(),
			}).Debug("egress buffer full, frame dropped")
		}
	}
	m.mu.Unlock()

	m.signal()
}

func (m *Modem) flushExpired(gen uint64) {
	m.mu.Lock()
	flush := m.ingress.Expire(gen)
	if flush {
		m.stats.TimeoutFlushes++
	}
	m.mu.Unlock()

	if flush {
		m.signal()
	}
}

// ============================================================
// Link supervisor
// ============================================================

// Run resets the radio and runs the supervisor loop until ctx is done.
func (m *Modem) Run(ctx context.Context) error {
	m.mu.Lock()
	m.stats.StartTime = time.Now()
	if err := m.radio.Reset(m.cfg.TxPower); err != nil {
		m.stats.ResetFailures++
		m.radio.Faulted(FaultAdapter, 0, err)
		m.log.WithError(err).Warn("initial radio reset failed")
	}
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"payload":       m.cfg.PayloadCapacity,
		"flush_timeout": m.cfg.FlushTimeout(),
		"tx_power":      fmt.Sprintf("0x%02X", m.cfg.TxPower),
	}).Info("modem started")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.activity.Toggle()

		if !m.ensureListening(ctx) {
			continue
		}

		if !m.dispatchable() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-m.wake:
			}
		}

		m.dispatch()
	}
}

// ensureListening puts an idle or faulted radio back into receive mode. It
// returns false when the radio could not be brought up; the next call
// starts over with a reset.
func (m *Modem) ensureListening(ctx context.Context) bool {
	m.mu.Lock()
	state := m.radio.State()
	if state == RadioTransmitting || state == RadioListening {
		m.mu.Unlock()
		return true
	}

	if err := m.radio.StopReceive(); err != nil && state != RadioFaulted {
		m.stats.recordFault(m.radio.Faulted(FaultAdapter, 0, err))
	}

	if m.radio.State() == RadioFaulted {
		fault := m.radio.Fault()
		if err := m.radio.Reset(m.cfg.TxPower); err != nil {
			m.stats.ResetFailures++
			m.linkUps++
			m.logLinkDown(err, "radio reset failed")
			m.mu.Unlock()
			sleepCtx(ctx, m.cfg.IdlePollInterval())
			return false
		}
		m.stats.Resets++
		m.log.WithField("fault", fault).Info("radio reset")
	}
	m.mu.Unlock()

	status, ok := m.waitIdle(ctx)
	if ctx.Err() != nil {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !ok {
		fault := m.radio.Faulted(FaultIdleTimeout, status, ErrIdleTimeout)
		m.stats.recordFault(fault)
		m.linkUps++
		m.logLinkDown(fault, "radio stuck, escalating to reset")
		return false
	}

	if err := m.radio.Listen(); err != nil {
		m.stats.recordFault(err)
		m.linkUps++
		m.logLinkDown(err, "start receive failed")
		return false
	}
	m.linkUps = 0
	return true
}

// waitIdle polls the radio until it reports idle, at most IdlePollRetries
// times.
func (m *Modem) waitIdle(ctx context.Context) (ChipStatus, bool) {
	var status ChipStatus
	for i := 0; i < m.cfg.IdlePollRetries; i++ {
		m.mu.Lock()
		s, err := m.radio.QueryState()
		m.mu.Unlock()

		if err == nil {
			status = s
			if s == ChipIdle {
				return s, true
			}
		}
		if !sleepCtx(ctx, m.cfg.IdlePollInterval()) {
			return status, false
		}
	}
	return status, false
}

func (m *Modem) logLinkDown(err error, msg string) {
	entry := m.log.WithError(err).WithField("attempt", m.linkUps)
	if m.linkUps >= m.cfg.MaxResetAttempts {
		entry.Error(msg)
		return
	}
	entry.Warn(msg)
}

// dispatchable reports whether a message can go out right away.
func (m *Modem) dispatchable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canTransmit() && m.ingress.Pending()
}

func (m *Modem) canTransmit() bool {
	state := m.radio.State()
	return state == RadioIdle || state == RadioListening
}

// dispatch sends the next ready message. Finding the message, shifting the
// residual bytes and starting the transmission is one critical section.
func (m *Modem) dispatch() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.canTransmit() || !m.ingress.Pending() {
		return
	}

	n, timeout, err := m.ingress.Take(m.msg, m.cfg.PayloadCapacity)
	if err != nil {
		m.stats.DiscardedDispatches++
		m.log.WithError(err).Debug("dispatch without a message, ingress cleared")
		return
	}

	if err := m.radio.Transmit(m.msg[:n]); err != nil {
		var fault *FaultError
		if errors.As(err, &fault) {
			m.stats.recordFault(err)
		}
		m.log.WithError(err).WithField("length", n).Warn("transmit failed, message dropped")
		return
	}
	m.txLight.Set(true)
	m.log.WithFields(logrus.Fields{"length": n, "timeout": timeout}).Debug("frame queued")
}

// sleepCtx waits for d or until ctx is done. It reports whether the full
// delay elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
