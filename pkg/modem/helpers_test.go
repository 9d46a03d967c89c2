// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package modem

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// manualClock schedules nothing on its own; tests fire timers explicitly.
type manualClock struct {
	timers []*manualTimer
}

type manualTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Stopper {
	t := &manualTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// armed returns the live timer, if any.
func (c *manualClock) armed() *manualTimer {
	for i := len(c.timers) - 1; i >= 0; i-- {
		if !c.timers[i].stopped {
			return c.timers[i]
		}
	}
	return nil
}

// fire runs the live timer. It reports whether one was armed.
func (c *manualClock) fire() bool {
	t := c.armed()
	if t == nil {
		return false
	}
	t.stopped = true
	t.f()
	return true
}

type recordPort struct {
	sent []byte
}

func (p *recordPort) SendByte(b byte) {
	p.sent = append(p.sent, b)
}

// drain acknowledges every byte until the egress buffer is empty.
func drain(e *Egress) {
	for e.Len() > 0 {
		e.Ready()
	}
}
