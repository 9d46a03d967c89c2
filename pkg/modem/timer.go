// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package modem

import "time"

// Stopper cancels a scheduled callback.
type Stopper interface {
	Stop() bool
}

// AfterFunc schedules f to run once after d.
type AfterFunc func(d time.Duration, f func()) Stopper

// RealAfterFunc schedules on the runtime timer.
func RealAfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}

// FlushTimer is the one-shot inactivity timer of the ingress path.
//
// Every Arm invalidates the previous schedule through a generation counter,
// so an expiry that raced with a re-arm or cancel is recognised as stale in
// Expire. Callers hold the modem's critical section.
type FlushTimer struct {
	timeout  time.Duration
	after    AfterFunc
	onExpire func(gen uint64)

	gen     uint64
	pending Stopper
}

// NewFlushTimer creates a disarmed timer. onExpire runs on the scheduler's
// goroutine and must enter the critical section before calling Expire.
func NewFlushTimer(timeout time.Duration, after AfterFunc, onExpire func(gen uint64)) *FlushTimer {
	if after == nil {
		after = RealAfterFunc
	}
	return &FlushTimer{
		timeout:  timeout,
		after:    after,
		onExpire: onExpire,
	}
}

// Arm cancels any pending expiry and starts a new countdown.
func (t *FlushTimer) Arm() {
	t.Cancel()
	t.gen++
	gen := t.gen
	t.pending = t.after(t.timeout, func() { t.onExpire(gen) })
}

// Cancel disarms the timer.
func (t *FlushTimer) Cancel() {
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
}

// Armed reports whether a countdown is running.
func (t *FlushTimer) Armed() bool {
	return t.pending != nil
}

// Expire consumes the expiry of generation gen. It returns false for a
// stale expiry.
func (t *FlushTimer) Expire(gen uint64) bool {
	if t.pending == nil || gen != t.gen {
		return false
	}
	t.pending = nil
	return true
}
