// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sim provides simulated radio and serial hardware for running
// modems on a host.
//
// Simulated hardware delivers its events (end of packet, serial byte sent)
// on fresh goroutines, never from inside a call made by the modem.
package sim

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/Thermoquad/snowcap/pkg/modem"
)

// fifoSize is the radio's receive FIFO in bytes.
const fifoSize = 64

var (
	ErrFIFOOverflow = errors.New("receive FIFO overflow")
	ErrFIFOEmpty    = errors.New("receive FIFO empty")
)

// Air is the shared medium. Every frame transmitted by one radio reaches
// every other radio on the same air that is in receive mode.
type Air struct {
	mu      sync.Mutex
	radios  []*Radio
	airtime time.Duration
	loss    float64
	corrupt float64
	rng     *rand.Rand
}

// NewAir creates an empty medium with no loss and zero airtime.
func NewAir() *Air {
	return &Air{rng: rand.New(rand.NewSource(1))}
}

// SetAirtime sets how long a frame occupies the medium.
func (a *Air) SetAirtime(d time.Duration) {
	a.mu.Lock()
	a.airtime = d
	a.mu.Unlock()
}

// SetLoss sets the probability that a receiver misses a frame.
func (a *Air) SetLoss(p float64, seed int64) {
	a.mu.Lock()
	a.loss = p
	a.rng = rand.New(rand.NewSource(seed))
	a.mu.Unlock()
}

// SetCorruption sets the probability that a frame arrives with a failed CRC.
func (a *Air) SetCorruption(p float64) {
	a.mu.Lock()
	a.corrupt = p
	a.mu.Unlock()
}

// NewRadio attaches a new idle radio to the medium.
func (a *Air) NewRadio(name string) *Radio {
	r := &Radio{
		air:  a,
		name: name,
		rssi: 0xD0,
		lqi:  0x20,
	}
	a.mu.Lock()
	a.radios = append(a.radios, r)
	a.mu.Unlock()
	return r
}

func (a *Air) broadcast(from *Radio, frame []byte) {
	a.mu.Lock()
	receivers := make([]*Radio, 0, len(a.radios))
	drops := make([]bool, 0, len(a.radios))
	corrupt := make([]bool, 0, len(a.radios))
	for _, r := range a.radios {
		if r == from {
			continue
		}
		receivers = append(receivers, r)
		drops = append(drops, a.loss > 0 && a.rng.Float64() < a.loss)
		corrupt = append(corrupt, a.corrupt > 0 && a.rng.Float64() < a.corrupt)
	}
	a.mu.Unlock()

	for i, r := range receivers {
		if drops[i] {
			continue
		}
		r.receive(frame, corrupt[i])
	}
}

// Radio is a simulated sub-GHz transceiver implementing modem.RadioAdapter.
type Radio struct {
	air  *Air
	name string

	mu      sync.Mutex
	chip    modem.ChipStatus
	fifo    []byte
	power   byte
	resets  int
	txLog   [][]byte
	rxCount int
	eop     bool // end-of-packet flag
	onEvent func()

	rssi byte
	lqi  byte

	stuck      modem.ChipStatus
	stuckCount int
	readErr    error
	resetErr   error
}

// Name returns the radio's name.
func (r *Radio) Name() string {
	return r.name
}

// Bind sets the end-of-packet handler, normally a modem's RadioEvent.
func (r *Radio) Bind(onEvent func()) {
	r.mu.Lock()
	r.onEvent = onEvent
	r.mu.Unlock()
}

// SetLink sets the RSSI and LQI reported for frames this radio receives.
func (r *Radio) SetLink(rssi, lqi byte) {
	r.mu.Lock()
	r.rssi = rssi
	r.lqi = lqi & modem.LQIMask
	r.mu.Unlock()
}

// fire raises the end-of-packet flag and runs the event handler on its own
// goroutine. Callers hold mu.
func (r *Radio) fire() {
	r.eop = true
	if r.onEvent != nil {
		go r.onEvent()
	}
}

// ============================================================
// modem.RadioAdapter
// ============================================================

// Transmit puts frame on the air. The end-of-packet event fires once the
// frame has been delivered.
func (r *Radio) Transmit(frame []byte) error {
	r.mu.Lock()
	sent := append([]byte(nil), frame...)
	r.txLog = append(r.txLog, sent)
	r.chip = modem.ChipTx
	r.eop = false
	r.mu.Unlock()

	r.air.mu.Lock()
	airtime := r.air.airtime
	r.air.mu.Unlock()

	go func() {
		if airtime > 0 {
			time.Sleep(airtime)
		}
		r.air.broadcast(r, sent)

		// A reset during the frame leaves nothing to complete
		r.mu.Lock()
		if r.chip == modem.ChipTx {
			r.chip = modem.ChipIdle
			r.fire()
		}
		r.mu.Unlock()
	}()
	return nil
}

// StartReceive enters receive mode.
func (r *Radio) StartReceive() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chip = modem.ChipRx
	r.eop = false
	return nil
}

// StopReceive strobes idle and flushes the receive FIFO.
func (r *Radio) StopReceive() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.chip == modem.ChipRx || r.chip == modem.ChipRxOverflow {
		r.chip = modem.ChipIdle
	}
	r.fifo = nil
	r.eop = false
	return nil
}

// EndOfPacket reports and clears the end-of-packet flag.
func (r *Radio) EndOfPacket() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	eop := r.eop
	r.eop = false
	return eop
}

// ReadFrame drains the receive FIFO into dst.
func (r *Radio) ReadFrame(dst []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.readErr; err != nil {
		r.readErr = nil
		return 0, err
	}
	if len(r.fifo) == 0 {
		return 0, ErrFIFOEmpty
	}
	if len(r.fifo) > len(dst) {
		r.fifo = nil
		return 0, ErrFIFOOverflow
	}
	n := copy(dst, r.fifo)
	r.fifo = nil
	return n, nil
}

// Status returns the chip state.
func (r *Radio) Status() (modem.ChipStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stuckCount > 0 {
		r.stuckCount--
		return r.stuck, nil
	}
	return r.chip, nil
}

// Reset returns the radio to idle at the given output power.
func (r *Radio) Reset(txPower byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.resetErr; err != nil {
		r.resetErr = nil
		return err
	}
	r.resets++
	r.power = txPower
	r.chip = modem.ChipIdle
	r.fifo = nil
	r.eop = false
	return nil
}

func (r *Radio) receive(frame []byte, corrupt bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.chip != modem.ChipRx {
		return
	}
	status := modem.CRCOK | r.lqi
	if corrupt {
		status = r.lqi
	}
	r.load(append(append([]byte(nil), frame...), r.rssi, status))
}

// load places raw in the FIFO and ends the packet. Callers hold mu.
func (r *Radio) load(raw []byte) {
	if len(raw) > fifoSize {
		r.chip = modem.ChipRxOverflow
	} else {
		r.chip = modem.ChipIdle
	}
	r.fifo = raw
	r.rxCount++
	r.fire()
}

// ============================================================
// Test hooks
// ============================================================

// Inject delivers raw, status bytes included, as if it had been received
// off the air. It reports whether the radio was listening.
func (r *Radio) Inject(raw []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.chip != modem.ChipRx {
		return false
	}
	r.load(append([]byte(nil), raw...))
	return true
}

// StickStatus makes the next count status queries report status.
func (r *Radio) StickStatus(status modem.ChipStatus, count int) {
	r.mu.Lock()
	r.stuck = status
	r.stuckCount = count
	r.mu.Unlock()
}

// FailNextRead makes the next ReadFrame return err.
func (r *Radio) FailNextRead(err error) {
	r.mu.Lock()
	r.readErr = err
	r.mu.Unlock()
}

// FailNextReset makes the next Reset return err.
func (r *Radio) FailNextReset(err error) {
	r.mu.Lock()
	r.resetErr = err
	r.mu.Unlock()
}

// TxLog returns copies of every frame transmitted.
func (r *Radio) TxLog() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.txLog))
	for i, f := range r.txLog {
		out[i] = append([]byte(nil), f...)
	}
	return out
}

// Listening reports whether the radio is in receive mode.
func (r *Radio) Listening() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chip == modem.ChipRx
}

// Resets returns the number of successful resets.
func (r *Radio) Resets() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resets
}

// Power returns the output power set by the last reset.
func (r *Radio) Power() byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.power
}

// Received returns the number of frames that ended in this radio's FIFO.
func (r *Radio) Received() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rxCount
}
