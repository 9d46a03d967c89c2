// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sim

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/snowcap/pkg/modem"
)

func TestRadioDeliversToListeningPeers(t *testing.T) {
	air := NewAir()
	a := air.NewRadio("a")
	b := air.NewRadio("b")
	c := air.NewRadio("c")
	b.SetLink(200, 45)

	var events atomic.Int32
	b.Bind(func() { events.Add(1) })

	require.NoError(t, b.StartReceive())
	require.NoError(t, a.Transmit([]byte{2, 'A', '\n'}))

	require.Eventually(t, func() bool { return events.Load() == 1 }, time.Second, time.Millisecond)

	status, err := b.Status()
	require.NoError(t, err)
	require.Equal(t, modem.ChipIdle, status)

	buf := make([]byte, 16)
	n, err := b.ReadFrame(buf)
	require.NoError(t, err)
	require.Equal(t, []byte{2, 'A', '\n', 200, modem.CRCOK | 45}, buf[:n])

	// c never listened
	require.Equal(t, 0, c.Received())
	require.Equal(t, [][]byte{{2, 'A', '\n'}}, a.TxLog())
}

func TestRadioTransmitCompletes(t *testing.T) {
	air := NewAir()
	a := air.NewRadio("a")

	done := make(chan struct{}, 1)
	a.Bind(func() { done <- struct{}{} })
	require.NoError(t, a.Transmit([]byte{1, 'x'}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("no end-of-packet event")
	}
	status, err := a.Status()
	require.NoError(t, err)
	require.Equal(t, modem.ChipIdle, status)
}

func TestRadioEndOfPacketFlag(t *testing.T) {
	air := NewAir()
	// Long enough that b's own transmission below is still on the air
	air.SetAirtime(200 * time.Millisecond)
	a := air.NewRadio("a")
	b := air.NewRadio("b")

	var events atomic.Int32
	b.Bind(func() { events.Add(1) })
	require.NoError(t, b.StartReceive())
	require.NoError(t, a.Transmit([]byte{1, 'x'}))
	require.Eventually(t, func() bool { return events.Load() == 1 }, time.Second, time.Millisecond)

	require.True(t, b.EndOfPacket())
	require.False(t, b.EndOfPacket(), "reading clears the flag")

	// Commands clear a flag that has not been handled yet
	clears := []struct {
		name string
		cmd  func() error
	}{
		{"stop receive", b.StopReceive},
		{"start receive", b.StartReceive},
		{"transmit", func() error { return b.Transmit([]byte{1, 'y'}) }},
		{"reset", func() error { return b.Reset(0x51) }},
	}
	for _, tt := range clears {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, b.StartReceive())
			require.True(t, b.Inject([]byte{1, 'z', 0, modem.CRCOK}))
			require.NoError(t, tt.cmd())
			require.False(t, b.EndOfPacket())
		})
	}
}

func TestRadioCorruption(t *testing.T) {
	air := NewAir()
	air.SetCorruption(1)
	a := air.NewRadio("a")
	b := air.NewRadio("b")

	var events atomic.Int32
	b.Bind(func() { events.Add(1) })
	require.NoError(t, b.StartReceive())
	require.NoError(t, a.Transmit([]byte{1, 'x'}))
	require.Eventually(t, func() bool { return events.Load() == 1 }, time.Second, time.Millisecond)

	buf := make([]byte, 16)
	n, err := b.ReadFrame(buf)
	require.NoError(t, err)
	require.Zero(t, buf[n-1]&modem.CRCOK)
}

func TestRadioLoss(t *testing.T) {
	air := NewAir()
	air.SetLoss(1, 7)
	a := air.NewRadio("a")
	b := air.NewRadio("b")
	require.NoError(t, b.StartReceive())

	done := make(chan struct{}, 1)
	a.Bind(func() { done <- struct{}{} })
	require.NoError(t, a.Transmit([]byte{1, 'x'}))
	<-done

	require.Equal(t, 0, b.Received())
	require.True(t, b.Listening())
}

func TestRadioInject(t *testing.T) {
	air := NewAir()
	r := air.NewRadio("r")
	r.Bind(func() {})

	require.False(t, r.Inject([]byte{1, 'x', 0, modem.CRCOK}), "not listening")
	require.NoError(t, r.StartReceive())
	require.True(t, r.Inject([]byte{1, 'x', 0, modem.CRCOK}))

	// Oversized injection overflows the FIFO
	require.NoError(t, r.StartReceive())
	require.True(t, r.Inject(make([]byte, fifoSize+1)))
	status, err := r.Status()
	require.NoError(t, err)
	require.Equal(t, modem.ChipRxOverflow, status)
	_, err = r.ReadFrame(make([]byte, fifoSize))
	require.ErrorIs(t, err, ErrFIFOOverflow)
}

func TestRadioFaultHooks(t *testing.T) {
	air := NewAir()
	r := air.NewRadio("r")

	r.StickStatus(modem.ChipTx, 2)
	for i := 0; i < 2; i++ {
		status, err := r.Status()
		require.NoError(t, err)
		require.Equal(t, modem.ChipTx, status)
	}
	status, err := r.Status()
	require.NoError(t, err)
	require.Equal(t, modem.ChipIdle, status)

	boom := errors.New("boom")
	r.FailNextRead(boom)
	_, err = r.ReadFrame(make([]byte, 8))
	require.ErrorIs(t, err, boom)
	_, err = r.ReadFrame(make([]byte, 8))
	require.ErrorIs(t, err, ErrFIFOEmpty)

	r.FailNextReset(boom)
	require.ErrorIs(t, r.Reset(0x51), boom)
	require.Equal(t, 0, r.Resets())
	require.NoError(t, r.Reset(0x51))
	require.Equal(t, 1, r.Resets())
	require.Equal(t, byte(0x51), r.Power())
}

func TestSerialSendCompletes(t *testing.T) {
	s := NewSerial()
	var ready atomic.Int32
	s.Bind(func(byte) {}, func() { ready.Add(1) })

	s.SendByte('a')
	s.SendByte('b')

	require.Eventually(t, func() bool { return ready.Load() == 2 }, time.Second, time.Millisecond)
	require.Equal(t, []byte("ab"), s.Output())
	require.Equal(t, []byte("ab"), s.Drain())
	require.Empty(t, s.Output())
}

func TestSerialStall(t *testing.T) {
	s := NewSerial()
	var ready atomic.Int32
	s.Bind(func(byte) {}, func() { ready.Add(1) })

	s.Stall()
	s.SendByte('a')
	require.Never(t, func() bool { return ready.Load() > 0 }, 20*time.Millisecond, time.Millisecond)
	require.Equal(t, []byte("a"), s.Output())

	s.Release()
	require.Eventually(t, func() bool { return ready.Load() == 1 }, time.Second, time.Millisecond)
}

func TestSerialFeed(t *testing.T) {
	s := NewSerial()
	var got []byte
	s.Bind(func(b byte) { got = append(got, b) }, nil)

	s.Feed([]byte("HELLO\n"))
	require.Equal(t, []byte("HELLO\n"), got)
}
