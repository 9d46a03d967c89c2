// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package modem_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/snowcap/pkg/modem"
	"github.com/Thermoquad/snowcap/pkg/modem/sim"
)

const (
	waitFor = 2 * time.Second
	tick    = time.Millisecond
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func startNode(t *testing.T, air *sim.Air, name string, cfg modem.Config, opts ...modem.Option) *sim.Node {
	t.Helper()
	opts = append([]modem.Option{modem.WithLogger(testLogger())}, opts...)
	node, err := sim.NewNode(air, name, cfg, opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- node.Modem.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	waitListening(t, node)
	return node
}

func waitListening(t *testing.T, node *sim.Node) {
	t.Helper()
	require.Eventually(t, node.Radio.Listening, waitFor, tick, "%s never started listening", node.Radio.Name())
}

// startPair links two modems. Frames hold the air for a few milliseconds so
// a receiver is listening again before the next frame starts.
func startPair(t *testing.T) (*sim.Node, *sim.Node) {
	air := sim.NewAir()
	air.SetAirtime(5 * time.Millisecond)
	a := startNode(t, air, "a", modem.DefaultConfig())
	b := startNode(t, air, "b", modem.DefaultConfig())
	b.Radio.SetLink(200, 45)
	return a, b
}

func eventuallyOutput(t *testing.T, node *sim.Node, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return string(node.Serial.Output()) == want
	}, waitFor, tick, "got %q, want %q", node.Serial.Output(), want)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*modem.Config)
	}{
		{"zero payload", func(c *modem.Config) { c.PayloadCapacity = 0 }},
		{"payload over fifo", func(c *modem.Config) { c.PayloadCapacity = modem.MaxPayloadCapacity + 1 }},
		{"ingress below payload", func(c *modem.Config) { c.IngressCapacity = c.PayloadCapacity - 1 }},
		{"egress without trailer room", func(c *modem.Config) { c.EgressCapacity = c.PayloadCapacity + 3 }},
		{"zero flush timeout", func(c *modem.Config) { c.FlushTimeoutMs = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := modem.DefaultConfig()
			tt.modify(&cfg)
			_, err := sim.NewNode(sim.NewAir(), "bad", cfg)
			require.ErrorIs(t, err, modem.ErrInvalidConfig)
		})
	}

	cfg := modem.DefaultConfig()
	cfg.EgressCapacity = cfg.PayloadCapacity + 4
	_, err := sim.NewNode(sim.NewAir(), "tight", cfg)
	require.NoError(t, err)
}

func TestRelayTerminatedMessage(t *testing.T) {
	a, b := startPair(t)

	a.Serial.Feed([]byte("HELLO\n"))

	eventuallyOutput(t, b, "HELLO\n200 45\n")
	require.Equal(t, [][]byte{{6, 'H', 'E', 'L', 'L', 'O', '\n'}}, a.Radio.TxLog())
	require.Empty(t, a.Serial.Output(), "sender does not echo")

	require.Eventually(t, func() bool { return a.Modem.Stats().FramesSent == 1 }, waitFor, tick)
	require.Eventually(t, func() bool { return b.Modem.Stats().BytesOut == 13 }, waitFor, tick)
	require.Equal(t, uint64(1), b.Modem.Stats().FramesReceived)
}

func TestRelayTimeoutFlush(t *testing.T) {
	a, b := startPair(t)

	a.Serial.Feed([]byte("AB"))

	eventuallyOutput(t, b, "AB200 45\n")
	require.Equal(t, [][]byte{{2, 'A', 'B'}}, a.Radio.TxLog())
	require.Equal(t, uint64(1), a.Modem.Stats().TimeoutFlushes)
}

func TestRelayBurstKeepsOrder(t *testing.T) {
	a, b := startPair(t)

	a.Serial.Feed([]byte("A\nB\n"))

	eventuallyOutput(t, b, "A\n200 45\nB\n200 45\n")
	require.Equal(t, [][]byte{{2, 'A', '\n'}, {2, 'B', '\n'}}, a.Radio.TxLog())
}

func TestRelaySplitsOversizedMessage(t *testing.T) {
	a, b := startPair(t)

	msg := "0123456789012345678901234567890123456789\n"
	a.Serial.Feed([]byte(msg))

	eventuallyOutput(t, b, msg[:32]+"200 45\n"+msg[32:]+"200 45\n")
	log := a.Radio.TxLog()
	require.Len(t, log, 2)
	require.Equal(t, byte(32), log[0][0])
	require.Equal(t, byte(len(msg)-32), log[1][0])
}

func TestCRCFailureForcesReset(t *testing.T) {
	air := sim.NewAir()
	node := startNode(t, air, "r", modem.DefaultConfig())
	resets := node.Radio.Resets()

	require.True(t, node.Radio.Inject([]byte{2, 'A', '\n', 200, 45}))

	require.Eventually(t, func() bool { return node.Radio.Resets() == resets+1 }, waitFor, tick)
	waitListening(t, node)
	require.Empty(t, node.Serial.Output())

	stats := node.Modem.Stats()
	require.Equal(t, uint64(1), stats.CRCFailures)
	require.Equal(t, uint64(1), stats.Resets)
	require.Zero(t, stats.FramesReceived)

	// The link recovers
	require.True(t, node.Radio.Inject([]byte{2, 'B', '\n', 10, modem.CRCOK | 3}))
	eventuallyOutput(t, node, "B\n10 3\n")
}

func TestShortFrameForcesReset(t *testing.T) {
	node := startNode(t, sim.NewAir(), "r", modem.DefaultConfig())
	node.Radio.FailNextRead(errors.New("fifo underrun"))

	require.True(t, node.Radio.Inject([]byte{2, 'A', '\n', 200, modem.CRCOK}))

	require.Eventually(t, func() bool { return node.Modem.Stats().Resets == 1 }, waitFor, tick)
	waitListening(t, node)
	require.Equal(t, uint64(1), node.Modem.Stats().ShortFrames)
	require.Empty(t, node.Serial.Output())
}

func TestEgressOverflowDropsFrameWithoutFault(t *testing.T) {
	cfg := modem.DefaultConfig()
	cfg.PayloadCapacity = 8
	cfg.EgressCapacity = 12
	node := startNode(t, sim.NewAir(), "r", cfg)
	node.Serial.Stall()

	// "ABC\n1 1\n" fills eight of twelve bytes while the port is stalled
	require.True(t, node.Radio.Inject([]byte{4, 'A', 'B', 'C', '\n', 1, modem.CRCOK | 1}))
	require.Eventually(t, func() bool { return node.Modem.Stats().FramesReceived == 1 }, waitFor, tick)
	waitListening(t, node)

	// Three more payload bytes plus a trailer cannot fit
	require.True(t, node.Radio.Inject([]byte{3, 'X', 'Y', '\n', 1, modem.CRCOK | 1}))
	require.Eventually(t, func() bool { return node.Modem.Stats().EgressDrops == 1 }, waitFor, tick)
	waitListening(t, node)

	stats := node.Modem.Stats()
	require.Zero(t, stats.Resets)
	require.Zero(t, stats.LinkFaults())

	node.Serial.Release()
	eventuallyOutput(t, node, "ABC\n1 1\n")
}

func TestStuckRadioEscalatesToReset(t *testing.T) {
	cfg := modem.DefaultConfig()
	cfg.IdlePollRetries = 3
	air := sim.NewAir()

	node, err := sim.NewNode(air, "r", cfg, modem.WithLogger(testLogger()))
	require.NoError(t, err)
	node.Radio.StickStatus(modem.ChipTx, cfg.IdlePollRetries)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go node.Modem.Run(ctx)

	waitListening(t, node)
	stats := node.Modem.Stats()
	require.Equal(t, uint64(1), stats.IdleTimeouts)
	require.Equal(t, uint64(1), stats.Resets)
	require.Equal(t, 2, node.Radio.Resets())
}

func TestFailedResetIsRetried(t *testing.T) {
	node, err := sim.NewNode(sim.NewAir(), "r", modem.DefaultConfig(), modem.WithLogger(testLogger()))
	require.NoError(t, err)
	node.Radio.FailNextReset(errors.New("no response"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go node.Modem.Run(ctx)

	waitListening(t, node)
	stats := node.Modem.Stats()
	require.Equal(t, uint64(1), stats.ResetFailures)
	require.Equal(t, uint64(1), stats.Resets)
	require.Equal(t, byte(modem.DefaultTxPower), node.Radio.Power())
}

func TestRunStopsOnCancel(t *testing.T) {
	node, err := sim.NewNode(sim.NewAir(), "r", modem.DefaultConfig(), modem.WithLogger(testLogger()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- node.Modem.Run(ctx) }()
	waitListening(t, node)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitFor):
		t.Fatal("Run did not return")
	}
}

type countingIndicator struct {
	mu      sync.Mutex
	on      bool
	toggles int
	lit     int
}

func (c *countingIndicator) Set(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on && !c.on {
		c.lit++
	}
	c.on = on
}

func (c *countingIndicator) Toggle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.on = !c.on
	c.toggles++
}

func (c *countingIndicator) state() (bool, int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.on, c.toggles, c.lit
}

func TestIndicators(t *testing.T) {
	activity := &countingIndicator{}
	transmit := &countingIndicator{}
	air := sim.NewAir()
	a := startNode(t, air, "a", modem.DefaultConfig(), modem.WithIndicators(activity, transmit))

	a.Serial.Feed([]byte("X\n"))
	require.Eventually(t, func() bool { return a.Modem.Stats().FramesSent == 1 }, waitFor, tick)

	on, _, lit := transmit.state()
	require.False(t, on, "transmit light off after the frame")
	require.Equal(t, 1, lit)

	_, toggles, _ := activity.state()
	require.Greater(t, toggles, 0)
}

// duplexRecorder checks the chip at every transmit and receive command and
// records any command issued while the opposite operation is in progress.
type duplexRecorder struct {
	*sim.Radio

	mu       sync.Mutex
	overlaps []string
}

func (d *duplexRecorder) check(op string, busy modem.ChipStatus) {
	status, err := d.Radio.Status()
	if err != nil || status != busy {
		return
	}
	d.mu.Lock()
	d.overlaps = append(d.overlaps, fmt.Sprintf("%s: %s while chip in %#02x", d.Name(), op, byte(status)))
	d.mu.Unlock()
}

func (d *duplexRecorder) Transmit(frame []byte) error {
	d.check("transmit", modem.ChipRx)
	return d.Radio.Transmit(frame)
}

func (d *duplexRecorder) StartReceive() error {
	d.check("start receive", modem.ChipTx)
	return d.Radio.StartReceive()
}

func (d *duplexRecorder) Overlaps() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.overlaps...)
}

// startRecordedNode runs a modem whose radio commands pass through a
// duplexRecorder.
func startRecordedNode(t *testing.T, air *sim.Air, name string) (*sim.Node, *duplexRecorder) {
	t.Helper()
	radio := air.NewRadio(name)
	rec := &duplexRecorder{Radio: radio}
	serial := sim.NewSerial()

	m, err := modem.New(modem.DefaultConfig(), rec, serial, modem.WithLogger(testLogger()))
	require.NoError(t, err)
	radio.Bind(m.RadioEvent)
	serial.Bind(m.SerialByteReceived, m.SerialReady)
	node := &sim.Node{Modem: m, Radio: radio, Serial: serial}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	waitListening(t, node)
	return node, rec
}

func TestHalfDuplex(t *testing.T) {
	air := sim.NewAir()
	air.SetAirtime(5 * time.Millisecond)
	a, aRec := startRecordedNode(t, air, "a")
	b, bRec := startRecordedNode(t, air, "b")
	a.Radio.SetLink(208, 32)
	b.Radio.SetLink(200, 45)

	// Turn taking: every message arrives exactly once
	var wantA, wantB string
	for i := 0; i < 5; i++ {
		a.Serial.Feed([]byte("ping\n"))
		wantB += "ping\n200 45\n"
		eventuallyOutput(t, b, wantB)
		waitListening(t, a)

		b.Serial.Feed([]byte("pong\n"))
		wantA += "pong\n208 32\n"
		eventuallyOutput(t, a, wantA)
		waitListening(t, b)
	}
	require.Len(t, a.Radio.TxLog(), 5)
	require.Len(t, b.Radio.TxLog(), 5)

	// Both sides talk at once. Frames sent while the peer transmits are
	// lost on the air, but no radio ever transmits and receives together.
	for i := 0; i < 5; i++ {
		a.Serial.Feed([]byte("ping\n"))
		b.Serial.Feed([]byte("pong\n"))
		require.Eventually(t, func() bool {
			return a.Modem.Stats().FramesSent == uint64(6+i) && b.Modem.Stats().FramesSent == uint64(6+i)
		}, waitFor, tick)
		waitListening(t, a)
		waitListening(t, b)
	}

	require.Empty(t, aRec.Overlaps())
	require.Empty(t, bRec.Overlaps())
	require.Zero(t, a.Modem.Stats().LinkFaults())
	require.Zero(t, b.Modem.Stats().LinkFaults())
}
