// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/snowcap/pkg/hostio"
	"github.com/Thermoquad/snowcap/pkg/modem"
	"github.com/Thermoquad/snowcap/pkg/modem/sim"
)

var (
	relayPeerPort      string
	relayRSSI          uint8
	relayLQI           uint8
	relayLoss          float64
	relayCorrupt       float64
	relayAirtime       time.Duration
	relayStatsInterval time.Duration
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run two modem cores joined by a simulated radio link",
	Long: `Run two complete modem cores on the host, joined by a simulated radio.

Side A's serial port is the connection given by --port or --url. Side B's
serial port is --peer-port, or stdin/stdout when no peer port is given.
Every line written to one side comes out of the other followed by the
diagnostics line "<rssi> <lqi>".

The simulated link can drop frames (--loss) or deliver them with a failed
CRC (--corrupt) to exercise the modem's fault recovery.`,
	RunE: runRelay,
}

func init() {
	rootCmd.AddCommand(relayCmd)
	modemFlags(relayCmd)
	relayCmd.Flags().StringVar(&relayPeerPort, "peer-port", "", "Serial port for side B (default stdin/stdout)")
	relayCmd.Flags().Uint8Var(&relayRSSI, "rssi", 0xD0, "Raw RSSI reported for received frames")
	relayCmd.Flags().Uint8Var(&relayLQI, "lqi", 0x20, "LQI reported for received frames (0-127)")
	relayCmd.Flags().Float64Var(&relayLoss, "loss", 0, "Probability a frame is lost (0-1)")
	relayCmd.Flags().Float64Var(&relayCorrupt, "corrupt", 0, "Probability a frame fails its CRC (0-1)")
	relayCmd.Flags().DurationVar(&relayAirtime, "airtime", 2*time.Millisecond, "Time a frame occupies the air")
	relayCmd.Flags().DurationVar(&relayStatsInterval, "stats-interval", 30*time.Second, "Interval between statistics log lines (0 to disable)")
}

// stdio joins stdin and stdout into one stream
type stdio struct {
	io.Reader
	io.Writer
}

// relaySide is one modem core attached to a host stream
type relaySide struct {
	name  string
	modem *modem.Modem
	port  *hostio.Port
}

func newRelaySide(air *sim.Air, name string, rw io.ReadWriter) (*relaySide, error) {
	entry := log.WithField("modem", name)
	port := hostio.New(rw, entry)

	m, radio, err := sim.NewRemoteNode(air, name, cfg.Modem, port, modem.WithLogger(entry))
	if err != nil {
		return nil, err
	}
	port.Bind(m.SerialByteReceived, m.SerialReady)
	radio.SetLink(relayRSSI, relayLQI)

	return &relaySide{name: name, modem: m, port: port}, nil
}

func (s *relaySide) run(ctx context.Context, errc chan<- error) {
	go func() {
		err := s.modem.Run(ctx)
		errc <- fmt.Errorf("modem %s: %w", s.name, err)
	}()
	go func() {
		err := s.port.Run(ctx)
		errc <- fmt.Errorf("serial %s: %w", s.name, err)
	}()
}

func runRelay(cmd *cobra.Command, args []string) error {
	if relayLoss < 0 || relayLoss > 1 || relayCorrupt < 0 || relayCorrupt > 1 {
		return fmt.Errorf("--loss and --corrupt must be between 0 and 1")
	}

	conn, connInfo, err := OpenConnection(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	var peer io.ReadWriter = stdio{Reader: os.Stdin, Writer: os.Stdout}
	peerInfo := "stdin/stdout"
	if relayPeerPort != "" {
		peerConn, err := hostio.DialSerial(relayPeerPort, cfg.Serial.Baud)
		if err != nil {
			return err
		}
		defer peerConn.Close()
		peer = peerConn
		peerInfo = fmt.Sprintf("Serial: %s @ %d baud", relayPeerPort, cfg.Serial.Baud)
	}

	air := sim.NewAir()
	air.SetAirtime(relayAirtime)
	air.SetLoss(relayLoss, time.Now().UnixNano())
	air.SetCorruption(relayCorrupt)

	a, err := newRelaySide(air, "a", conn)
	if err != nil {
		return err
	}
	b, err := newRelaySide(air, "b", peer)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{"a": connInfo, "b": peerInfo}).Info("relay started")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 4)
	a.run(ctx, errc)
	b.run(ctx, errc)

	var ticker <-chan time.Time
	if relayStatsInterval > 0 {
		t := time.NewTicker(relayStatsInterval)
		defer t.Stop()
		ticker = t.C
	}

	for {
		select {
		case <-ticker:
			logRelayStats(a, b)
		case err := <-errc:
			cancel()
			logRelayStats(a, b)
			if errors.Is(err, context.Canceled) || hostio.IsClosed(err) {
				log.Info("relay stopped")
				return nil
			}
			return err
		}
	}
}

func logRelayStats(sides ...*relaySide) {
	for _, s := range sides {
		stats := s.modem.Stats()
		log.WithFields(logrus.Fields{
			"modem":    s.name,
			"uptime":   stats.Uptime().Round(time.Second),
			"overruns": s.port.Overruns(),
		}).Info(stats.String())
	}
}
