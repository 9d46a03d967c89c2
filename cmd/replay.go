// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/snowcap/pkg/capture"
	"github.com/Thermoquad/snowcap/pkg/modem"
	"github.com/Thermoquad/snowcap/pkg/modem/sim"
)

var (
	replayRealtime bool
	replayWait     time.Duration
)

// errNotListening is returned when the replay modem never re-arms receive
var errNotListening = errors.New("modem not listening")

var replayCmd = &cobra.Command{
	Use:   "replay <capture-file>",
	Short: "Feed a capture through a modem core and print its serial output",
	Long: `Rebuild the radio frame for every record in a capture, deliver it to a
modem core running on a simulated radio, and write what the modem sends to
its serial port to stdout.

Useful for checking that a capture decodes to the same serial output after a
change to the modem's settings.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	modemFlags(replayCmd)
	replayCmd.Flags().BoolVar(&replayRealtime, "realtime", false, "Pace records by their capture timestamps")
	replayCmd.Flags().DurationVar(&replayWait, "wait", time.Second, "Time to wait for the modem to listen before each record")
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer f.Close()

	r, err := capture.NewReader(f)
	if err != nil {
		return err
	}
	records, err := r.ReadAll()
	if err != nil {
		return err
	}

	hdr := r.Header()
	log.WithFields(logrus.Fields{
		"records": len(records),
		"source":  hdr.Source,
		"created": time.Unix(0, hdr.Created).Format(time.RFC3339),
	}).Info("replaying capture")

	node, err := sim.NewNode(sim.NewAir(), "replay", cfg.Modem, modem.WithLogger(log))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- node.Modem.Run(ctx) }()

	var last time.Time
	for i, rec := range records {
		frame, err := rec.Frame()
		if err != nil {
			log.WithError(err).WithField("record", i).Warn("record skipped")
			continue
		}
		if replayRealtime && !last.IsZero() {
			if gap := rec.Time().Sub(last); gap > 0 {
				time.Sleep(gap)
			}
		}
		last = rec.Time()

		if err := injectWhenListening(node.Radio, frame, replayWait); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		os.Stdout.Write(node.Serial.Drain())
	}

	// Let the last line drain out of the egress buffer.
	settle(node.Serial, 50*time.Millisecond)
	os.Stdout.Write(node.Serial.Drain())

	cancel()
	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	stats := node.Modem.Stats()
	log.WithFields(logrus.Fields{
		"frames":  stats.FramesReceived,
		"faults":  stats.LinkFaults(),
		"dropped": stats.EgressDrops,
	}).Info("replay finished")
	return nil
}

// injectWhenListening polls until radio is receiving, then delivers frame
func injectWhenListening(radio *sim.Radio, frame []byte, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	for !radio.Inject(frame) {
		if time.Now().After(deadline) {
			return errNotListening
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}

// settle waits until serial has been quiet for d
func settle(serial *sim.Serial, d time.Duration) {
	for {
		select {
		case <-serial.Notify():
		case <-time.After(d):
			return
		}
	}
}
