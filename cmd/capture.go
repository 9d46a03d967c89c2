// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/snowcap/pkg/capture"
	"github.com/Thermoquad/snowcap/pkg/diag"
	"github.com/Thermoquad/snowcap/pkg/hostio"
)

var (
	captureOut   string
	captureCount int
	captureQuiet bool
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Record relayed messages to a CBOR capture file",
	Long: `Decode a modem's serial output and record every relayed message, with
its RSSI and LQI, to a CBOR capture file that replay can feed back through
a modem core.`,
	RunE: runCapture,
}

func init() {
	rootCmd.AddCommand(captureCmd)
	captureCmd.Flags().StringVarP(&captureOut, "out", "o", "capture.cbor", "Capture file to write")
	captureCmd.Flags().IntVarP(&captureCount, "count", "n", 0, "Stop after N messages (0 for no limit)")
	captureCmd.Flags().BoolVarP(&captureQuiet, "quiet", "q", false, "Do not print messages")
}

func runCapture(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	f, err := os.Create(captureOut)
	if err != nil {
		return fmt.Errorf("failed to create capture file: %w", err)
	}
	defer f.Close()

	w, err := capture.NewWriter(f, connInfo)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{"connection": connInfo, "out": captureOut}).Info("capture started")

	updates := make(chan streamMsg, 16)
	readErr := make(chan error, 1)
	go func() {
		readErr <- readStream(conn, func(m streamMsg) { updates <- m })
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	done := func() error {
		log.WithField("records", w.Count()).Info("capture finished")
		return f.Sync()
	}

	for {
		select {
		case u := <-updates:
			if u.err != nil {
				log.WithError(u.err).Warn("undecodable line skipped")
			}
			for _, msg := range u.messages {
				if err := w.Write(capture.FromMessage(msg)); err != nil {
					return err
				}
				if !captureQuiet {
					fmt.Print(diag.FormatMessage(msg))
				}
				if captureCount > 0 && w.Count() >= captureCount {
					return done()
				}
			}

		case err := <-readErr:
			if !hostio.IsClosed(err) {
				log.WithError(err).Error("read failed")
			}
			return done()

		case <-sig:
			return done()
		}
	}
}
