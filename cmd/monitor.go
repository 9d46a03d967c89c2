// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/snowcap/pkg/diag"
	"github.com/Thermoquad/snowcap/pkg/hostio"
)

var (
	monitorTUI           bool
	monitorStatsInterval int
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Display messages relayed by a modem with link diagnostics",
	Long: `Continuously decode a modem's serial output and display every message it
relays from the radio, with signal strength in dBm and link quality.

With --tui, shows an interactive dashboard with link statistics, the list of
recent messages and a composer that sends a line through the modem.

Supports both serial and WebSocket connections.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&monitorTUI, "tui", false, "Interactive dashboard")
	monitorCmd.Flags().IntVar(&monitorStatsInterval, "stats-interval", 0, "Print statistics every N seconds (text mode, 0 to disable)")
}

// streamMsg carries decoded messages and errors from the reader
type streamMsg struct {
	messages []*diag.Message
	err      error
}

// readStream decodes conn until it fails, calling emit for every read
func readStream(conn io.Reader, emit func(streamMsg)) error {
	decoder := diag.NewDecoder()
	buf := make([]byte, 256)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			msgs, decodeErr := decoder.Decode(buf[:n])
			if len(msgs) > 0 || decodeErr != nil {
				emit(streamMsg{messages: msgs, err: decodeErr})
			}
		}
		if err != nil {
			return err
		}
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	if monitorTUI {
		return runMonitorTUI(conn, connInfo)
	}

	fmt.Printf("Snowcap - Link Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	stats := diag.NewStatistics()
	updates := make(chan streamMsg, 16)
	readErr := make(chan error, 1)
	go func() {
		readErr <- readStream(conn, func(m streamMsg) { updates <- m })
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	var ticker <-chan time.Time
	if monitorStatsInterval > 0 {
		t := time.NewTicker(time.Duration(monitorStatsInterval) * time.Second)
		defer t.Stop()
		ticker = t.C
	}

	for {
		select {
		case u := <-updates:
			if u.err != nil {
				stats.Update(nil, u.err)
				fmt.Printf("[ERROR] %v\n", u.err)
			}
			for _, msg := range u.messages {
				stats.Update(msg, nil)
				fmt.Print(diag.FormatMessage(msg))
			}

		case <-ticker:
			fmt.Print(stats.String())

		case err := <-readErr:
			fmt.Print(stats.String())
			if hostio.IsClosed(err) {
				log.Info("connection closed")
				return nil
			}
			return fmt.Errorf("read error: %w", err)

		case <-sig:
			fmt.Print(stats.String())
			return nil
		}
	}
}

func runMonitorTUI(conn io.ReadWriter, connInfo string) error {
	p := tea.NewProgram(newMonitorModel(connInfo, conn), tea.WithAltScreen())

	go func() {
		err := readStream(conn, func(m streamMsg) { p.Send(m) })
		p.Send(connectionLostMsg{err: err})
	}()

	_, err := p.Run()
	return err
}
