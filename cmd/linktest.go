// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/snowcap/pkg/diag"
)

var (
	linkTestTimeout int
	linkTestSend    string
)

var linkTestCmd = &cobra.Command{
	Use:   "link_test",
	Short: "Test the radio link by waiting for a relayed message",
	Long: `Wait for one message relayed by the modem from the radio until timeout.

With --send, a line is written to the modem first; run link_test --send on
one end and link_test on the other, or point it at a modem whose peer echoes.

Exit codes:
  0 - Message received before timeout
  1 - Timeout reached without receiving a message
  2 - Connection error`,
	RunE: runLinkTest,
}

func init() {
	rootCmd.AddCommand(linkTestCmd)
	linkTestCmd.Flags().IntVar(&linkTestTimeout, "timeout", 10, "Timeout in seconds to wait for a message")
	linkTestCmd.Flags().StringVar(&linkTestSend, "send", "", "Line to send before waiting")
}

func runLinkTest(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Snowcap - Link Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", linkTestTimeout)

	if linkTestSend != "" {
		if _, err := conn.Write([]byte(linkTestSend + "\n")); err != nil {
			fmt.Fprintf(os.Stderr, "Write error: %v\n", err)
			os.Exit(2)
		}
		fmt.Printf("Sent: %s\n", diag.FormatPayload([]byte(linkTestSend+"\n")))
	}
	fmt.Printf("Waiting for a relayed message...\n\n")

	msgChan := make(chan *diag.Message, 1)
	errChan := make(chan error, 1)

	go func() {
		skipped := 0
		err := readStream(conn, func(m streamMsg) {
			if m.err != nil {
				skipped++
			}
			if len(m.messages) > 0 {
				if skipped > 0 {
					fmt.Printf("(skipped %d undecodable lines)\n", skipped)
				}
				select {
				case msgChan <- m.messages[0]:
				default:
				}
			}
		})
		errChan <- err
	}()

	select {
	case msg := <-msgChan:
		fmt.Printf("SUCCESS: Received relayed message\n")
		fmt.Printf("  Payload: %s\n", diag.FormatPayload(msg.Payload))
		fmt.Printf("  Length: %d bytes\n", len(msg.Payload))
		fmt.Printf("  RSSI: %s\n", diag.FormatRSSI(msg))
		fmt.Printf("  LQI: %s\n", diag.FormatLQI(msg))
		os.Exit(0)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-time.After(time.Duration(linkTestTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No message received within %d seconds\n", linkTestTimeout)
		os.Exit(1)
	}

	return nil
}
