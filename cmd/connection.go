// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/Thermoquad/snowcap/pkg/config"
	"github.com/Thermoquad/snowcap/pkg/hostio"
)

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv("SNOWCAP_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Not a terminal
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// OpenConnection opens the serial or WebSocket link named in the
// configuration and describes it for the status line
func OpenConnection(cfg *config.Config) (io.ReadWriteCloser, string, error) {
	kind, err := cfg.Connection()
	if err != nil {
		return nil, "", err
	}

	if kind == "websocket" {
		ws := cfg.WebSocket
		opts := hostio.WebSocketOptions{
			Username:   ws.Username,
			SkipVerify: ws.NoSSLVerify,
			Timeout:    15 * time.Second,
		}
		if ws.Username != "" {
			if opts.Password, err = GetPassword(); err != nil {
				return nil, "", err
			}
		}

		conn, err := hostio.DialWebSocket(context.Background(), ws.URL, opts)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("WebSocket: %s", ws.URL), nil
	}

	conn, err := hostio.DialSerial(cfg.Serial.Port, cfg.Serial.Baud)
	if err != nil {
		return nil, "", err
	}
	return conn, fmt.Sprintf("Serial: %s @ %d baud", cfg.Serial.Port, cfg.Serial.Baud), nil
}
