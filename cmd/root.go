// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Thermoquad/snowcap/pkg/config"
	"github.com/Thermoquad/snowcap/pkg/logger"
	"github.com/Thermoquad/snowcap/pkg/modem"
)

var (
	configFile string

	v   = config.New()
	cfg *config.Config
	log *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "snowcap",
	Short: "Snowcap radio modem tools",
	Long: `Snowcap - host tools for the Snowcap serial-to-radio modem.

The modem relays newline-terminated messages between its serial port and a
half-duplex sub-GHz radio. Every message received over the air is written to
the serial port followed by a diagnostics line "<rssi> <lqi>".

These commands run the modem core on the host (relay, replay) or talk to a
modem over a serial port or WebSocket bridge (monitor, link_test, capture).

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

Settings may also come from a YAML file (--config) or from SNOWCAP_*
environment variables, e.g. SNOWCAP_MODEM_FLUSH_TIMEOUT_MS=10.

For WebSocket authentication, the password is read from the SNOWCAP_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "YAML config file")

	// Serial connection flags
	flags.StringP("port", "p", "", "Serial port device")
	flags.IntP("baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	flags.StringP("url", "u", "", "WebSocket URL (ws:// or wss://)")
	flags.String("username", "", "Username for HTTP Basic auth")
	flags.Bool("no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Logging flags
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "text", "Log format (text or json)")
	flags.String("log-file", "", "Write logs to a rotating file instead of stderr")

	bindFlags(v, flags, map[string]string{
		"serial.port":             "port",
		"serial.baud":             "baud",
		"websocket.url":           "url",
		"websocket.username":      "username",
		"websocket.no_ssl_verify": "no-ssl-verify",
		"log.level":               "log-level",
		"log.format":              "log-format",
		"log.file":                "log-file",
	})
}

var modemFlagKeys = map[string]string{
	"modem.payload_capacity": "payload",
	"modem.flush_timeout_ms": "flush-timeout",
	"modem.tx_power":         "tx-power",
}

// modemFlags registers the modem tuning flags on a command that runs a
// modem core. They are bound when that command runs.
func modemFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.Int("payload", modem.DefaultPayloadCapacity, "Radio payload capacity in bytes")
	flags.Int("flush-timeout", modem.DefaultFlushTimeoutMs, "Serial inactivity flush timeout in ms")
	flags.Uint8("tx-power", modem.DefaultTxPower, "Radio output power register value")
}

// bindFlags maps config keys onto flags so a flag set on the command line
// overrides the file and environment.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Lookup("payload") != nil {
		bindFlags(v, cmd.Flags(), modemFlagKeys)
	}

	var err error
	cfg, err = config.Load(v, configFile)
	if err != nil {
		return err
	}
	log, err = logger.New(cfg.Log)
	return err
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
