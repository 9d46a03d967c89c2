// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads snowcap settings from a YAML file, SNOWCAP_
// environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/Thermoquad/snowcap/pkg/modem"
)

// EnvPrefix prefixes every environment variable, e.g. SNOWCAP_SERIAL_PORT.
const EnvPrefix = "SNOWCAP"

type Config struct {
	Modem     modem.Config    `mapstructure:"modem"`
	Serial    SerialConfig    `mapstructure:"serial"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Log       LogConfig       `mapstructure:"log"`
}

type SerialConfig struct {
	Port string `mapstructure:"port"`
	Baud int    `mapstructure:"baud"`
}

type WebSocketConfig struct {
	URL         string `mapstructure:"url"`
	Username    string `mapstructure:"username"`
	NoSSLVerify bool   `mapstructure:"no_ssl_verify"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// New returns a viper instance with every default set and environment
// lookup enabled.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	m := modem.DefaultConfig()
	v.SetDefault("modem.payload_capacity", m.PayloadCapacity)
	v.SetDefault("modem.ingress_capacity", m.IngressCapacity)
	v.SetDefault("modem.egress_capacity", m.EgressCapacity)
	v.SetDefault("modem.flush_timeout_ms", m.FlushTimeoutMs)
	v.SetDefault("modem.tx_power", m.TxPower)
	v.SetDefault("modem.idle_poll_retries", m.IdlePollRetries)
	v.SetDefault("modem.idle_poll_interval_ms", m.IdlePollIntervalMs)
	v.SetDefault("modem.max_reset_attempts", m.MaxResetAttempts)

	v.SetDefault("serial.port", "")
	v.SetDefault("serial.baud", 115200)

	v.SetDefault("websocket.url", "")
	v.SetDefault("websocket.username", "")
	v.SetDefault("websocket.no_ssl_verify", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	return v
}

// Load reads path, if set, into v and returns the validated configuration.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the modem and log settings.
func (c *Config) Validate() error {
	if err := c.Modem.Validate(); err != nil {
		return err
	}
	if c.Serial.Baud <= 0 {
		return fmt.Errorf("%w: baud rate %d", modem.ErrInvalidConfig, c.Serial.Baud)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log format %q (text or json)", modem.ErrInvalidConfig, c.Log.Format)
	}
	return nil
}

// ErrNoConnection means neither a serial port nor a WebSocket URL is set.
var ErrNoConnection = errors.New("either --port or --url must be specified")

// Connection describes which host link to open.
func (c *Config) Connection() (string, error) {
	switch {
	case c.WebSocket.URL != "":
		return "websocket", nil
	case c.Serial.Port != "":
		return "serial", nil
	default:
		return "", ErrNoConnection
	}
}
