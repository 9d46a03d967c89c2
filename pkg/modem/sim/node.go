// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sim

import (
	"github.com/Thermoquad/snowcap/pkg/modem"
)

// Node is a modem wired to a simulated radio and serial port.
type Node struct {
	Modem  *modem.Modem
	Radio  *Radio
	Serial *Serial
}

// NewNode attaches a new modem to air.
func NewNode(air *Air, name string, cfg modem.Config, opts ...modem.Option) (*Node, error) {
	radio := air.NewRadio(name)
	serial := NewSerial()

	m, err := modem.New(cfg, radio, serial, opts...)
	if err != nil {
		return nil, err
	}
	radio.Bind(m.RadioEvent)
	serial.Bind(m.SerialByteReceived, m.SerialReady)

	return &Node{Modem: m, Radio: radio, Serial: serial}, nil
}

// NewRemoteNode attaches a modem to air whose serial side is port, a
// SerialPort the caller binds to the returned modem's handlers.
func NewRemoteNode(air *Air, name string, cfg modem.Config, port modem.SerialPort, opts ...modem.Option) (*modem.Modem, *Radio, error) {
	radio := air.NewRadio(name)
	m, err := modem.New(cfg, radio, port, opts...)
	if err != nil {
		return nil, nil, err
	}
	radio.Bind(m.RadioEvent)
	return m, radio, nil
}
