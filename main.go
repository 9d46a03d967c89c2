// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Snowcap - Sub-GHz Serial Radio Modem
//
// Host tooling for the Snowcap modem: link monitoring and diagnostics,
// capture and replay of relayed traffic, and a simulated relay that runs
// the modem core on the host.

package main

import (
	"os"

	"github.com/Thermoquad/snowcap/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
