// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package modem

// Indicator is a status light.
type Indicator interface {
	Set(on bool)
	Toggle()
}

type noIndicator struct{}

func (noIndicator) Set(bool) {}
func (noIndicator) Toggle()  {}
