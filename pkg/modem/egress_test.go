// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package modem

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEgressAppendAndDrain(t *testing.T) {
	port := &recordPort{}
	e := NewEgress(DefaultBufferCapacity, port)

	require.NoError(t, e.Append(Received{Payload: []byte("HELLO\n"), RSSI: 200, LQI: 45}))
	require.Equal(t, []byte("H"), port.sent, "first byte kicks the idle port")

	drain(e)
	require.Equal(t, "HELLO\n200 45\n", string(port.sent))
	require.Zero(t, e.Len())
}

func TestEgressKicksOnlyWhenIdle(t *testing.T) {
	port := &recordPort{}
	e := NewEgress(DefaultBufferCapacity, port)

	require.NoError(t, e.Append(Received{Payload: []byte("A\n"), RSSI: 1, LQI: 2}))
	require.NoError(t, e.Append(Received{Payload: []byte("B\n"), RSSI: 3, LQI: 4}))
	require.Len(t, port.sent, 1)

	drain(e)
	require.Equal(t, "A\n1 2\nB\n3 4\n", string(port.sent))
}

func TestEgressReadyWhenEmpty(t *testing.T) {
	port := &recordPort{}
	e := NewEgress(DefaultBufferCapacity, port)
	e.Ready()
	require.Empty(t, port.sent)
	require.Zero(t, e.Len())
}

func TestEgressOverflowLeavesBufferUntouched(t *testing.T) {
	port := &recordPort{}
	e := NewEgress(16, port)

	// 15 bytes queued: capacity - 1
	require.NoError(t, e.Append(Received{Payload: []byte("ABCDEFGH"), RSSI: 200, LQI: 45}))
	require.Equal(t, 15, e.Len())
	before := append([]byte(nil), e.Bytes()...)

	err := e.Append(Received{Payload: []byte("Z"), RSSI: 1, LQI: 1})
	require.ErrorIs(t, err, ErrEgressOverflow)
	require.Equal(t, before, e.Bytes())
	require.Len(t, port.sent, 1)
}

func TestEgressPlaceholder(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		rssi     byte
		lqi      byte
		want     string
	}{
		{"both fit", 14, 200, 5, "ABCDEFG\n200 5\n"},
		{"neither fits", 12, 200, 45, "ABCDEFG\nX X\n"},
		{"lqi squeezed", 13, 20, 45, "ABCDEFG\n20 X\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := &recordPort{}
			e := NewEgress(tt.capacity, port)
			require.NoError(t, e.Append(Received{Payload: []byte("ABCDEFG\n"), RSSI: tt.rssi, LQI: tt.lqi}))
			drain(e)
			require.Equal(t, tt.want, string(port.sent))
		})
	}
}
