// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package capture

import (
	"bytes"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/snowcap/pkg/diag"
	"github.com/Thermoquad/snowcap/pkg/modem"
)

func TestCaptureStream(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, "serial:/dev/ttyUSB0")
	require.NoError(t, err)

	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	msgs := []*diag.Message{
		{Payload: []byte("HELLO\n"), RSSI: 200, LQI: 45, Timestamp: now},
		{Payload: []byte("AB"), RSSI: diag.Unknown, LQI: 3, Timestamp: now.Add(time.Second)},
	}
	for _, m := range msgs {
		require.NoError(t, w.Write(FromMessage(m)))
	}
	require.Equal(t, 2, w.Count())

	r, err := NewReader(&buf)
	require.NoError(t, err)
	require.Equal(t, "serial:/dev/ttyUSB0", r.Header().Source)

	recs, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "HELLO\n", string(recs[0].Payload))
	require.Equal(t, diag.Unknown, recs[1].RSSI)
	require.True(t, recs[1].Time().Equal(now.Add(time.Second)))
}

func TestReaderRejectsForeignStream(t *testing.T) {
	data, err := cbor.Marshal(Header{Magic: "other", Version: Version})
	require.NoError(t, err)
	_, err = NewReader(bytes.NewReader(data))
	require.ErrorIs(t, err, ErrBadHeader)

	_, err = NewReader(bytes.NewReader(nil))
	require.ErrorIs(t, err, ErrBadHeader)
}

func TestRecordFrameDecodes(t *testing.T) {
	rec := Record{Payload: []byte("HELLO\n"), RSSI: 200, LQI: 45}
	frame, err := rec.Frame()
	require.NoError(t, err)
	require.Equal(t, []byte{6, 'H', 'E', 'L', 'L', 'O', '\n', 200, modem.CRCOK | 45}, frame)

	got, err := modem.Codec{Capacity: modem.MaxPayloadCapacity}.Decode(frame)
	require.NoError(t, err)
	require.Equal(t, rec.Payload, got.Payload)

	rec = Record{Payload: []byte("x"), RSSI: diag.Unknown, LQI: diag.Unknown}
	frame, err = rec.Frame()
	require.NoError(t, err)
	require.Equal(t, []byte{1, 'x', 0, modem.CRCOK}, frame)

	_, err = Record{}.Frame()
	require.ErrorIs(t, err, modem.ErrMalformedFrame)
}
