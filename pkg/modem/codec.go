// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package modem

import "fmt"

// Codec converts messages to and from radio frames.
//
// Transmitted frame: [length][payload]
// Received frame:    [length][payload][RSSI][CRC_OK|LQI]
type Codec struct {
	Capacity int // payload bytes per frame
}

// Received is a decoded radio frame. Payload aliases the raw frame.
type Received struct {
	Payload []byte
	RSSI    byte
	LQI     byte
}

// Encode writes the frame for msg into dst, which must hold len(msg)+1
// bytes, and returns the frame.
func (c Codec) Encode(dst, msg []byte) ([]byte, error) {
	if len(msg) == 0 {
		return nil, ErrEmptyPayload
	}
	if len(msg) > c.Capacity {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(msg), c.Capacity)
	}
	if len(dst) < len(msg)+LengthFieldSize {
		return nil, fmt.Errorf("frame buffer too small: %d bytes for %d byte payload", len(dst), len(msg))
	}

	dst[0] = byte(len(msg))
	copy(dst[LengthFieldSize:], msg)
	return dst[:len(msg)+LengthFieldSize], nil
}

// Decode validates a received frame and splits off the status bytes.
func (c Codec) Decode(raw []byte) (Received, error) {
	if len(raw) < MinReceivedFrameSize {
		return Received{}, fmt.Errorf("%w: %d bytes (min %d)", ErrMalformedFrame, len(raw), MinReceivedFrameSize)
	}

	status := raw[len(raw)-1]
	if status&CRCOK == 0 {
		return Received{}, fmt.Errorf("%w: status 0x%02X", ErrCRCFailure, status)
	}

	payloadLen := len(raw) - LengthFieldSize - StatusFieldSize
	if int(raw[0]) != payloadLen {
		return Received{}, fmt.Errorf("%w: length byte %d, read %d payload bytes", ErrShortFrame, raw[0], payloadLen)
	}
	if c.Capacity > 0 && payloadLen > c.Capacity {
		return Received{}, fmt.Errorf("%w: %d byte payload (max %d)", ErrMalformedFrame, payloadLen, c.Capacity)
	}

	return Received{
		Payload: raw[LengthFieldSize : LengthFieldSize+payloadLen],
		RSSI:    raw[len(raw)-2],
		LQI:     status & LQIMask,
	}, nil
}

// RecordSize is the number of egress bytes r needs when both diagnostic
// values are rendered in full.
func (r Received) RecordSize() int {
	var digits [3]byte
	return len(r.Payload) + FormatDecimal(digits[:], int(r.RSSI)) + 1 + FormatDecimal(digits[:], int(r.LQI)) + 1
}
