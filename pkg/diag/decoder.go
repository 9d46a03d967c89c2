// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package diag decodes the modem's outbound serial stream.
//
// Every relayed frame leaves the modem as its payload followed by a trailer
// line "<rssi> <lqi>\n". A value that did not fit the modem's buffer is sent
// as "X". The payload keeps its own newlines, so a terminated message shows
// up as two lines: the message itself and then the trailer.
//
// Payload bytes that happen to look like a trailer line cannot be told
// apart from one; the decoder always takes the trailer reading.
package diag

import (
	"errors"
	"fmt"
	"time"
)

// MaxLineSize bounds a single line of the stream.
const MaxLineSize = 255

// Unknown marks a diagnostic value sent as a placeholder.
const Unknown = -1

var (
	ErrLineOverflow = errors.New("line exceeds maximum size")
	ErrNoTrailer    = errors.New("stream ended without a trailer")
)

// Message is one relayed frame as seen on the modem's serial output.
type Message struct {
	Payload   []byte
	RSSI      int // raw register value, or Unknown
	LQI       int // or Unknown
	Timestamp time.Time
}

// RSSIdBm converts the raw RSSI register value to dBm. ok is false when
// the modem sent a placeholder.
func (m *Message) RSSIdBm() (float64, bool) {
	if m.RSSI == Unknown {
		return 0, false
	}
	return RSSIdBm(byte(m.RSSI)), true
}

// RSSIOffset is the radio's RSSI offset at 868 MHz and 250 kBaud.
const RSSIOffset = 74

// RSSIdBm converts a raw two's complement RSSI register value in half-dB
// steps to dBm.
func RSSIdBm(raw byte) float64 {
	return float64(int8(raw))/2 - RSSIOffset
}

// Decoder splits the modem's outbound byte stream into messages.
type Decoder struct {
	line    []byte
	payload []byte
	now     func() time.Time
}

// NewDecoder creates a decoder.
func NewDecoder() *Decoder {
	return &Decoder{
		line: make([]byte, 0, MaxLineSize),
		now:  time.Now,
	}
}

// Reset drops any partial message.
func (d *Decoder) Reset() {
	d.line = d.line[:0]
	d.payload = d.payload[:0]
}

// Pending returns the bytes buffered since the last complete message.
func (d *Decoder) Pending() []byte {
	out := make([]byte, 0, len(d.payload)+len(d.line))
	out = append(out, d.payload...)
	return append(out, d.line...)
}

// DecodeByte processes a single byte of the stream. It returns a message
// when b completes a trailer, or nil.
func (d *Decoder) DecodeByte(b byte) (*Message, error) {
	if b != '\n' {
		if len(d.line) >= MaxLineSize {
			d.Reset()
			return nil, fmt.Errorf("%w (%d bytes)", ErrLineOverflow, MaxLineSize)
		}
		d.line = append(d.line, b)
		return nil, nil
	}

	prefix, rssi, lqi, ok := splitTrailer(d.line)
	if !ok {
		// A payload line; its newline belongs to the message
		d.payload = append(d.payload, d.line...)
		d.payload = append(d.payload, '\n')
		d.line = d.line[:0]
		return nil, nil
	}

	msg := &Message{
		Payload:   append(append([]byte(nil), d.payload...), prefix...),
		RSSI:      rssi,
		LQI:       lqi,
		Timestamp: d.now(),
	}
	d.Reset()
	return msg, nil
}

// Decode feeds p through the decoder and returns every completed message.
// Decoding continues past errors; the first one is returned.
func (d *Decoder) Decode(p []byte) ([]*Message, error) {
	var msgs []*Message
	var first error
	for _, b := range p {
		msg, err := d.DecodeByte(b)
		if err != nil && first == nil {
			first = err
		}
		if msg != nil {
			msgs = append(msgs, msg)
		}
	}
	return msgs, first
}

// splitTrailer splits "<payload><rssi> <lqi>" into its parts.
func splitTrailer(line []byte) (prefix []byte, rssi, lqi int, ok bool) {
	space := -1
	for i := len(line) - 1; i >= 0; i-- {
		if line[i] == ' ' {
			space = i
			break
		}
	}
	if space < 1 {
		return nil, 0, 0, false
	}

	lqi, ok = parseValue(line[space+1:], 127)
	if !ok {
		return nil, 0, 0, false
	}

	head := line[:space]
	if head[len(head)-1] == 'X' {
		return head[:len(head)-1], Unknown, lqi, true
	}

	// Longest run of up to three digits that is a valid register value
	for n := 3; n >= 1; n-- {
		if n > len(head) {
			continue
		}
		if v, valid := parseValue(head[len(head)-n:], 255); valid {
			return head[:len(head)-n], v, lqi, true
		}
	}
	return nil, 0, 0, false
}

// parseValue parses 1-3 decimal digits no greater than max, or the
// placeholder.
func parseValue(s []byte, max int) (int, bool) {
	if len(s) == 1 && s[0] == 'X' {
		return Unknown, true
	}
	if len(s) == 0 || len(s) > 3 {
		return 0, false
	}
	v := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		v = v*10 + int(c-'0')
	}
	if v > max {
		return 0, false
	}
	return v, true
}
