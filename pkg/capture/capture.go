// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package capture stores relayed messages as a CBOR sequence so a session
// can be replayed later.
//
// A capture is a header item followed by one item per message. Both use
// integer map keys.
package capture

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/Thermoquad/snowcap/pkg/diag"
	"github.com/Thermoquad/snowcap/pkg/modem"
)

// Magic identifies a capture stream.
const Magic = "snowcap"

// Version is the capture format version.
const Version = 1

var ErrBadHeader = errors.New("not a capture stream")

// Header opens a capture.
type Header struct {
	Magic   string `cbor:"1,keyasint"`
	Version uint   `cbor:"2,keyasint"`
	Created int64  `cbor:"3,keyasint"` // unix nanoseconds
	Source  string `cbor:"4,keyasint,omitempty"`
}

// Record is one captured message.
type Record struct {
	Timestamp int64  `cbor:"1,keyasint"` // unix nanoseconds
	Payload   []byte `cbor:"2,keyasint"`
	RSSI      int    `cbor:"3,keyasint"` // diag.Unknown for a placeholder
	LQI       int    `cbor:"4,keyasint"`
}

// FromMessage converts a decoded message.
func FromMessage(m *diag.Message) Record {
	return Record{
		Timestamp: m.Timestamp.UnixNano(),
		Payload:   append([]byte(nil), m.Payload...),
		RSSI:      m.RSSI,
		LQI:       m.LQI,
	}
}

// Time returns the capture time.
func (r Record) Time() time.Time {
	return time.Unix(0, r.Timestamp)
}

// Frame rebuilds the radio frame, status bytes included, that would have
// produced this record. Placeholder values become zero.
func (r Record) Frame() ([]byte, error) {
	if len(r.Payload) == 0 || len(r.Payload) > modem.MaxPayloadCapacity {
		return nil, fmt.Errorf("%w: %d byte payload", modem.ErrMalformedFrame, len(r.Payload))
	}
	rssi, lqi := byte(0), byte(0)
	if r.RSSI != diag.Unknown {
		rssi = byte(r.RSSI)
	}
	if r.LQI != diag.Unknown {
		lqi = byte(r.LQI) & modem.LQIMask
	}

	frame := make([]byte, 0, modem.LengthFieldSize+len(r.Payload)+modem.StatusFieldSize)
	frame = append(frame, byte(len(r.Payload)))
	frame = append(frame, r.Payload...)
	return append(frame, rssi, modem.CRCOK|lqi), nil
}

// Writer appends records to a capture stream.
type Writer struct {
	enc   *cbor.Encoder
	count int
}

// NewWriter writes the header and returns a writer for the records.
func NewWriter(w io.Writer, source string) (*Writer, error) {
	enc := cbor.NewEncoder(w)
	h := Header{
		Magic:   Magic,
		Version: Version,
		Created: time.Now().UnixNano(),
		Source:  source,
	}
	if err := enc.Encode(h); err != nil {
		return nil, fmt.Errorf("write capture header: %w", err)
	}
	return &Writer{enc: enc}, nil
}

// Write appends one record.
func (w *Writer) Write(r Record) error {
	if err := w.enc.Encode(r); err != nil {
		return fmt.Errorf("write capture record %d: %w", w.count, err)
	}
	w.count++
	return nil
}

// Count returns the number of records written.
func (w *Writer) Count() int {
	return w.count
}

// Reader reads records from a capture stream.
type Reader struct {
	dec    *cbor.Decoder
	header Header
}

// NewReader reads and checks the header.
func NewReader(r io.Reader) (*Reader, error) {
	dec := cbor.NewDecoder(r)
	var h Header
	if err := dec.Decode(&h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if h.Magic != Magic {
		return nil, fmt.Errorf("%w: magic %q", ErrBadHeader, h.Magic)
	}
	if h.Version != Version {
		return nil, fmt.Errorf("unsupported capture version %d", h.Version)
	}
	return &Reader{dec: dec, header: h}, nil
}

// Header returns the stream header.
func (r *Reader) Header() Header {
	return r.header
}

// Next returns the next record, or io.EOF at the end of the stream.
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("read capture record: %w", err)
	}
	return rec, nil
}

// ReadAll returns every remaining record.
func (r *Reader) ReadAll() ([]Record, error) {
	var out []Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
