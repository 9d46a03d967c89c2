// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package diag

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatMessage formats a message into a human-readable line
func FormatMessage(m *Message) string {
	timestamp := m.Timestamp.Format("15:04:05.000")
	return fmt.Sprintf("[%s] len=%-3d rssi=%-12s lqi=%-3s %s\n",
		timestamp, len(m.Payload), FormatRSSI(m), FormatLQI(m), FormatPayload(m.Payload))
}

// FormatRSSI returns the RSSI in dBm, or "?" for a placeholder
func FormatRSSI(m *Message) string {
	dbm, ok := m.RSSIdBm()
	if !ok {
		return "?"
	}
	return strconv.FormatFloat(dbm, 'f', 1, 64) + " dBm"
}

// FormatLQI returns the link quality, or "?" for a placeholder
func FormatLQI(m *Message) string {
	if m.LQI == Unknown {
		return "?"
	}
	return strconv.Itoa(m.LQI)
}

// FormatPayload quotes a payload, escaping control bytes
func FormatPayload(p []byte) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, c := range p {
		switch {
		case c == '\n':
			b.WriteString(`\n`)
		case c == '\r':
			b.WriteString(`\r`)
		case c == '"' || c == '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c < 0x20 || c >= 0x7F:
			fmt.Fprintf(&b, `\x%02x`, c)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// FormatLinkQuality renders a link quality bar for a value in 0..127.
// Lower raw LQI values mean a better link.
func FormatLinkQuality(lqi int, width int) string {
	if lqi == Unknown || width <= 0 {
		return strings.Repeat("·", width)
	}
	if lqi > 127 {
		lqi = 127
	}
	filled := (127 - lqi) * width / 127
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
