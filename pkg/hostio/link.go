// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hostio

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
)

// ErrClosed is returned by a link whose far end closed it cleanly.
var ErrClosed = errors.New("hostio: link closed")

// IsClosed reports whether err means the far end went away.
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed) || errors.Is(err, io.EOF)
}

// DialSerial opens a serial device at baud, 8N1.
func DialSerial(name string, baud int) (io.ReadWriteCloser, error) {
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", name, err)
	}
	return port, nil
}

// WebSocketOptions configures DialWebSocket.
type WebSocketOptions struct {
	// Username and Password are sent as HTTP Basic credentials when
	// Username is set.
	Username string
	Password string
	// SkipVerify disables TLS certificate checks for wss:// URLs.
	SkipVerify bool
	// Timeout bounds the handshake. Zero means 10 seconds.
	Timeout time.Duration
}

// DialWebSocket connects to a serial bridge at rawURL. The returned stream
// carries the serial bytes in binary messages; other message types are
// skipped.
func DialWebSocket(ctx context.Context, rawURL string, opts WebSocketOptions) (io.ReadWriteCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("unsupported url scheme %q (use ws:// or wss://)", u.Scheme)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	if u.Scheme == "wss" && opts.SkipVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	header := http.Header{}
	if opts.Username != "" {
		token := base64.StdEncoding.EncodeToString([]byte(opts.Username + ":" + opts.Password))
		header.Set("Authorization", "Basic "+token)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn, resp, err := dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return &wsStream{conn: conn}, nil
}

// wsStream reads binary messages as one continuous byte stream.
type wsStream struct {
	conn *websocket.Conn

	cur  io.Reader
	rerr error // sticky; the connection is unusable after a read error

	wmu sync.Mutex
}

func (s *wsStream) Read(p []byte) (int, error) {
	for s.rerr == nil {
		if s.cur == nil {
			kind, r, err := s.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					err = ErrClosed
				}
				s.rerr = err
				break
			}
			if kind != websocket.BinaryMessage {
				continue
			}
			s.cur = r
		}

		n, err := s.cur.Read(p)
		if errors.Is(err, io.EOF) {
			s.cur = nil
			err = nil
		} else if err != nil {
			s.rerr = err
		}
		if n > 0 || err != nil {
			return n, err
		}
	}
	return 0, s.rerr
}

func (s *wsStream) Write(p []byte) (int, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *wsStream) Close() error {
	s.wmu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	s.wmu.Unlock()
	return s.conn.Close()
}
