// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrConnectionClosed is returned when reading from a closed bridge connection
var ErrConnectionClosed = errors.New("websocket connection closed")

// webSocketPort carries the serial byte stream over a websocket bridge.
// A reader goroutine moves messages into a channel so reads can time out
// without poisoning the connection with a deadline.
type webSocketPort struct {
	conn     *websocket.Conn
	incoming chan []byte
	done     chan struct{}
	stop     chan struct{}
	err      error
	buf      []byte
	timeout  time.Duration

	closeOnce sync.Once
}

func newWebSocketPort(conn *websocket.Conn) *webSocketPort {
	w := &webSocketPort{
		conn:     conn,
		incoming: make(chan []byte, 64),
		done:     make(chan struct{}),
		stop:     make(chan struct{}),
		timeout:  10 * time.Millisecond,
	}
	go w.readLoop()
	return w
}

func (w *webSocketPort) readLoop() {
	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			w.err = err
			close(w.done)
			return
		}
		if len(data) == 0 {
			continue
		}
		select {
		case w.incoming <- data:
		case <-w.stop:
			return
		}
	}
}

func (w *webSocketPort) Read(p []byte) (int, error) {
	if len(w.buf) > 0 {
		n := copy(p, w.buf)
		w.buf = w.buf[n:]
		return n, nil
	}

	timer := time.NewTimer(w.timeout)
	defer timer.Stop()

	select {
	case data := <-w.incoming:
		n := copy(p, data)
		w.buf = data[n:]
		return n, nil
	case <-w.done:
		if w.err != nil {
			return 0, w.err
		}
		return 0, ErrConnectionClosed
	case <-timer.C:
		return 0, nil
	}
}

func (w *webSocketPort) Write(p []byte) (int, error) {
	select {
	case <-w.done:
		return 0, ErrConnectionClosed
	default:
	}
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *webSocketPort) ResetInputBuffer() error {
	w.buf = nil
	for {
		select {
		case <-w.incoming:
		default:
			return nil
		}
	}
}

func (w *webSocketPort) SetReadTimeout(t time.Duration) error {
	w.timeout = t
	return nil
}

func (w *webSocketPort) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.stop)
		err = w.conn.Close()
	})
	return err
}

// OpenWebSocket connects to a serial bridge with optional HTTP Basic auth
func OpenWebSocket(wsURL, username, password string, skipSSLVerify bool) (Port, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connection failed: %w", err)
	}

	return newWebSocketPort(conn), nil
}

// WebSocketDialer returns a Dialer for a serial bridge
func WebSocketDialer(wsURL, username, password string, skipSSLVerify bool) Dialer {
	return func() (Port, error) {
		return OpenWebSocket(wsURL, username, password, skipSSLVerify)
	}
}
