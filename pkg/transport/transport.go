// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"bytes"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// ErrNotConnected is reported when an operation runs without an open port
var ErrNotConnected = errors.New("not connected")

//////////////////////////////////////////////////////////////
// Timing
//////////////////////////////////////////////////////////////

// Timing holds the silence windows used to frame device responses
type Timing struct {
	OpenSettle     time.Duration // after opening, before the first reset
	CommandSettle  time.Duration // after clearing input, before writing
	ResponseDelay  time.Duration // after writing, before collecting
	Quiet          time.Duration // silence that ends a response
	Grace          time.Duration // trailing drain after collection
	Poll           time.Duration // read timeout of a single poll
	CommandTimeout time.Duration
	CharTimeout    time.Duration
	WakeDelay      time.Duration
	ConfigGap      time.Duration // between consecutive settings
	Settle         time.Duration // after a mode change
}

// DefaultTiming returns the timings the Enigma Touch firmware needs
func DefaultTiming() Timing {
	return Timing{
		OpenSettle:     2 * time.Second,
		CommandSettle:  100 * time.Millisecond,
		ResponseDelay:  500 * time.Millisecond,
		Quiet:          200 * time.Millisecond,
		Grace:          100 * time.Millisecond,
		Poll:           10 * time.Millisecond,
		CommandTimeout: 3 * time.Second,
		CharTimeout:    2 * time.Second,
		WakeDelay:      50 * time.Millisecond,
		ConfigGap:      200 * time.Millisecond,
		Settle:         500 * time.Millisecond,
	}
}

// FastTiming returns compressed timings for the software device
func FastTiming() Timing {
	return Timing{
		OpenSettle:     0,
		CommandSettle:  time.Millisecond,
		ResponseDelay:  2 * time.Millisecond,
		Quiet:          15 * time.Millisecond,
		Grace:          5 * time.Millisecond,
		Poll:           2 * time.Millisecond,
		CommandTimeout: 500 * time.Millisecond,
		CharTimeout:    300 * time.Millisecond,
		WakeDelay:      time.Millisecond,
		ConfigGap:      time.Millisecond,
		Settle:         2 * time.Millisecond,
	}
}

// Direction of raw traffic
type Direction int

const (
	Tx Direction = iota
	Rx
)

func (d Direction) String() string {
	if d == Tx {
		return ">>>"
	}
	return "<<<"
}

//////////////////////////////////////////////////////////////
// Transport
//////////////////////////////////////////////////////////////

// Transport owns the port to one device. It is not safe for concurrent use:
// a single control goroutine performs every exchange.
type Transport struct {
	dial     Dialer
	timing   Timing
	logger   zerolog.Logger
	port     Port
	lost     chan struct{}
	err      error
	observer func(Direction, []byte)
}

// New creates a transport that opens ports through dial
func New(dial Dialer, timing Timing, logger zerolog.Logger) *Transport {
	return &Transport{
		dial:   dial,
		timing: timing,
		logger: logger,
	}
}

// Timing returns the transport timings
func (t *Transport) Timing() Timing {
	return t.timing
}

// SetObserver installs a hook that sees every byte written and read
func (t *Transport) SetObserver(fn func(Direction, []byte)) {
	t.observer = fn
}

// Open opens a fresh port, closing any current one first
func (t *Transport) Open() error {
	if t.port != nil {
		t.Close()
	}

	port, err := t.dial()
	if err != nil {
		t.err = err
		return err
	}

	if t.timing.OpenSettle > 0 {
		time.Sleep(t.timing.OpenSettle)
	}

	if err := port.SetReadTimeout(t.timing.Poll); err != nil {
		port.Close()
		t.err = err
		return err
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		t.err = err
		return err
	}
	if r, ok := port.(outputResetter); ok {
		_ = r.ResetOutputBuffer()
	}

	t.port = port
	t.err = nil
	t.lost = make(chan struct{})
	t.logger.Info().Msg("Connected")
	return nil
}

// Close closes the port. The Lost channel is not signalled.
func (t *Transport) Close() error {
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	t.logger.Info().Msg("Disconnected")
	return err
}

// IsConnected reports whether a port is open
func (t *Transport) IsConnected() bool {
	return t.port != nil
}

// Lost returns a channel closed when the current port fails. It is nil before
// the first successful Open.
func (t *Transport) Lost() <-chan struct{} {
	return t.lost
}

// Err returns the last I/O error
func (t *Transport) Err() error {
	return t.err
}

// fail drops the port after an I/O error and signals Lost
func (t *Transport) fail(err error) {
	t.err = err
	t.logger.Warn().Err(err).Msg("Transport failure")
	if t.port != nil {
		t.port.Close()
		t.port = nil
	}
	if t.lost != nil {
		select {
		case <-t.lost:
		default:
			close(t.lost)
		}
	}
}

// Write sends raw bytes. It returns false on any failure.
func (t *Transport) Write(data []byte) bool {
	if t.port == nil {
		t.err = ErrNotConnected
		return false
	}
	if _, err := t.port.Write(data); err != nil {
		t.fail(err)
		return false
	}
	t.logger.Debug().Msgf("%s %s", Tx, printable(data))
	if t.observer != nil {
		t.observer(Tx, data)
	}
	return true
}

// ResetInput discards unread input
func (t *Transport) ResetInput() bool {
	if t.port == nil {
		t.err = ErrNotConnected
		return false
	}
	if err := t.port.ResetInputBuffer(); err != nil {
		t.fail(err)
		return false
	}
	return true
}

// ReadAvailable performs one poll and returns whatever arrived
func (t *Transport) ReadAvailable() ([]byte, bool) {
	if t.port == nil {
		t.err = ErrNotConnected
		return nil, false
	}
	buf := make([]byte, 256)
	n, err := t.port.Read(buf)
	if err != nil {
		t.fail(err)
		return nil, false
	}
	if n == 0 {
		return nil, true
	}
	data := buf[:n]
	t.logger.Debug().Msgf("%s %s", Rx, printable(data))
	if t.observer != nil {
		t.observer(Rx, data)
	}
	return data, true
}

// ReadFor collects everything arriving during d
func (t *Transport) ReadFor(d time.Duration) ([]byte, bool) {
	var buf []byte
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		chunk, ok := t.ReadAvailable()
		if !ok {
			return buf, false
		}
		buf = append(buf, chunk...)
	}
	return buf, true
}

// drainQuiet keeps reading until quiet has passed without data or limit expires
func (t *Transport) drainQuiet(buf []byte, quiet time.Duration, limit time.Time) ([]byte, bool) {
	last := time.Now()
	for time.Now().Before(limit) && time.Since(last) < quiet {
		chunk, ok := t.ReadAvailable()
		if !ok {
			return buf, false
		}
		if len(chunk) > 0 {
			buf = append(buf, chunk...)
			last = time.Now()
		}
	}
	return buf, true
}

// SendCommand clears input, writes cmd and collects the response until a
// quiet window follows some data or timeout elapses. A trailing grace read
// picks up late bytes. It returns false when nothing arrived or I/O failed.
func (t *Transport) SendCommand(cmd []byte, timeout time.Duration) ([]byte, bool) {
	if !t.ResetInput() {
		return nil, false
	}
	time.Sleep(t.timing.CommandSettle)
	if !t.Write(cmd) {
		return nil, false
	}
	time.Sleep(t.timing.ResponseDelay)

	var buf []byte
	var last time.Time
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		chunk, ok := t.ReadAvailable()
		if !ok {
			return nil, false
		}
		if len(chunk) > 0 {
			buf = append(buf, chunk...)
			last = time.Now()
			continue
		}
		if len(buf) > 0 && time.Since(last) >= t.timing.Quiet {
			break
		}
	}

	grace, ok := t.ReadFor(t.timing.Grace)
	if !ok {
		return nil, false
	}
	buf = append(buf, grace...)

	if len(buf) == 0 {
		return nil, false
	}
	return buf, true
}

// CollectUntil reads until marker appears or timeout elapses, then drains
// until a quiet window passes so a response split in two bursts is whole.
// The bool is false only on I/O failure.
func (t *Transport) CollectUntil(marker []byte, timeout time.Duration) ([]byte, bool) {
	var buf []byte
	deadline := time.Now().Add(timeout)
	found := false
	for time.Now().Before(deadline) {
		chunk, ok := t.ReadAvailable()
		if !ok {
			return buf, false
		}
		buf = append(buf, chunk...)
		if bytes.Contains(buf, marker) {
			found = true
			break
		}
	}

	if found {
		var ok bool
		buf, ok = t.drainQuiet(buf, t.timing.Quiet, time.Now().Add(timeout))
		if !ok {
			return buf, false
		}
	}

	grace, ok := t.ReadFor(t.timing.Grace)
	return append(buf, grace...), ok
}

// printable escapes control bytes for the debug log
func printable(data []byte) string {
	var b bytes.Buffer
	for _, c := range data {
		switch {
		case c == '\r':
			b.WriteString(`\r`)
		case c == '\n':
			b.WriteString(`\n`)
		case c < 0x20 || c > 0x7e:
			b.WriteString(`.`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
