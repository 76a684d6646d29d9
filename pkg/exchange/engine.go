// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package exchange sends messages one character at a time and reads back the
// device's answer for each keystroke.
package exchange

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/enigmatouch/pkg/client"
	"github.com/Thermoquad/enigmatouch/pkg/enigma"
	"github.com/Thermoquad/enigmatouch/pkg/events"
	"github.com/Thermoquad/enigmatouch/pkg/transport"
)

// ErrEmptyMessage is returned when a message has no letters to send
var ErrEmptyMessage = errors.New("message contains no letters")

// ReasonOperatedByHand is the mode change reason for an uppercase answer
// during a scripted send
const ReasonOperatedByHand = "device operated by hand"

// Options bound the retry and pacing behaviour of the engine
type Options struct {
	MaxAttempts   int           // attempts per character
	Extension     time.Duration // extra read when the position did not move
	ExtensionPoll time.Duration
	Pacing        time.Duration // minimum gap between characters
}

// DefaultOptions returns the options used with real hardware
func DefaultOptions() Options {
	return Options{
		MaxAttempts:   3,
		Extension:     300 * time.Millisecond,
		ExtensionPoll: 50 * time.Millisecond,
		Pacing:        100 * time.Millisecond,
	}
}

// FastOptions returns compressed options for the software device
func FastOptions() Options {
	return Options{
		MaxAttempts:   3,
		Extension:     20 * time.Millisecond,
		ExtensionPoll: 5 * time.Millisecond,
		Pacing:        time.Millisecond,
	}
}

// SendOptions control a single message
type SendOptions struct {
	// Mode is Encode or Decode for the demonstration loop. Any other value
	// sends the message as a scripted interactive message.
	Mode FunctionMode
	// Generating skips the configured character delay during corpus runs
	Generating bool
	// CharacterDelay is the gap between characters; zero means Pacing
	CharacterDelay time.Duration
	// Stop is called after every accepted character. Returning true ends the send.
	Stop func(Progress) bool
}

// FunctionMode is re-exported so callers of Send need only this package
type FunctionMode = enigma.FunctionMode

// Progress describes the message after an accepted character
type Progress struct {
	Index  int    // index of the character in the filtered message
	Input  string // letter sent
	Output string // letter the device answered
	Text   string // output accumulated so far
	Sent   int
	Total  int
}

// Result is the outcome of Send. Failures are reported here, not as errors.
type Result struct {
	Output        string
	Sent          int // accepted characters
	Total         int // characters still counted after drops
	Dropped       int
	Interrupted   bool // the device was operated by hand during the send
	Stopped       bool // Stop returned true
	Cancelled     bool // the context ended between characters
	TransportLost bool
}

// Complete reports whether every character was exchanged
func (r Result) Complete() bool {
	return !r.Interrupted && !r.Stopped && !r.Cancelled && !r.TransportLost && r.Dropped == 0
}

// Engine owns the function mode and the last exchanged characters. Like the
// transport below it, an Engine is used from a single control goroutine.
type Engine struct {
	c      *client.Client
	tr     *transport.Transport
	opts   Options
	logger zerolog.Logger
	events events.Publisher
	stats  *Statistics

	mode    enigma.FunctionMode
	lastIn  string
	lastOut string
}

// New creates an engine driving c
func New(c *client.Client, pub events.Publisher, opts Options, logger zerolog.Logger) *Engine {
	if pub == nil {
		pub = events.Discard
	}
	return &Engine{
		c:      c,
		tr:     c.Transport(),
		opts:   opts,
		logger: logger,
		events: pub,
		stats:  NewStatistics(),
		mode:   enigma.ModeInteractive,
	}
}

// Mode returns the current function mode
func (e *Engine) Mode() enigma.FunctionMode {
	return e.mode
}

// SetMode changes the function mode and publishes the transition
func (e *Engine) SetMode(m enigma.FunctionMode, reason string) {
	if m == e.mode {
		return
	}
	from := e.mode
	e.mode = m
	e.logger.Info().Stringer("from", from).Stringer("to", m).Str("reason", reason).Msg("Function mode changed")
	e.events.Publish(events.ModeChanged{Base: events.Now(), From: from, To: m, Reason: reason})
}

// LastChars returns the last letters sent and received. Both are empty when unknown.
func (e *Engine) LastChars() (string, string) {
	return e.lastIn, e.lastOut
}

// SetLastChars records characters observed outside a send, such as operator input
func (e *Engine) SetLastChars(in, out string) {
	e.lastIn, e.lastOut = in, out
}

// Statistics returns the running exchange statistics
func (e *Engine) Statistics() *Statistics {
	return e.stats
}

// Client returns the protocol client driven by the engine
func (e *Engine) Client() *client.Client {
	return e.c
}

//////////////////////////////////////////////////////////////
// Send
//////////////////////////////////////////////////////////////

// progress is the last accepted frame of the current message
type progress struct {
	started    bool
	pos        enigma.Position
	counter    int
	hasCounter bool
}

// advanced reports whether ex moved the machine past the last accepted frame
func (p progress) advanced(ex enigma.Exchange) bool {
	if !p.started {
		return true
	}
	if !ex.Position.Equal(p.pos) {
		return true
	}
	return ex.HasCounter && p.hasCounter && ex.Counter > p.counter
}

type outcome int

const (
	accepted outcome = iota
	failed
	mismatch
	lost
)

// Send exchanges every letter of message. Non-letters are ignored. The only
// errors are ErrEmptyMessage and transport.ErrNotConnected; everything else
// is reported through the Result.
func (e *Engine) Send(ctx context.Context, message string, opts SendOptions) (Result, error) {
	text := enigma.FilterMessage(message)
	if text == "" {
		return Result{}, ErrEmptyMessage
	}
	if !e.tr.IsConnected() {
		return Result{}, transport.ErrNotConnected
	}

	if opts.Mode.IsMuseum() {
		e.SetMode(opts.Mode, "demonstration message")
	} else {
		e.SetMode(enigma.ModeScriptedInteractive, "message sent")
	}

	timing := e.tr.Timing()
	if !e.c.ReturnToEncodeMode() && !e.tr.IsConnected() {
		return Result{Total: len(text), TransportLost: true}, nil
	}
	time.Sleep(timing.Settle)

	res := Result{Total: len(text)}
	var out strings.Builder
	var last progress
	rc := e.c.RotorCount()

	e.logger.Info().Str("mode", e.mode.String()).Int("chars", len(text)).Msg("Sending message")

	for i := 0; i < len(text); i++ {
		if ctx.Err() != nil {
			res.Cancelled = true
			break
		}

		ch := text[i : i+1]
		start := time.Now()
		var ex enigma.Exchange
		result := failed

		for attempt := 1; attempt <= e.opts.MaxAttempts; attempt++ {
			var extended bool
			var reason FailureReason
			ex, extended, reason, result = e.attempt(ch, rc, last)
			if result == accepted {
				e.stats.recordAccepted(extended)
				break
			}
			if result != failed {
				break
			}

			e.stats.recordFailure(reason)
			if attempt == e.opts.MaxAttempts {
				break
			}
			e.stats.recordRetry()
			e.logger.Warn().Str("char", ch).Int("attempt", attempt+1).Str("reason", reason.String()).Msg("Retrying character")
			e.events.Publish(events.RetryAttempt{Base: events.Now(), Char: ch, Attempt: attempt + 1, Reason: reason.String()})
			if !e.c.Resync() && !e.tr.IsConnected() {
				result = lost
				break
			}
		}

		switch result {
		case lost:
			e.logger.Warn().Err(e.tr.Err()).Str("char", ch).Msg("Transport lost during send")
			res.TransportLost = true
			res.Output = out.String()
			return res, nil

		case mismatch:
			e.stats.recordCaseMismatch()
			e.SetMode(enigma.ModeInteractive, ReasonOperatedByHand)
			e.lastIn, e.lastOut = "", ""
			e.logger.Warn().Str("char", ch).Msg("Uppercase answer, device in use")
			res.Interrupted = true
			res.Output = out.String()
			return res, nil

		case failed:
			e.stats.recordDrop()
			res.Dropped++
			res.Total--
			e.logger.Warn().Str("char", ch).Int("index", i).Msg("Character dropped")
			e.events.Publish(events.CharacterDropped{Base: events.Now(), Char: ch, Index: i})
			continue
		}

		out.WriteString(ex.Output)
		res.Sent++
		last = progress{started: true, pos: ex.Position, counter: ex.Counter, hasCounter: ex.HasCounter}
		e.c.MirrorPosition(ex.PositionText)
		e.lastIn, e.lastOut = ch, ex.RawOutput

		e.events.Publish(events.CharacterExchanged{
			Base:     events.Now(),
			Input:    ch,
			Output:   ex.Output,
			Position: ex.PositionText,
			Counter:  ex.Counter,
			Index:    i,
			Total:    res.Total,
			Latency:  time.Since(start),
		})

		if opts.Stop != nil && opts.Stop(Progress{
			Index:  i,
			Input:  ch,
			Output: ex.Output,
			Text:   out.String(),
			Sent:   res.Sent,
			Total:  res.Total,
		}) {
			res.Stopped = true
			break
		}

		if i < len(text)-1 {
			if !e.pause(ctx, opts) {
				res.Cancelled = true
				break
			}
		}
	}

	res.Output = out.String()
	e.logger.Info().Str("output", res.Output).Int("sent", res.Sent).Int("dropped", res.Dropped).Msg("Message finished")
	return res, nil
}

// pause waits between characters. It returns false when ctx ended first.
func (e *Engine) pause(ctx context.Context, opts SendOptions) bool {
	delay := e.opts.Pacing
	if !opts.Generating && opts.CharacterDelay > 0 {
		delay = opts.CharacterDelay
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// attempt sends one letter and reads back its frame
func (e *Engine) attempt(ch string, rc int, last progress) (enigma.Exchange, bool, FailureReason, outcome) {
	timing := e.tr.Timing()
	marker := []byte(enigma.PositionsKeyword)
	e.stats.recordAttempt()

	if !e.tr.ResetInput() {
		return enigma.Exchange{}, false, 0, lost
	}
	time.Sleep(timing.CommandSettle)
	if !e.tr.Write([]byte(ch)) {
		return enigma.Exchange{}, false, 0, lost
	}

	raw, ok := e.tr.CollectUntil(marker, timing.CharTimeout)
	if !ok {
		return enigma.Exchange{}, false, 0, lost
	}
	if !bytes.Contains(raw, marker) {
		e.logger.Debug().Str("char", ch).Int("bytes", len(raw)).Msg("No Positions marker in response")
		return enigma.Exchange{}, false, FailIncomplete, failed
	}

	clean := enigma.StripConfigSummary(raw)
	if !bytes.Equal(clean, raw) {
		e.stats.recordConfigDump()
		e.logger.Debug().Msg("Discarded settings dump before result")
	}

	expect := e.mode.ExpectedCase()
	frames := enigma.FindExchanges(enigma.Tokenize(string(clean)), rc, expect)
	if len(frames) == 0 {
		e.logger.Warn().Str("char", ch).Str("raw", string(raw)).Msg("Unrecognized response")
		return enigma.Exchange{}, false, FailUnrecognized, failed
	}

	ex := frames[0]
	if expect == enigma.CaseLower && ex.Upper {
		return ex, false, 0, mismatch
	}
	if last.advanced(ex) {
		return ex, false, 0, accepted
	}

	// The device sometimes echoes the old state before the real frame
	next, result := e.extend(clean, rc, last)
	switch result {
	case accepted:
		return next, true, 0, accepted
	case mismatch, lost:
		return next, false, 0, result
	}
	e.logger.Debug().Str("char", ch).Str("position", ex.PositionText).Msg("Position unchanged")
	return ex, false, FailUnchanged, failed
}

// extend keeps reading for a frame that advanced past last. An uppercase
// frame seen while lowercase is expected ends the wait with mismatch.
func (e *Engine) extend(buf []byte, rc int, last progress) (enigma.Exchange, outcome) {
	expect := e.mode.ExpectedCase()
	deadline := time.Now().Add(e.opts.Extension)
	for {
		for _, f := range enigma.FindExchanges(enigma.Tokenize(string(buf)), rc, expect) {
			if expect == enigma.CaseLower && f.Upper {
				return f, mismatch
			}
			if last.advanced(f) {
				return f, accepted
			}
		}
		if !time.Now().Before(deadline) {
			return enigma.Exchange{}, failed
		}
		chunk, ok := e.tr.ReadFor(e.opts.ExtensionPoll)
		if !ok {
			return enigma.Exchange{}, lost
		}
		buf = append(buf, chunk...)
	}
}
