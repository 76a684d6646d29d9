// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package museum runs the unattended demonstration loop: it replays corpus
// entries on the device, verifies each result and steps aside whenever a
// visitor operates the machine by hand.
package museum

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/enigmatouch/pkg/client"
	"github.com/Thermoquad/enigmatouch/pkg/corpus"
	"github.com/Thermoquad/enigmatouch/pkg/enigma"
	"github.com/Thermoquad/enigmatouch/pkg/events"
	"github.com/Thermoquad/enigmatouch/pkg/exchange"
	"github.com/Thermoquad/enigmatouch/pkg/transport"
)

// Options configure the demonstration loop
type Options struct {
	Mode              enigma.FunctionMode // ModeEncode or ModeDecode
	Delay             time.Duration       // between messages, and the quiet time that ends a pause
	ReconnectInterval time.Duration
	Tick              time.Duration
	CharacterDelay    time.Duration
	GroupSize         int // until the first entry sets its own GROUP
	Slides            *SlideResolver // nil disables slides
	Pick              func(n int) int
	Simulated         bool
}

// DefaultOptions returns the options used on an exhibit
func DefaultOptions(mode enigma.FunctionMode) Options {
	return Options{
		Mode:              mode,
		Delay:             60 * time.Second,
		ReconnectInterval: 1500 * time.Millisecond,
		Tick:              100 * time.Millisecond,
		GroupSize:         enigma.DefaultGroupSize,
	}
}

// Scheduler drives the demonstration loop. Run must be called from the
// goroutine that owns the transport; Snapshot may be called from any goroutine.
type Scheduler struct {
	engine  *exchange.Engine
	c       *client.Client
	tr      *transport.Transport
	entries []corpus.Entry
	opts    Options
	logger  zerolog.Logger
	events  events.Publisher

	runID  string
	state  enigma.SchedulerState
	reason string

	lastMessage time.Time // end of the previous message, zero to start at once
	lastForeign time.Time // start of the pause or the latest visitor keystroke

	currentIndex int
	messageID    string
	input        string
	expected     string
	currentText  string
	charIndex    int
	groupSize    int // GROUP of the current entry
	slide        string

	log  []LogEntry
	snap atomic.Pointer[Snapshot]
}

// New creates a scheduler replaying entries through engine
func New(engine *exchange.Engine, entries []corpus.Entry, opts Options, pub events.Publisher, logger zerolog.Logger) (*Scheduler, error) {
	if len(entries) == 0 {
		return nil, corpus.ErrNoEntries
	}
	if !opts.Mode.IsMuseum() {
		return nil, fmt.Errorf("function mode %s is not a demonstration mode", opts.Mode)
	}
	if opts.Tick <= 0 {
		opts.Tick = 100 * time.Millisecond
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = 1500 * time.Millisecond
	}
	if opts.GroupSize <= 0 {
		opts.GroupSize = enigma.DefaultGroupSize
	}
	if opts.Pick == nil {
		opts.Pick = rand.IntN
	}
	if pub == nil {
		pub = events.Discard
	}

	s := &Scheduler{
		engine:       engine,
		c:            engine.Client(),
		tr:           engine.Client().Transport(),
		entries:      entries,
		opts:         opts,
		logger:       logger,
		events:       pub,
		state:        enigma.StateStopped,
		currentIndex: -1,
		groupSize:    opts.GroupSize,
	}
	s.publishSnapshot()
	return s, nil
}

// State returns the loop state. Only the control goroutine may call it.
func (s *Scheduler) State() enigma.SchedulerState {
	return s.state
}

// Run loops until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) error {
	s.runID = uuid.NewString()
	s.engine.SetMode(s.opts.Mode, "demonstration started")
	s.logf(false, "Demonstration started (%s, %d messages)", s.opts.Mode, len(s.entries))

	if s.tr.IsConnected() {
		s.setState(enigma.StateRunning, "started")
	} else if err := s.tr.Open(); err != nil {
		s.disconnected(err)
	} else {
		s.setState(enigma.StateRunning, "connected")
	}

	tick := time.NewTicker(s.opts.Tick)
	defer tick.Stop()
	reconnect := time.NewTicker(s.opts.ReconnectInterval)
	defer reconnect.Stop()

	for {
		// nil while disconnected so the closed channel does not spin the loop
		var lost <-chan struct{}
		if s.state != enigma.StateDisconnected {
			lost = s.tr.Lost()
		}

		select {
		case <-ctx.Done():
			s.setState(enigma.StateStopped, "stopped")
			return nil
		case <-lost:
			s.disconnected(s.tr.Err())
		case <-reconnect.C:
			if s.state == enigma.StateDisconnected {
				s.tryReconnect()
			}
		case <-tick.C:
			s.step(ctx)
		}
	}
}

func (s *Scheduler) step(ctx context.Context) {
	switch s.state {
	case enigma.StateRunning:
		if s.lastMessage.IsZero() || time.Since(s.lastMessage) >= s.opts.Delay {
			s.runMessage(ctx)
			return
		}
		if ex, found, _ := s.readForeign(); found {
			s.foreignInput(ex)
			s.pause("visitor input")
		}
	case enigma.StatePaused:
		ex, found, seen := s.readForeign()
		if found {
			s.foreignInput(ex)
		}
		// any output means someone is still at the device
		if seen {
			s.lastForeign = time.Now()
			return
		}
		if s.state == enigma.StatePaused && time.Since(s.lastForeign) >= s.opts.Delay {
			s.resume()
		}
	}
}

//////////////////////////////////////////////////////////////
// Transitions
//////////////////////////////////////////////////////////////

func (s *Scheduler) setState(to enigma.SchedulerState, reason string) {
	from := s.state
	s.state = to
	s.reason = reason
	// subscribers reading Snapshot on the event must see the new state
	s.publishSnapshot()
	if from != to {
		ev := s.logger.Info()
		if to == enigma.StatePaused || to == enigma.StateDisconnected {
			ev = s.logger.Warn()
		}
		ev.Stringer("from", from).Stringer("to", to).Str("reason", reason).Msg("Scheduler state changed")
		s.events.Publish(events.StateChanged{Base: events.Now(), From: from, To: to, Reason: reason})
	}
}

// pause hands the device to the visitor until the quiet interval passes
func (s *Scheduler) pause(reason string) {
	s.engine.SetMode(enigma.ModeInteractive, reason)
	s.lastForeign = time.Now()
	s.logf(false, "Paused: %s", reason)
	s.setState(enigma.StatePaused, reason)
}

// resume restarts with a fresh random entry
func (s *Scheduler) resume() {
	s.engine.SetMode(s.opts.Mode, "no input for the pause interval")
	s.lastMessage = time.Time{}
	s.logf(false, "Resuming demonstration")
	s.setState(enigma.StateRunning, "resumed")
}

func (s *Scheduler) disconnected(err error) {
	reason := "connection lost"
	if err != nil {
		reason = err.Error()
	}
	if s.tr.IsConnected() {
		s.tr.Close()
	}
	s.logf(true, "Disconnected: %s", reason)
	s.setState(enigma.StateDisconnected, reason)
}

func (s *Scheduler) tryReconnect() {
	if err := s.tr.Open(); err != nil {
		s.logger.Debug().Err(err).Msg("Reconnect failed")
		return
	}
	s.engine.SetMode(s.opts.Mode, "reconnected")
	s.lastMessage = time.Time{}
	s.logf(false, "Reconnected")
	s.setState(enigma.StateRunning, "reconnected")
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

func (s *Scheduler) runMessage(ctx context.Context) {
	idx := s.opts.Pick(len(s.entries))
	entry := s.entries[idx]
	input, expected := entry.Exchange(s.opts.Mode)
	cfg := entry.DeviceConfig()

	s.currentIndex = idx
	s.messageID = uuid.NewString()
	s.input = input
	s.expected = expected
	s.currentText = ""
	s.charIndex = 0
	s.groupSize = entry.GroupSize()
	s.slide = ""
	s.events.Publish(events.MessageStarted{
		Base:      events.Now(),
		MessageID: s.messageID,
		Index:     idx,
		Mode:      s.opts.Mode,
		Input:     input,
		Config:    cfg,
	})
	s.logf(false, "Message %d: %s", idx+1, input)
	s.advanceSlide(1)

	s.c.Wake()
	if err := s.c.ApplyCipherConfig(cfg); err != nil {
		if !s.tr.IsConnected() {
			s.disconnected(s.tr.Err())
			return
		}
		s.logf(true, "Configuration error: %v", err)
		s.pause("configuration error")
		return
	}
	time.Sleep(s.tr.Timing().Settle)

	want := enigma.FilterMessage(expected)
	res, err := s.engine.Send(ctx, input, exchange.SendOptions{
		Mode:           s.opts.Mode,
		CharacterDelay: s.opts.CharacterDelay,
		Stop: func(p exchange.Progress) bool {
			s.charIndex = p.Index + 1
			s.currentText = s.formatOutput(p.Text)
			s.advanceSlide(SlideNumber(p.Sent))
			s.publishSnapshot()
			return p.Index >= len(want) || p.Output != want[p.Index:p.Index+1]
		},
	})
	s.lastMessage = time.Now()
	if err != nil {
		if !s.tr.IsConnected() {
			s.disconnected(s.tr.Err())
			return
		}
		s.logf(true, "Send failed: %v", err)
		return
	}
	s.currentText = s.formatOutput(res.Output)

	switch {
	case res.TransportLost:
		s.disconnected(s.tr.Err())
	case res.Cancelled:
		s.publishSnapshot()
	case res.Interrupted:
		s.finish(res.Output, false)
		s.pause(exchange.ReasonOperatedByHand)
	case res.Stopped:
		s.engine.SetLastChars("", "")
		s.logf(true, "Mismatch at character %d: got %s, expected %s", s.charIndex, lastLetter(res.Output), expectedLetter(want, s.charIndex-1))
		s.finish(res.Output, false)
		s.pause("verification failed")
	default:
		got := enigma.FilterMessage(res.Output)
		if got != want {
			s.logf(true, "Mismatch: got %s, expected %s", enigma.NormalizeForCompare(res.Output), want)
			s.finish(res.Output, false)
			s.pause("verification failed")
			return
		}
		s.logf(false, "Verified: %s", s.currentText)
		s.finish(res.Output, true)
	}
}

func (s *Scheduler) finish(output string, verified bool) {
	s.events.Publish(events.MessageFinished{
		Base:      events.Now(),
		MessageID: s.messageID,
		Output:    output,
		Expected:  s.expected,
		Verified:  verified,
	})
	s.publishSnapshot()
}

// formatOutput groups ciphertext and restores the word breaks of plaintext
func (s *Scheduler) formatOutput(text string) string {
	if s.opts.Mode == enigma.ModeDecode {
		return enigma.RestoreSpaces(text, s.expected)
	}
	return enigma.GroupText(text, s.groupSize)
}

func (s *Scheduler) advanceSlide(n int) {
	path, ok := s.opts.Slides.Resolve(s.currentIndex, n)
	if !ok || path == s.slide {
		return
	}
	s.slide = path
	s.events.Publish(events.SlideChanged{Base: events.Now(), Path: path})
}

//////////////////////////////////////////////////////////////
// Visitor input
//////////////////////////////////////////////////////////////

// readForeign polls for a frame typed on the device. seen reports whether
// the device printed anything at all. A read failure moves the loop to
// Disconnected.
func (s *Scheduler) readForeign() (ex enigma.Exchange, found, seen bool) {
	timing := s.tr.Timing()
	data, ok := s.tr.ReadAvailable()
	if !ok {
		s.disconnected(s.tr.Err())
		return enigma.Exchange{}, false, false
	}
	if len(data) == 0 {
		return enigma.Exchange{}, false, false
	}

	marker := []byte(enigma.PositionsKeyword)
	var more []byte
	if bytes.Contains(data, marker) {
		more, ok = s.tr.ReadFor(timing.Quiet)
	} else {
		more, ok = s.tr.CollectUntil(marker, timing.CharTimeout)
	}
	if !ok {
		s.disconnected(s.tr.Err())
		return enigma.Exchange{}, false, false
	}
	data = enigma.StripConfigSummary(append(data, more...))

	frames := enigma.FindExchanges(enigma.Tokenize(string(data)), s.c.RotorCount(), enigma.CaseUpper)
	if len(frames) == 0 {
		s.logger.Debug().Str("raw", string(data)).Msg("Ignoring unsolicited output")
		return enigma.Exchange{}, false, true
	}
	return frames[len(frames)-1], true, true
}

func (s *Scheduler) foreignInput(ex enigma.Exchange) {
	s.engine.SetLastChars(ex.Input, ex.Output)
	s.c.MirrorPosition(ex.PositionText)
	s.events.Publish(events.ForeignInput{
		Base:     events.Now(),
		Input:    ex.Input,
		Output:   ex.Output,
		Position: ex.PositionText,
	})
	s.publishSnapshot()
}

//////////////////////////////////////////////////////////////
// Log
//////////////////////////////////////////////////////////////

func (s *Scheduler) logf(isError bool, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	entry := LogEntry{Time: time.Now(), Message: msg, IsError: isError}
	s.log = append(s.log, entry)
	if len(s.log) > maxLogEntries {
		s.log = append([]LogEntry(nil), s.log[len(s.log)-maxLogEntries:]...)
	}
	s.events.Publish(events.LogLine{Base: events.Now(), Message: msg, IsError: isError})
	s.publishSnapshot()
}

func lastLetter(text string) string {
	if text == "" {
		return "?"
	}
	return text[len(text)-1:]
}

func expectedLetter(want string, i int) string {
	if i < 0 || i >= len(want) {
		return "?"
	}
	return want[i : i+1]
}
