// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package exchange

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/enigmatouch/pkg/client"
	"github.com/Thermoquad/enigmatouch/pkg/enigma"
	"github.com/Thermoquad/enigmatouch/pkg/events"
	"github.com/Thermoquad/enigmatouch/pkg/simulator"
	"github.com/Thermoquad/enigmatouch/pkg/transport"
)

// ============================================================
// Test Helpers
// ============================================================

type testRig struct {
	dev    *simulator.Device
	tr     *transport.Transport
	client *client.Client
	engine *Engine
	bus    *events.Bus
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	cfg := enigma.DefaultDeviceConfig()
	dev := simulator.New(cfg)
	tr := transport.New(dev.Dialer(), transport.FastTiming(), zerolog.Nop())
	if err := tr.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	bus := events.NewBus()
	c := client.New(tr, cfg, bus, zerolog.Nop())
	return &testRig{
		dev:    dev,
		tr:     tr,
		client: c,
		engine: New(c, bus, FastOptions(), zerolog.Nop()),
		bus:    bus,
	}
}

// drain collects every event already queued on ch
func drain(ch <-chan events.Event) []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func send(t *testing.T, r *testRig, msg string, opts SendOptions) Result {
	t.Helper()
	res, err := r.engine.Send(context.Background(), msg, opts)
	if err != nil {
		t.Fatalf("Send(%q) failed: %v", msg, err)
	}
	return res
}

// ============================================================
// Round Trip Tests
// ============================================================

func TestSend_RoundTrip(t *testing.T) {
	r := newRig(t)
	start := enigma.DefaultDeviceConfig()
	r.dev.SetScripts([]simulator.Script{{Config: start, Plain: "HELLO WORLD", Coded: "MFNCZ BBFZM"}})

	res := send(t, r, "Hello World", SendOptions{Mode: enigma.ModeEncode})
	if !res.Complete() {
		t.Fatalf("encode incomplete: %+v", res)
	}
	if res.Output != "MFNCZBBFZM" {
		t.Errorf("encode output = %q, want %q", res.Output, "MFNCZBBFZM")
	}

	if !r.client.SetRingPosition(start.RingPosition) {
		t.Fatalf("SetRingPosition failed: %v", r.client.LastError())
	}
	res = send(t, r, "MFNCZ BBFZM", SendOptions{Mode: enigma.ModeDecode})
	if enigma.NormalizeForCompare(res.Output) != enigma.NormalizeForCompare("HELLO WORLD") {
		t.Errorf("decode output = %q, want HELLOWORLD", res.Output)
	}
}

func TestSend_TracksPositionAndLastChars(t *testing.T) {
	r := newRig(t)
	res := send(t, r, "AB", SendOptions{})
	if res.Sent != 2 {
		t.Fatalf("Sent = %d, want 2", res.Sent)
	}

	if got, want := r.client.Config().RingPosition, r.dev.Config().RingPosition; got != want {
		t.Errorf("mirrored position = %q, device reports %q", got, want)
	}
	in, out := r.engine.LastChars()
	if in != "B" || out != "o" {
		t.Errorf("LastChars = %q %q, want B o", in, out)
	}
	if r.engine.Mode() != enigma.ModeScriptedInteractive {
		t.Errorf("Mode = %v, want %v", r.engine.Mode(), enigma.ModeScriptedInteractive)
	}
}

func TestSend_PositionsStrictlyAdvance(t *testing.T) {
	r := newRig(t)
	ch, cancel := r.bus.Subscribe(256)
	defer cancel()

	send(t, r, "THE QUICK BROWN FOX", SendOptions{})

	var prev string
	n := 0
	for _, e := range drain(ch) {
		ce, ok := e.(events.CharacterExchanged)
		if !ok {
			continue
		}
		if ce.Position == prev {
			t.Errorf("character %d repeated position %q", ce.Index, ce.Position)
		}
		prev = ce.Position
		n++
	}
	if n != 16 {
		t.Errorf("got %d CharacterExchanged events, want 16", n)
	}
}

// ============================================================
// Retry Tests
// ============================================================

func TestSend_RetryBoundedWhenPositionFrozen(t *testing.T) {
	r := newRig(t)
	r.dev.FreezePositions(true)
	ch, cancel := r.bus.Subscribe(256)
	defer cancel()

	res := send(t, r, "ABC", SendOptions{})

	// first character is always accepted, the others get three attempts each
	if got := r.dev.Keystrokes(); got != 7 {
		t.Errorf("keystrokes = %d, want 7", got)
	}
	if res.Sent != 1 || res.Dropped != 2 {
		t.Errorf("Sent = %d, Dropped = %d, want 1 and 2", res.Sent, res.Dropped)
	}
	if res.Total != 1 {
		t.Errorf("Total = %d, want 1", res.Total)
	}
	if len(res.Output) != 1 {
		t.Errorf("Output = %q, want one letter", res.Output)
	}

	var retries, drops int
	for _, e := range drain(ch) {
		switch e.(type) {
		case events.RetryAttempt:
			retries++
		case events.CharacterDropped:
			drops++
		}
	}
	if retries != 4 || drops != 2 {
		t.Errorf("retries = %d, drops = %d, want 4 and 2", retries, drops)
	}

	stats := r.engine.Statistics().Snapshot()
	if stats.Unchanged != 6 || stats.Dropped != 2 {
		t.Errorf("stats unchanged = %d dropped = %d", stats.Unchanged, stats.Dropped)
	}
}

func TestProgress_Advanced(t *testing.T) {
	last := progress{started: true, pos: enigma.Position{1, 2, 3}, counter: 4, hasCounter: true}

	tests := []struct {
		name string
		p    progress
		ex   enigma.Exchange
		want bool
	}{
		{"first character", progress{}, enigma.Exchange{Position: enigma.Position{1, 2, 3}}, true},
		{"position moved", last, enigma.Exchange{Position: enigma.Position{1, 2, 4}}, true},
		{"counter increased", last, enigma.Exchange{Position: enigma.Position{1, 2, 3}, Counter: 5, HasCounter: true}, true},
		{"counter equal", last, enigma.Exchange{Position: enigma.Position{1, 2, 3}, Counter: 4, HasCounter: true}, false},
		{"counter went back", last, enigma.Exchange{Position: enigma.Position{1, 2, 3}, Counter: 3, HasCounter: true}, false},
		{"nothing changed", last, enigma.Exchange{Position: enigma.Position{1, 2, 3}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.advanced(tt.ex); got != tt.want {
				t.Errorf("advanced = %v, want %v", got, tt.want)
			}
		})
	}
}

// ============================================================
// Case Mismatch Tests
// ============================================================

func TestSend_UppercaseAnswerSwitchesToInteractive(t *testing.T) {
	modes := []enigma.FunctionMode{enigma.ModeScriptedInteractive, enigma.ModeEncode, enigma.ModeDecode}
	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			r := newRig(t)
			r.engine.SetLastChars("Q", "w")
			r.dev.SetUppercase(true)
			ch, cancel := r.bus.Subscribe(64)
			defer cancel()

			res := send(t, r, "HELLO", SendOptions{Mode: mode})

			if !res.Interrupted {
				t.Error("expected Interrupted")
			}
			if res.Output != "" {
				t.Errorf("Output = %q, frame must not be message data", res.Output)
			}
			if r.engine.Mode() != enigma.ModeInteractive {
				t.Errorf("Mode = %v, want Interactive", r.engine.Mode())
			}
			if in, out := r.engine.LastChars(); in != "" || out != "" {
				t.Errorf("LastChars = %q %q, want cleared", in, out)
			}

			toInteractive := 0
			for _, e := range drain(ch) {
				if mc, ok := e.(events.ModeChanged); ok && mc.To == enigma.ModeInteractive {
					toInteractive++
				}
			}
			if toInteractive != 1 {
				t.Errorf("transitions to Interactive = %d, want 1", toInteractive)
			}
			if r.dev.Keystrokes() != 1 {
				t.Errorf("keystrokes = %d, want 1", r.dev.Keystrokes())
			}
		})
	}
}

func TestSend_UppercaseDuringExtensionSwitchesToInteractive(t *testing.T) {
	r := newRig(t)
	r.dev.FreezePositions(true)
	// the operator types right behind the unchanged frame for B
	r.dev.PressAfterKeystroke(2, 'Q')
	ch, cancel := r.bus.Subscribe(64)
	defer cancel()

	res := send(t, r, "ABC", SendOptions{Mode: enigma.ModeEncode})

	if !res.Interrupted {
		t.Fatal("expected Interrupted")
	}
	if res.Sent != 1 || res.Dropped != 0 {
		t.Errorf("Sent = %d, Dropped = %d, want 1 and 0", res.Sent, res.Dropped)
	}
	if r.engine.Mode() != enigma.ModeInteractive {
		t.Errorf("Mode = %v, want Interactive", r.engine.Mode())
	}
	if got := r.dev.Keystrokes(); got != 2 {
		t.Errorf("keystrokes = %d, want 2", got)
	}
	for _, e := range drain(ch) {
		if _, ok := e.(events.RetryAttempt); ok {
			t.Error("uppercase frame must not trigger a retry")
		}
	}
	if stats := r.engine.Statistics().Snapshot(); stats.CaseMismatches != 1 || stats.Unchanged != 0 {
		t.Errorf("stats case mismatches = %d unchanged = %d, want 1 and 0", stats.CaseMismatches, stats.Unchanged)
	}
}

// ============================================================
// Framing Tests
// ============================================================

func TestSend_DiscardsSettingsDump(t *testing.T) {
	r := newRig(t)
	r.dev.OverrideOutput("XY")
	r.dev.DumpBeforeNextResult()

	res := send(t, r, "AB", SendOptions{})
	if res.Output != "XY" {
		t.Errorf("Output = %q, want XY", res.Output)
	}
	if got := r.engine.Statistics().Snapshot().ConfigDumps; got != 1 {
		t.Errorf("ConfigDumps = %d, want 1", got)
	}
}

func TestSend_FrameSplitInTwoBursts(t *testing.T) {
	r := newRig(t)
	r.dev.SplitFrames(5 * time.Millisecond)
	r.dev.OverrideOutput("KLM")

	res := send(t, r, "ABC", SendOptions{})
	if res.Output != "KLM" || !res.Complete() {
		t.Errorf("result = %+v, want KLM complete", res)
	}
}

// ============================================================
// Cancellation Tests
// ============================================================

func TestSend_StopCallback(t *testing.T) {
	r := newRig(t)
	res := send(t, r, "ABCDEF", SendOptions{
		Stop: func(p Progress) bool { return p.Sent == 2 },
	})
	if !res.Stopped {
		t.Error("expected Stopped")
	}
	if res.Sent != 2 || r.dev.Keystrokes() != 2 {
		t.Errorf("Sent = %d keystrokes = %d, want 2 and 2", res.Sent, r.dev.Keystrokes())
	}
}

func TestSend_ContextCancelledBetweenCharacters(t *testing.T) {
	r := newRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	res, err := r.engine.Send(ctx, "ABCDEF", SendOptions{
		CharacterDelay: time.Second,
		Stop: func(p Progress) bool {
			cancel()
			return false
		},
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !res.Cancelled || res.Sent != 1 {
		t.Errorf("result = %+v, want cancelled after one character", res)
	}
}

func TestSend_TransportLost(t *testing.T) {
	r := newRig(t)
	res := send(t, r, "ABCD", SendOptions{
		Stop: func(p Progress) bool {
			if p.Sent == 2 {
				r.dev.Unplug()
			}
			return false
		},
	})
	if !res.TransportLost {
		t.Fatalf("expected TransportLost, got %+v", res)
	}
	if res.Sent != 2 {
		t.Errorf("Sent = %d, want 2", res.Sent)
	}
	select {
	case <-r.tr.Lost():
	default:
		t.Error("expected Lost to be signalled")
	}
}

func TestSend_Preconditions(t *testing.T) {
	r := newRig(t)
	if _, err := r.engine.Send(context.Background(), "123 !", SendOptions{}); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("err = %v, want ErrEmptyMessage", err)
	}
	r.tr.Close()
	if _, err := r.engine.Send(context.Background(), "ABC", SendOptions{}); !errors.Is(err, transport.ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

// ============================================================
// Statistics Tests
// ============================================================

func TestStatistics_String(t *testing.T) {
	r := newRig(t)
	send(t, r, "ABC", SendOptions{})

	s := r.engine.Statistics()
	text := s.String()
	if !strings.Contains(text, "Accepted:") || !strings.Contains(text, "(100.0%)") {
		t.Errorf("unexpected statistics:\n%s", text)
	}
	s.Reset()
	if snap := s.Snapshot(); snap.Attempts != 0 || snap.Accepted != 0 {
		t.Errorf("Reset left counters %+v", snap)
	}
}
