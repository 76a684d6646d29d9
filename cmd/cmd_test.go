// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/enigmatouch/pkg/client"
	"github.com/Thermoquad/enigmatouch/pkg/corpus"
	"github.com/Thermoquad/enigmatouch/pkg/enigma"
	"github.com/Thermoquad/enigmatouch/pkg/events"
	"github.com/Thermoquad/enigmatouch/pkg/exchange"
	"github.com/Thermoquad/enigmatouch/pkg/settings"
	"github.com/Thermoquad/enigmatouch/pkg/simulator"
	"github.com/Thermoquad/enigmatouch/pkg/transport"
)

// ============================================================
// Test Helpers
// ============================================================

// newTestSession builds a session on the software device without touching
// the command flags
func newTestSession(t *testing.T) *session {
	t.Helper()
	cfg := enigma.DefaultDeviceConfig()
	dev := simulator.New(cfg)
	cur := settings.Defaults()

	s := &session{
		store:    settings.NewStore(filepath.Join(t.TempDir(), settings.DefaultFile), zerolog.Nop()),
		settings: cur,
		bus:      events.NewBus(),
		sim:      dev,
		info:     "Simulated Enigma Touch",
		logger:   zerolog.Nop(),
	}
	s.tr = transport.New(dev.Dialer(), transport.FastTiming(), zerolog.Nop())
	s.client = client.New(s.tr, cfg, s.bus, zerolog.Nop())
	s.engine = exchange.New(s.client, s.bus, exchange.FastOptions(), zerolog.Nop())
	if err := s.tr.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// ============================================================
// Event Text Tests
// ============================================================

func TestDescribeEvent(t *testing.T) {
	tests := []struct {
		name    string
		ev      events.Event
		want    string
		isError bool
		ok      bool
	}{
		{"log line", events.LogLine{Message: "Sending message 3", IsError: false}, "Sending message 3", false, true},
		{"log error", events.LogLine{Message: "Mismatch", IsError: true}, "Mismatch", true, true},
		{"retry", events.RetryAttempt{Char: "Q", Attempt: 2, Reason: "incomplete"}, "Retrying Q (attempt 2): incomplete", false, true},
		{"dropped", events.CharacterDropped{Char: "X", Index: 4}, "Dropped X at character 5", true, true},
		{"config failed", events.ConfigFailed{Fields: []string{"Model", "Rotors"}}, "Configuration failed: Model, Rotors", true, true},
		{"foreign input", events.ForeignInput{Input: "A", Output: "N"}, "Device input A -> N", false, true},
		{"hand operated", events.ModeChanged{From: enigma.ModeEncode, To: enigma.ModeInteractive, Reason: exchange.ReasonOperatedByHand}, "", true, true},
		{"exchanged is shown elsewhere", events.CharacterExchanged{Input: "A", Output: "B"}, "", false, false},
		{"position is shown elsewhere", events.PositionChanged{Position: "01 02 03"}, "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, isError, ok := describeEvent(tt.ev)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if isError != tt.isError {
				t.Errorf("isError = %v, want %v", isError, tt.isError)
			}
			if tt.want != "" && msg != tt.want {
				t.Errorf("msg = %q, want %q", msg, tt.want)
			}
		})
	}
}

func TestEventLog_KeepsNewest(t *testing.T) {
	st := newStyles()
	l := newEventLog(3)
	if got := l.lines(st, 5); !strings.Contains(got, "no events yet") {
		t.Errorf("empty log = %q, want placeholder", got)
	}

	now := time.Now()
	for _, m := range []string{"one", "two", "three", "four"} {
		l.add(now, m, false)
	}
	if len(l.entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(l.entries))
	}
	if l.entries[0].message != "two" {
		t.Errorf("oldest = %q, want %q", l.entries[0].message, "two")
	}

	got := l.lines(st, 2)
	if strings.Contains(got, "two") || !strings.Contains(got, "three") || !strings.Contains(got, "four") {
		t.Errorf("lines(2) = %q, want the two newest entries", got)
	}
}

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m 5s"},
		{2*time.Hour + 1*time.Minute + 9*time.Second, "2h 1m 9s"},
		{1499 * time.Millisecond, "1s"},
	}
	for _, tt := range tests {
		if got := formatElapsed(tt.d); got != tt.want {
			t.Errorf("formatElapsed(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestHighlightMessage_CountsLettersOnly(t *testing.T) {
	st := newStyles()
	got := highlightMessage(st, "AB CD", 3)
	if !strings.Contains(got, "AB ") || !strings.Contains(got, "C") || !strings.Contains(got, "D") {
		t.Errorf("highlightMessage = %q, want every letter kept", got)
	}
	if plain := highlightMessage(st, "AB CD", 0); plain != "AB CD" {
		t.Errorf("highlightMessage(0) = %q, want unchanged text", plain)
	}
}

// ============================================================
// Send Tests
// ============================================================

func TestSendOutcome(t *testing.T) {
	tests := []struct {
		name string
		res  exchange.Result
		want string
	}{
		{"complete", exchange.Result{Output: "ABC", Sent: 3, Total: 3}, ""},
		{"lost", exchange.Result{Sent: 1, Total: 3, TransportLost: true}, "connection lost after 1 of 3"},
		{"by hand", exchange.Result{Sent: 2, Total: 3, Interrupted: true}, exchange.ReasonOperatedByHand},
		{"cancelled", exchange.Result{Sent: 2, Total: 5, Cancelled: true}, "cancelled after 2 of 5"},
		{"dropped", exchange.Result{Sent: 3, Total: 3, Dropped: 1}, "1 character(s) dropped"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sendOutcome(tt.res)
			if tt.want == "" {
				if err != nil {
					t.Errorf("sendOutcome = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("sendOutcome = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestSession_Send(t *testing.T) {
	s := newTestSession(t)

	var seen []exchange.Progress
	res, err := s.send(context.Background(), "Hi there", func(p exchange.Progress) {
		seen = append(seen, p)
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if len(res.Output) != 7 {
		t.Errorf("output = %q, want 7 letters", res.Output)
	}
	if len(seen) != 7 {
		t.Errorf("progress callbacks = %d, want 7", len(seen))
	}
	if err := sendOutcome(res); err != nil {
		t.Errorf("sendOutcome = %v, want nil", err)
	}
}

func TestSession_SendEmpty(t *testing.T) {
	s := newTestSession(t)
	if _, err := s.send(context.Background(), "123 !", nil); !errors.Is(err, exchange.ErrEmptyMessage) {
		t.Errorf("send = %v, want ErrEmptyMessage", err)
	}
}

func TestSendModel_RejectsEmptyInput(t *testing.T) {
	m := initialSendModel(newSendWorker(nil), "test", enigma.DefaultDeviceConfig(), 5)
	m.input.SetValue("42")

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	sm := next.(sendModel)
	if sm.busy {
		t.Error("busy = true, want false for a message without letters")
	}
	if len(sm.log.entries) != 1 || !sm.log.entries[0].isError {
		t.Errorf("log = %+v, want one error entry", sm.log.entries)
	}
}

func TestSendModel_TracksProgress(t *testing.T) {
	m := initialSendModel(newSendWorker(nil), "test", enigma.DefaultDeviceConfig(), 5)
	m.input.SetValue("hello")

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(sendModel)
	if !m.busy || m.message != "HELLO" {
		t.Fatalf("busy=%v message=%q, want busy with HELLO", m.busy, m.message)
	}

	next, _ = m.Update(eventBatchMsg{
		events.CharacterExchanged{Index: 0, Input: "H", Output: "M"},
		events.PositionChanged{Position: "01 01 02"},
		events.CharacterExchanged{Index: 1, Input: "E", Output: "Q"},
	})
	m = next.(sendModel)
	if m.sent != 2 || m.output != "MQ" {
		t.Errorf("sent=%d output=%q, want 2 and MQ", m.sent, m.output)
	}
	if m.cfg.RingPosition != "01 01 02" {
		t.Errorf("position = %q, want 01 01 02", m.cfg.RingPosition)
	}

	next, _ = m.Update(sendDoneMsg{res: exchange.Result{Output: "MQXYZ", Sent: 5, Total: 5}, cfg: m.cfg})
	m = next.(sendModel)
	if m.busy {
		t.Error("busy = true after sendDoneMsg")
	}
	if m.result != "MQXYZ" {
		t.Errorf("result = %q, want MQXYZ", m.result)
	}
}

// ============================================================
// Monitor Tests
// ============================================================

func TestSession_MonitorMirrorsPosition(t *testing.T) {
	s := newTestSession(t)
	s.sim.Press('A')

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var frames []enigma.Exchange
	err := s.monitor(ctx, func(data []byte, found []enigma.Exchange) {
		frames = append(frames, found...)
		if len(frames) > 0 {
			cancel()
		}
	})
	if err != nil {
		t.Fatalf("monitor failed: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(frames))
	}
	if frames[0].Input != "A" || frames[0].Output != "N" {
		t.Errorf("frame = %s -> %s, want A -> N", frames[0].Input, frames[0].Output)
	}
	if got := s.client.Config().RingPosition; got != frames[0].PositionText {
		t.Errorf("mirrored position = %q, want %q", got, frames[0].PositionText)
	}
}

func TestSession_MonitorReportsLostLink(t *testing.T) {
	s := newTestSession(t)
	s.sim.Unplug()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.monitor(ctx, func([]byte, []enigma.Exchange) {})
	if err == nil || !strings.Contains(err.Error(), "connection lost") {
		t.Errorf("monitor = %v, want connection lost", err)
	}
}

// ============================================================
// Command Helper Tests
// ============================================================

func TestDeviceSettings_Complete(t *testing.T) {
	want := []string{
		"brightness", "lock-model", "lock-power-off", "lock-ring", "lock-rotor",
		"logging-format", "model", "plugboard", "position", "rings", "rotors",
		"timeout-battery", "timeout-plugged", "timeout-screensaver", "timeout-setup", "volume",
	}
	got := settingNames()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("settingNames = %v, want %v", got, want)
	}
	if deviceSettings["logging-format"].save != nil {
		t.Error("logging-format should not be persisted")
	}
	for _, name := range []string{"model", "position", "lock-ring", "brightness"} {
		if deviceSettings[name].save == nil {
			t.Errorf("%s is not persisted", name)
		}
	}
}

func TestBoolSetting_RejectsGarbage(t *testing.T) {
	st := deviceSettings["lock-model"]
	if _, err := st.apply(nil, "maybe"); err == nil {
		t.Error("apply(maybe) = nil error, want invalid value")
	}
	if _, err := deviceSettings["brightness"].apply(nil, "bright"); err == nil {
		t.Error("apply(bright) = nil error, want invalid number")
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		if got := confirm(strings.NewReader(tt.input), &out, "Proceed?"); got != tt.want {
			t.Errorf("confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
		if !strings.Contains(out.String(), "Proceed? [y/N]") {
			t.Errorf("prompt = %q", out.String())
		}
	}
}

func TestPrintSettings(t *testing.T) {
	var out bytes.Buffer
	if err := printSettings(&out, settings.Defaults()); err != nil {
		t.Fatalf("printSettings failed: %v", err)
	}
	text := out.String()
	for _, want := range []string{"museum_delay", "60", "config.rotor_set", "always_send_config", "false"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
	if lines := strings.Count(text, "\n"); lines != len(settings.Keys()) {
		t.Errorf("lines = %d, want %d", lines, len(settings.Keys()))
	}
}

func TestSimulatorScripts(t *testing.T) {
	entries := []corpus.Entry{
		{Message: "HELLO", Model: "I", Rotor: "B I II III", RingSet: "01 01 01", RingPos: "01 01 01", Coded: "ILBDA"},
		{Message: "WORLD", Model: "M3", Rotor: "B III II I", RingSet: "01 01 01", RingPos: "05 05 05", Coded: "QWERT"},
	}
	scripts := simulatorScripts(entries)
	if len(scripts) != 2 {
		t.Fatalf("scripts = %d, want 2", len(scripts))
	}
	if scripts[1].Plain != "WORLD" || scripts[1].Coded != "QWERT" {
		t.Errorf("script = %+v", scripts[1])
	}
	if scripts[1].Config.Model != "M3" || scripts[1].Config.RingPosition != "05 05 05" {
		t.Errorf("script config = %+v", scripts[1].Config)
	}
}

func TestSlidesDir(t *testing.T) {
	dir := t.TempDir()
	old := museumSlidesDir
	t.Cleanup(func() { museumSlidesDir = old })

	cur := settings.Defaults()
	museumSlidesDir = dir
	if got := slidesDir(cur); got != "" {
		t.Errorf("slidesDir with slides disabled = %q, want empty", got)
	}
	cur.EnableSlides = true
	if got := slidesDir(cur); got != dir {
		t.Errorf("slidesDir = %q, want %q", got, dir)
	}
	museumSlidesDir = filepath.Join(dir, "missing")
	if got := slidesDir(cur); got != "" {
		t.Errorf("slidesDir for a missing directory = %q, want empty", got)
	}
}

func TestPersistMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), settings.DefaultFile)
	store := settings.NewStore(path, zerolog.Nop())
	cur := settings.Defaults()
	if err := store.Write(cur); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	ch := make(chan events.Event, 2)
	ch <- events.ModeChanged{From: enigma.ModeInteractive, To: enigma.ModeDecode, Reason: "resumed"}
	close(ch)
	persistMode(context.Background(), ch, store, cur, zerolog.Nop())

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Mode() != enigma.ModeDecode {
		t.Errorf("saved mode = %v, want %v", got.Mode(), enigma.ModeDecode)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("settings file missing: %v", err)
	}
}
