// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package museum

import (
	"time"

	"github.com/Thermoquad/enigmatouch/pkg/enigma"
)

// maxLogEntries bounds the log kept for observers
const maxLogEntries = 100

// LogEntry is one line of the demonstration log
type LogEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
	IsError bool      `json:"is_error"`
}

// Snapshot is a read-only copy of the scheduler state for observers. A new
// Snapshot is built on every change and never modified afterwards.
type Snapshot struct {
	RunID            string                `json:"run_id"`
	State            enigma.SchedulerState `json:"state"`
	Reason           string                `json:"reason"`
	Connected        bool                  `json:"connected"`
	Simulated        bool                  `json:"simulated"`
	FunctionMode     enigma.FunctionMode   `json:"function_mode"`
	Delay            int                   `json:"museum_delay"`
	Config           enigma.DeviceConfig   `json:"config"`
	GroupSize        int                   `json:"word_group_size"`
	CharacterDelayMS int                   `json:"character_delay_ms"`

	LastInput  string `json:"last_input"`
	LastOutput string `json:"last_output"`

	MessageID        string `json:"message_id,omitempty"`
	MessageIndex     int    `json:"message_index"`
	Message          string `json:"message"`
	Expected         string `json:"expected"`
	CurrentCharIndex int    `json:"current_char_index"`
	CurrentText      string `json:"current_text"`

	SlidesEnabled bool   `json:"slides_enabled"`
	SlidePath     string `json:"slide_path,omitempty"`

	Log       []LogEntry `json:"log"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// LastChars returns the last exchanged characters, "?" when unknown
func (s Snapshot) LastChars() (string, string) {
	in, out := s.LastInput, s.LastOutput
	if in == "" {
		in = "?"
	}
	if out == "" {
		out = "?"
	}
	return in, out
}

// SnapshotSource is implemented by anything that can describe the running
// demonstration. The status server and publishers depend only on this.
type SnapshotSource interface {
	Snapshot() Snapshot
}

// publishSnapshot rebuilds the snapshot from the scheduler's own fields.
// Only the control goroutine calls it.
func (s *Scheduler) publishSnapshot() {
	in, out := s.engine.LastChars()
	log := make([]LogEntry, len(s.log))
	copy(log, s.log)

	snap := &Snapshot{
		RunID:            s.runID,
		State:            s.state,
		Reason:           s.reason,
		Connected:        s.tr.IsConnected(),
		Simulated:        s.opts.Simulated,
		FunctionMode:     s.engine.Mode(),
		Delay:            int(s.opts.Delay / time.Second),
		Config:           s.c.Config(),
		GroupSize:        s.groupSize,
		CharacterDelayMS: int(s.opts.CharacterDelay / time.Millisecond),
		LastInput:        upper(in),
		LastOutput:       upper(out),
		MessageID:        s.messageID,
		MessageIndex:     s.currentIndex,
		Message:          s.input,
		Expected:         s.expected,
		CurrentCharIndex: s.charIndex,
		CurrentText:      s.currentText,
		SlidesEnabled:    s.opts.Slides != nil,
		SlidePath:        s.slide,
		Log:              log,
		UpdatedAt:        time.Now(),
	}
	s.snap.Store(snap)
}

// Snapshot returns the latest state. It is safe to call from any goroutine.
func (s *Scheduler) Snapshot() Snapshot {
	if p := s.snap.Load(); p != nil {
		return *p
	}
	return Snapshot{State: enigma.StateStopped}
}

func upper(s string) string {
	if len(s) == 1 && s[0] >= 'a' && s[0] <= 'z' {
		return string(s[0] - 'a' + 'A')
	}
	return s
}
