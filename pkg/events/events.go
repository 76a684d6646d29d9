// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package events carries typed notifications from the exchange engine and the
// demonstration scheduler to observers.
package events

import (
	"sync"
	"time"

	"github.com/Thermoquad/enigmatouch/pkg/enigma"
)

// Kind names an event type
type Kind string

const (
	KindCharacterExchanged Kind = "character_exchanged"
	KindPositionChanged    Kind = "position_changed"
	KindModeChanged        Kind = "mode_changed"
	KindRetry              Kind = "retry"
	KindCharacterDropped   Kind = "character_dropped"
	KindStateChanged       Kind = "state_changed"
	KindMessageStarted     Kind = "message_started"
	KindMessageFinished    Kind = "message_finished"
	KindConfigFailed       Kind = "config_failed"
	KindForeignInput       Kind = "foreign_input"
	KindSlideChanged       Kind = "slide_changed"
	KindLog                Kind = "log"
)

// Event is implemented by every notification
type Event interface {
	Kind() Kind
	Time() time.Time
}

// Base carries the timestamp shared by all events
type Base struct {
	At time.Time `json:"at"`
}

func (b Base) Time() time.Time { return b.At }

// Now returns a Base stamped with the current time
func Now() Base { return Base{At: time.Now()} }

// CharacterExchanged is emitted for every accepted character
type CharacterExchanged struct {
	Base
	Input    string        `json:"input"`
	Output   string        `json:"output"`
	Position string        `json:"position"`
	Counter  int           `json:"counter,omitempty"`
	Index    int           `json:"index"`
	Total    int           `json:"total"`
	Latency  time.Duration `json:"latency"`
}

func (CharacterExchanged) Kind() Kind { return KindCharacterExchanged }

// PositionChanged is emitted when the mirrored ring position changes
type PositionChanged struct {
	Base
	Position string `json:"position"`
}

func (PositionChanged) Kind() Kind { return KindPositionChanged }

// ModeChanged is emitted on function mode transitions
type ModeChanged struct {
	Base
	From   enigma.FunctionMode `json:"from"`
	To     enigma.FunctionMode `json:"to"`
	Reason string              `json:"reason"`
}

func (ModeChanged) Kind() Kind { return KindModeChanged }

// RetryAttempt is emitted before a character is retried
type RetryAttempt struct {
	Base
	Char    string `json:"char"`
	Attempt int    `json:"attempt"`
	Reason  string `json:"reason"`
}

func (RetryAttempt) Kind() Kind { return KindRetry }

// CharacterDropped is emitted when every attempt for a character failed
type CharacterDropped struct {
	Base
	Char  string `json:"char"`
	Index int    `json:"index"`
}

func (CharacterDropped) Kind() Kind { return KindCharacterDropped }

// StateChanged is emitted on scheduler state transitions
type StateChanged struct {
	Base
	From   enigma.SchedulerState `json:"from"`
	To     enigma.SchedulerState `json:"to"`
	Reason string                `json:"reason"`
}

func (StateChanged) Kind() Kind { return KindStateChanged }

// MessageStarted is emitted when the scheduler begins a corpus entry
type MessageStarted struct {
	Base
	MessageID string              `json:"message_id"`
	Index     int                 `json:"index"`
	Mode      enigma.FunctionMode `json:"mode"`
	Input     string              `json:"input"`
	Config    enigma.DeviceConfig `json:"config"`
}

func (MessageStarted) Kind() Kind { return KindMessageStarted }

// MessageFinished is emitted after verification of a corpus entry
type MessageFinished struct {
	Base
	MessageID string `json:"message_id"`
	Output    string `json:"output"`
	Expected  string `json:"expected"`
	Verified  bool   `json:"verified"`
}

func (MessageFinished) Kind() Kind { return KindMessageFinished }

// ConfigFailed is emitted when settings could not be applied
type ConfigFailed struct {
	Base
	Fields []string `json:"fields"`
}

func (ConfigFailed) Kind() Kind { return KindConfigFailed }

// ForeignInput is emitted when the device reports a keystroke made on the device
type ForeignInput struct {
	Base
	Input    string `json:"input"`
	Output   string `json:"output"`
	Position string `json:"position"`
}

func (ForeignInput) Kind() Kind { return KindForeignInput }

// SlideChanged is emitted when the demonstration advances a slide
type SlideChanged struct {
	Base
	Path string `json:"path"`
}

func (SlideChanged) Kind() Kind { return KindSlideChanged }

// LogLine is a human readable status line
type LogLine struct {
	Base
	Message string `json:"message"`
	IsError bool   `json:"is_error"`
}

func (LogLine) Kind() Kind { return KindLog }

//////////////////////////////////////////////////////////////
// Bus
//////////////////////////////////////////////////////////////

// Publisher accepts events
type Publisher interface {
	Publish(Event)
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of events and a function that cancels the subscription
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers e to every subscriber without blocking
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Discard is a Publisher that drops everything
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}
