// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package publish

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/enigmatouch/pkg/enigma"
	"github.com/Thermoquad/enigmatouch/pkg/events"
	"github.com/Thermoquad/enigmatouch/pkg/museum"
)

// ============================================================
// Test Helpers
// ============================================================

type fakeToken struct {
	err  error
	done chan struct{}
}

func newToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type message struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeBroker struct {
	mu         sync.Mutex
	messages   []message
	publishErr error
	connectErr error
	connected  bool
}

func (b *fakeBroker) Connect() paho.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = b.connectErr == nil
	return newToken(b.connectErr)
}

func (b *fakeBroker) Disconnect(uint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
}

func (b *fakeBroker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBroker) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr == nil {
		b.messages = append(b.messages, message{topic: topic, retained: retained, payload: payload.([]byte)})
	}
	return newToken(b.publishErr)
}

func (b *fakeBroker) sent() []message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]message(nil), b.messages...)
}

type staticSource struct{ snap museum.Snapshot }

func (s staticSource) Snapshot() museum.Snapshot { return s.snap }

func newTestPublisher(b *fakeBroker, source museum.SnapshotSource) *Publisher {
	cfg := Config{BrokerURL: "tcp://localhost:1883", TopicPrefix: "museum/"}
	cfg.applyDefaults()
	return &Publisher{config: cfg, client: b, source: source, logger: zerolog.Nop()}
}

// ============================================================
// Configuration Tests
// ============================================================

func TestNew_RequiresBroker(t *testing.T) {
	if _, err := New(Config{}, nil, zerolog.Nop()); err == nil {
		t.Error("expected error without broker URL")
	}
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()
	if cfg.TopicPrefix != DefaultTopicPrefix {
		t.Errorf("TopicPrefix = %q, want %q", cfg.TopicPrefix, DefaultTopicPrefix)
	}
	if len(cfg.ClientID) != len("enigmatouch-")+8 {
		t.Errorf("ClientID = %q", cfg.ClientID)
	}
	if cfg.KeepAlive != 30*time.Second {
		t.Errorf("KeepAlive = %v", cfg.KeepAlive)
	}
}

func TestTopics(t *testing.T) {
	p := newTestPublisher(&fakeBroker{}, nil)
	if got := p.EventTopic(events.KindMessageFinished); got != "museum/events/message_finished" {
		t.Errorf("EventTopic = %q", got)
	}
	if got := p.StatusTopic(); got != "museum/status" {
		t.Errorf("StatusTopic = %q", got)
	}
}

// ============================================================
// Publishing Tests
// ============================================================

func TestPublish_EventAndStatus(t *testing.T) {
	b := &fakeBroker{}
	src := staticSource{snap: museum.Snapshot{RunID: "run-1", State: enigma.StateRunning}}
	p := newTestPublisher(b, src)

	p.Publish(events.MessageFinished{Base: events.Now(), MessageID: "m1", Verified: true})

	msgs := b.sent()
	if len(msgs) != 2 {
		t.Fatalf("published %d messages, want 2", len(msgs))
	}
	if msgs[0].topic != "museum/events/message_finished" || msgs[0].retained {
		t.Errorf("event message = %s retained=%v", msgs[0].topic, msgs[0].retained)
	}
	var env struct {
		Kind  string         `json:"kind"`
		Event map[string]any `json:"event"`
	}
	if err := json.Unmarshal(msgs[0].payload, &env); err != nil {
		t.Fatalf("invalid event payload: %v", err)
	}
	if env.Kind != "message_finished" || env.Event["message_id"] != "m1" || env.Event["verified"] != true {
		t.Errorf("event payload = %s", msgs[0].payload)
	}

	if msgs[1].topic != "museum/status" || !msgs[1].retained {
		t.Errorf("status message = %s retained=%v", msgs[1].topic, msgs[1].retained)
	}
	var snap museum.Snapshot
	if err := json.Unmarshal(msgs[1].payload, &snap); err != nil {
		t.Fatalf("invalid status payload: %v", err)
	}
	if snap.RunID != "run-1" || snap.State != enigma.StateRunning {
		t.Errorf("status = %+v", snap)
	}

	if published, failed := p.Stats(); published != 2 || failed != 0 {
		t.Errorf("Stats = %d, %d", published, failed)
	}
}

func TestPublish_NoisyEventsSkipStatus(t *testing.T) {
	b := &fakeBroker{}
	p := newTestPublisher(b, staticSource{})

	p.Publish(events.RetryAttempt{Base: events.Now(), Char: "A", Attempt: 2})
	p.Publish(events.LogLine{Base: events.Now(), Message: "hello"})

	for _, m := range b.sent() {
		if m.topic == "museum/status" {
			t.Errorf("unexpected status publish")
		}
	}
}

func TestPublish_WithoutSource(t *testing.T) {
	b := &fakeBroker{}
	p := newTestPublisher(b, nil)
	p.Publish(events.StateChanged{Base: events.Now(), To: enigma.StatePaused})
	if n := len(b.sent()); n != 1 {
		t.Errorf("published %d messages, want 1", n)
	}
}

func TestPublish_FailureCounted(t *testing.T) {
	b := &fakeBroker{publishErr: errors.New("not connected")}
	p := newTestPublisher(b, nil)
	p.Publish(events.ForeignInput{Base: events.Now(), Input: "A"})
	if published, failed := p.Stats(); published != 0 || failed != 1 {
		t.Errorf("Stats = %d, %d, want 0, 1", published, failed)
	}
}

func TestConnect(t *testing.T) {
	p := newTestPublisher(&fakeBroker{}, nil)
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	p = newTestPublisher(&fakeBroker{connectErr: errors.New("refused")}, nil)
	if err := p.Connect(context.Background()); err == nil {
		t.Error("expected connect error")
	}
}

func TestDisconnect_MarksOffline(t *testing.T) {
	b := &fakeBroker{connected: true}
	p := newTestPublisher(b, nil)
	p.Disconnect()

	msgs := b.sent()
	if len(msgs) != 1 || msgs[0].topic != "museum/online" || string(msgs[0].payload) != "false" || !msgs[0].retained {
		t.Errorf("disconnect messages = %+v", msgs)
	}
	if b.IsConnected() {
		t.Error("broker still connected")
	}
}

func TestRun(t *testing.T) {
	b := &fakeBroker{}
	p := newTestPublisher(b, nil)
	bus := events.NewBus()
	ch, cancelSub := bus.Subscribe(8)

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(context.Background(), ch)
	}()

	bus.Publish(events.PositionChanged{Base: events.Now(), Position: "20 6 11"})
	bus.Publish(events.CharacterDropped{Base: events.Now(), Char: "Q"})
	cancelSub()
	<-done

	msgs := b.sent()
	if len(msgs) != 2 {
		t.Fatalf("published %d messages, want 2", len(msgs))
	}
	if msgs[1].topic != "museum/events/character_dropped" {
		t.Errorf("second topic = %q", msgs[1].topic)
	}
}
