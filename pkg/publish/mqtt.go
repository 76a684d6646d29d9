// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package publish mirrors controller events and the demonstration snapshot
// to an MQTT broker.
package publish

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/enigmatouch/pkg/events"
	"github.com/Thermoquad/enigmatouch/pkg/museum"
)

// DefaultTopicPrefix is used when Config.TopicPrefix is empty
const DefaultTopicPrefix = "enigmatouch"

// Config contains MQTT publisher configuration
type Config struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	QoS            byte
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.ClientID == "" {
		c.ClientID = "enigmatouch-" + uuid.NewString()[:8]
	}
	c.TopicPrefix = strings.TrimSuffix(c.TopicPrefix, "/")
	if c.TopicPrefix == "" {
		c.TopicPrefix = DefaultTopicPrefix
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = 30 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
}

// broker is the part of paho.Client the publisher needs
type broker interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// envelope is the JSON body of an event message
type envelope struct {
	Kind  events.Kind  `json:"kind"`
	Event events.Event `json:"event"`
}

// Publisher forwards events to a broker
type Publisher struct {
	config Config
	client broker
	source museum.SnapshotSource
	logger zerolog.Logger

	published atomic.Uint64
	failed    atomic.Uint64
}

// New creates a publisher. source may be nil, in which case no status topic
// is maintained.
func New(config Config, source museum.SnapshotSource, logger zerolog.Logger) (*Publisher, error) {
	if config.BrokerURL == "" {
		return nil, fmt.Errorf("mqtt broker URL is required")
	}
	config.applyDefaults()

	p := &Publisher{
		config: config,
		source: source,
		logger: logger.With().Str("component", "mqtt").Logger(),
	}

	opts := paho.NewClientOptions().
		AddBroker(config.BrokerURL).
		SetClientID(config.ClientID).
		SetKeepAlive(config.KeepAlive).
		SetConnectTimeout(config.ConnectTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second).
		SetConnectionLostHandler(p.onConnectionLost).
		SetOnConnectHandler(p.onConnect).
		SetWill(config.TopicPrefix+"/online", "false", config.QoS, true)

	if config.Username != "" {
		opts.SetUsername(config.Username)
	}
	if config.Password != "" {
		opts.SetPassword(config.Password)
	}

	p.client = paho.NewClient(opts)
	return p, nil
}

// Connect establishes the broker connection
func (p *Publisher) Connect(ctx context.Context) error {
	p.logger.Info().
		Str("broker", p.config.BrokerURL).
		Str("client_id", p.config.ClientID).
		Msg("Connecting to MQTT broker")

	token := p.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.config.ConnectTimeout):
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	return nil
}

// Disconnect marks the controller offline and closes the connection
func (p *Publisher) Disconnect() {
	if p.client.IsConnected() {
		p.publish(p.config.TopicPrefix+"/online", true, []byte("false"))
	}
	p.client.Disconnect(250)
	p.logger.Info().Msg("Disconnected from MQTT broker")
}

// Stats returns the number of published and failed messages
func (p *Publisher) Stats() (published, failed uint64) {
	return p.published.Load(), p.failed.Load()
}

// EventTopic is the topic an event kind is published on
func (p *Publisher) EventTopic(kind events.Kind) string {
	return p.config.TopicPrefix + "/events/" + string(kind)
}

// StatusTopic is the retained snapshot topic
func (p *Publisher) StatusTopic() string {
	return p.config.TopicPrefix + "/status"
}

// Run publishes every event from ch until ctx ends or ch closes. The status
// topic is refreshed after events that change the snapshot.
func (p *Publisher) Run(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			p.Publish(ev)
		}
	}
}

// Publish sends one event and, when it affects the snapshot, the status
func (p *Publisher) Publish(ev events.Event) {
	data, err := json.Marshal(envelope{Kind: ev.Kind(), Event: ev})
	if err != nil {
		p.logger.Error().Err(err).Str("kind", string(ev.Kind())).Msg("Failed to encode event")
		return
	}
	p.publish(p.EventTopic(ev.Kind()), false, data)

	if p.source != nil && updatesStatus(ev.Kind()) {
		p.PublishStatus()
	}
}

// PublishStatus sends the current snapshot as a retained message
func (p *Publisher) PublishStatus() {
	if p.source == nil {
		return
	}
	data, err := json.Marshal(p.source.Snapshot())
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to encode snapshot")
		return
	}
	p.publish(p.StatusTopic(), true, data)
}

func (p *Publisher) publish(topic string, retained bool, payload []byte) {
	token := p.client.Publish(topic, p.config.QoS, retained, payload)
	if !token.WaitTimeout(p.config.PublishTimeout) {
		p.failed.Add(1)
		p.logger.Warn().Str("topic", topic).Msg("MQTT publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		p.failed.Add(1)
		p.logger.Warn().Err(err).Str("topic", topic).Msg("MQTT publish failed")
		return
	}
	p.published.Add(1)
}

// updatesStatus reports whether an event kind changes what the status topic shows
func updatesStatus(kind events.Kind) bool {
	switch kind {
	case events.KindRetry, events.KindLog:
		return false
	}
	return true
}

func (p *Publisher) onConnect(client paho.Client) {
	p.logger.Info().Msg("Connected to MQTT broker")
	p.publish(p.config.TopicPrefix+"/online", true, []byte("true"))
}

func (p *Publisher) onConnectionLost(client paho.Client, err error) {
	p.logger.Warn().Err(err).Msg("Connection lost to MQTT broker")
}
