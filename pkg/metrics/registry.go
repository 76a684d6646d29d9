// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exports exchange and demonstration counters to prometheus
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Thermoquad/enigmatouch/pkg/enigma"
	"github.com/Thermoquad/enigmatouch/pkg/events"
	"github.com/Thermoquad/enigmatouch/pkg/exchange"
)

const namespace = "enigmatouch"

// Registry holds all prometheus metrics
type Registry struct {
	reg *prometheus.Registry

	charsExchanged prometheus.Counter
	retries        prometheus.Counter
	dropped        prometheus.Counter
	caseMismatches prometheus.Counter
	foreignInputs  prometheus.Counter
	verifications  *prometheus.CounterVec
	reconnects     prometheus.Counter
	configErrors   prometheus.Counter
	state          prometheus.Gauge
	charLatency    prometheus.Histogram
}

// NewRegistry creates a registry with its own prometheus.Registry so
// several instances can coexist
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Registry{
		reg: reg,
		charsExchanged: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "characters_exchanged_total",
			Help:      "Total number of characters accepted from the device",
		}),
		retries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "character_retries_total",
			Help:      "Total number of character retries",
		}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "characters_dropped_total",
			Help:      "Total number of characters dropped after every attempt failed",
		}),
		caseMismatches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "case_mismatches_total",
			Help:      "Total number of sends interrupted by the device being operated by hand",
		}),
		foreignInputs: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "foreign_inputs_total",
			Help:      "Total number of keystrokes typed on the device between messages",
		}),
		verifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Demonstration messages by verification result",
		}, []string{"result"}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Total number of successful reconnects",
		}),
		configErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_errors_total",
			Help:      "Total number of rejected configuration batches",
		}),
		state: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_state",
			Help:      "Demonstration state (0 stopped, 1 running, 2 paused, 3 disconnected)",
		}),
		charLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "character_latency_seconds",
			Help:      "Time from sending a character to accepting its answer",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
		}),
	}
}

// Gatherer returns the underlying registry
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler serves the metrics in the prometheus text format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Observe updates the metrics for one event
func (r *Registry) Observe(ev events.Event) {
	switch e := ev.(type) {
	case events.CharacterExchanged:
		r.charsExchanged.Inc()
		if e.Latency > 0 {
			r.charLatency.Observe(e.Latency.Seconds())
		}
	case events.RetryAttempt:
		r.retries.Inc()
	case events.CharacterDropped:
		r.dropped.Inc()
	case events.ModeChanged:
		if e.To == enigma.ModeInteractive && e.From != enigma.ModeInteractive && e.Reason == exchange.ReasonOperatedByHand {
			r.caseMismatches.Inc()
		}
	case events.ForeignInput:
		r.foreignInputs.Inc()
	case events.MessageFinished:
		if e.Verified {
			r.verifications.WithLabelValues("pass").Inc()
		} else {
			r.verifications.WithLabelValues("fail").Inc()
		}
	case events.StateChanged:
		r.state.Set(float64(e.To))
		if e.From == enigma.StateDisconnected && e.To == enigma.StateRunning {
			r.reconnects.Inc()
		}
	case events.ConfigFailed:
		r.configErrors.Inc()
	}
}

// Run observes events from ch until ctx ends or ch closes
func (r *Registry) Run(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			r.Observe(ev)
		}
	}
}
