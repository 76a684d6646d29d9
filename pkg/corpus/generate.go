// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package corpus

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/enigmatouch/pkg/client"
	"github.com/Thermoquad/enigmatouch/pkg/enigma"
	"github.com/Thermoquad/enigmatouch/pkg/exchange"
	"github.com/Thermoquad/enigmatouch/pkg/transport"
)

// Plan describes an existing output file before generation starts
type Plan struct {
	Existing        []Entry
	Previous        Entry // settings of the first existing entry
	SettingsChanged bool
}

// Resumable reports whether generation can continue an existing file
func (p Plan) Resumable() bool {
	return len(p.Existing) > 0
}

// Inspect reads an existing output file. A missing or unreadable file gives
// an empty plan. current holds the settings the run would use.
func Inspect(path string, current Entry) Plan {
	entries, err := Load(path)
	if err != nil || len(entries) == 0 {
		return Plan{}
	}
	p := Plan{Existing: entries, Previous: entries[0]}
	p.SettingsChanged = !entries[0].SameSettings(current)
	return p
}

// Progress reports one generated message
type Progress struct {
	Index   int
	Total   int
	Entry   Entry
	Model   string // name of the model used, if any
	Skipped bool   // the message could not be encoded completely
}

// Generator encodes a message list on the device and saves every result
// immediately so an interrupted run can resume.
type Generator struct {
	Engine    *exchange.Engine
	Kiosk     client.KioskSettings
	GroupSize int
	Config    enigma.DeviceConfig // used when Models is empty
	Models    []Model
	Pick      func(n int) int
	Logger    zerolog.Logger
	Progress  func(Progress)
}

// Run generates entries for messages[len(existing):] and writes the corpus
// to path after each one. It returns every entry written.
func (g *Generator) Run(ctx context.Context, messages []string, path string, existing []Entry) ([]Entry, error) {
	c := g.Engine.Client()
	tr := c.Transport()
	pick := g.Pick
	if pick == nil {
		pick = rand.IntN
	}
	group := g.GroupSize
	if group <= 0 {
		group = enigma.DefaultGroupSize
	}

	entries := append([]Entry(nil), existing...)
	if len(entries) == 0 {
		if err := Save(path, entries); err != nil {
			return nil, err
		}
	}

	if err := c.ApplyKioskSettings(g.Kiosk, group); err != nil {
		return entries, fmt.Errorf("kiosk settings: %w", err)
	}

	for i := len(entries); i < len(messages); i++ {
		if err := ctx.Err(); err != nil {
			return entries, err
		}

		cfg := g.Config
		modelName := ""
		if len(g.Models) > 0 {
			m := g.Models[pick(len(g.Models))]
			cfg = m.DeviceConfig()
			modelName = m.Name
		}

		c.Wake()
		if err := c.ApplyCipherConfig(cfg); err != nil {
			return entries, err
		}
		time.Sleep(tr.Timing().Settle)

		res, err := g.Engine.Send(ctx, messages[i], exchange.SendOptions{Generating: true})
		if errors.Is(err, exchange.ErrEmptyMessage) {
			g.Logger.Warn().Int("index", i).Msg("Message has no letters, skipping")
			entry := FromConfig(cfg, group)
			entry.Message = messages[i]
			g.report(Progress{Index: i, Total: len(messages), Entry: entry, Model: modelName, Skipped: true})
			continue
		}
		if err != nil {
			return entries, err
		}
		if res.TransportLost {
			return entries, fmt.Errorf("message %d: %w", i+1, tr.Err())
		}
		if res.Cancelled {
			return entries, context.Canceled
		}
		if res.Interrupted {
			return entries, fmt.Errorf("message %d: device operated by hand", i+1)
		}

		entry := FromConfig(cfg, group)
		entry.Message = messages[i]
		if !res.Complete() {
			g.Logger.Warn().Int("index", i).Int("dropped", res.Dropped).Msg("Incomplete encoding, message skipped")
			g.report(Progress{Index: i, Total: len(messages), Entry: entry, Model: modelName, Skipped: true})
			continue
		}
		entry.Coded = res.Output
		entries = append(entries, entry)
		if err := Save(path, entries); err != nil {
			return entries, err
		}
		g.Logger.Info().Int("index", i+1).Int("total", len(messages)).Str("coded", entry.Coded).Msg("Message generated")
		g.report(Progress{Index: i, Total: len(messages), Entry: entry, Model: modelName})
	}
	return entries, nil
}

func (g *Generator) report(p Progress) {
	if g.Progress != nil {
		g.Progress(p)
	}
}

// Restart empties the output file
func Restart(path string) error {
	return Save(path, nil)
}

//////////////////////////////////////////////////////////////
// Model validation
//////////////////////////////////////////////////////////////

// ModelResult is the outcome of applying one model on the device
type ModelResult struct {
	Index  int
	Name   string
	Fields []string // rejected fields, empty when valid
}

// Valid reports whether the device accepted every setting
func (r ModelResult) Valid() bool {
	return len(r.Fields) == 0
}

// ValidateModels applies every model to the device and reports which
// settings were rejected
func ValidateModels(c *client.Client, models []Model) ([]ModelResult, error) {
	tr := c.Transport()
	results := make([]ModelResult, 0, len(models))
	for i, m := range models {
		name := m.Name
		if name == "" {
			name = fmt.Sprintf("Configuration %d", i+1)
		}
		r := ModelResult{Index: i + 1, Name: name}
		if err := c.ApplyCipherConfig(m.DeviceConfig()); err != nil {
			var cfgErr *client.ConfigError
			if !errors.As(err, &cfgErr) {
				return results, err
			}
			r.Fields = cfgErr.Fields
		}
		results = append(results, r)
		if !tr.IsConnected() {
			return results, transport.ErrNotConnected
		}
	}
	return results, nil
}
