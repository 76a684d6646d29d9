// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package corpus loads and generates the precomputed messages replayed by the
// demonstration loop.
package corpus

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/enigmatouch/pkg/enigma"
	"github.com/Thermoquad/enigmatouch/pkg/settings"
)

// ErrNoEntries is returned when a corpus holds no usable entry
var ErrNoEntries = errors.New("no valid messages in corpus")

// Entry is one message with the exact settings used to encode it
type Entry struct {
	Message string `json:"MSG" yaml:"MSG"`
	Model   string `json:"MODEL" yaml:"MODEL"`
	Rotor   string `json:"ROTOR" yaml:"ROTOR"`
	RingSet string `json:"RINGSET" yaml:"RINGSET"`
	RingPos string `json:"RINGPOS" yaml:"RINGPOS"`
	Plug    string `json:"PLUG" yaml:"PLUG"`
	Group   int    `json:"GROUP" yaml:"GROUP"`
	Coded   string `json:"CODED" yaml:"CODED"`
}

// DeviceConfig returns the cipher settings of the entry. Missing values fall
// back to the factory settings.
func (e Entry) DeviceConfig() enigma.DeviceConfig {
	d := enigma.DefaultDeviceConfig()
	cfg := enigma.DeviceConfig{
		Model:        or(e.Model, d.Model),
		RotorOrder:   or(e.Rotor, d.RotorOrder),
		RingSettings: or(e.RingSet, d.RingSettings),
		RingPosition: or(e.RingPos, d.RingPosition),
		Plugboard:    e.Plug,
	}
	return cfg
}

// GroupSize returns the entry's group size, or the default
func (e Entry) GroupSize() int {
	if e.Group <= 0 {
		return enigma.DefaultGroupSize
	}
	return e.Group
}

// Exchange returns the text to send and the result expected for mode
func (e Entry) Exchange(mode enigma.FunctionMode) (input, expected string) {
	if mode == enigma.ModeDecode {
		return e.Coded, e.Message
	}
	return e.Message, e.Coded
}

// SameSettings reports whether both entries were produced with the same settings
func (e Entry) SameSettings(o Entry) bool {
	return e.Model == o.Model && e.Rotor == o.Rotor && e.RingSet == o.RingSet &&
		e.RingPos == o.RingPos && e.Plug == o.Plug && e.Group == o.Group
}

// FromConfig builds an entry skeleton from cipher settings
func FromConfig(cfg enigma.DeviceConfig, group int) Entry {
	return Entry{
		Model:   cfg.Model,
		Rotor:   cfg.RotorOrder,
		RingSet: cfg.RingSettings,
		RingPos: cfg.RingPosition,
		Plug:    cfg.Plugboard,
		Group:   group,
	}
}

func or(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

//////////////////////////////////////////////////////////////
// Files
//////////////////////////////////////////////////////////////

// Language selects a message set
type Language string

const (
	English Language = "en"
	German  Language = "de"
)

// ParseLanguage accepts en/english and de/german in any case
func ParseLanguage(s string) (Language, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "en", "english":
		return English, nil
	case "de", "german", "deutsch":
		return German, nil
	}
	return "", fmt.Errorf("unknown language %q (want en or de)", s)
}

// MessageFile is the plaintext message list of the language
func (l Language) MessageFile() string {
	if l == German {
		return "german.msg"
	}
	return "english.msg"
}

// CorpusFile is the generated corpus of the language
func (l Language) CorpusFile() string {
	if l == German {
		return "german-encoded.json"
	}
	return "english-encoded.json"
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func decodeFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if isYAML(path) {
		err = yaml.Unmarshal(data, v)
	} else {
		err = json.Unmarshal(data, v)
	}
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// Load reads a JSON or YAML corpus, chosen by file extension
func Load(path string) ([]Entry, error) {
	var entries []Entry
	if err := decodeFile(path, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Save writes a corpus as JSON, or YAML for a .yaml/.yml path
func Save(path string, entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	if !isYAML(path) {
		return settings.WriteJSON(path, entries)
	}
	data, err := yaml.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Valid returns the entries that carry both a message and its ciphertext
func Valid(entries []Entry) []Entry {
	var out []Entry
	for _, e := range entries {
		if enigma.FilterMessage(e.Message) != "" && enigma.FilterMessage(e.Coded) != "" {
			out = append(out, e)
		}
	}
	return out
}

// LoadValid loads a corpus and keeps only usable entries
func LoadValid(path string) ([]Entry, error) {
	entries, err := Load(path)
	if err != nil {
		return nil, err
	}
	valid := Valid(entries)
	if len(valid) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoEntries)
	}
	return valid, nil
}

// LoadMessages reads a plaintext message list, a JSON or YAML array of strings
func LoadMessages(path string) ([]string, error) {
	var messages []string
	if err := decodeFile(path, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

//////////////////////////////////////////////////////////////
// Models
//////////////////////////////////////////////////////////////

// Model is a named set of cipher settings used for generation
type Model struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Model       string `json:"MODEL" yaml:"MODEL"`
	Rotor       string `json:"ROTOR" yaml:"ROTOR"`
	RingSet     string `json:"RINGSET" yaml:"RINGSET"`
	RingPos     string `json:"RINGPOS" yaml:"RINGPOS"`
	Plug        string `json:"PLUG" yaml:"PLUG"`
}

// DeviceConfig returns the cipher settings of the model
func (m Model) DeviceConfig() enigma.DeviceConfig {
	return Entry{Model: m.Model, Rotor: m.Rotor, RingSet: m.RingSet, RingPos: m.RingPos, Plug: m.Plug}.DeviceConfig()
}

// LoadModels reads models.json or models.yaml
func LoadModels(path string) ([]Model, error) {
	var models []Model
	if err := decodeFile(path, &models); err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("%s: no models", path)
	}
	return models, nil
}

// FindModels returns the first models file present in dir
func FindModels(dir string) (string, bool) {
	for _, name := range []string{"models.json", "models.yaml", "models.yml"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}
