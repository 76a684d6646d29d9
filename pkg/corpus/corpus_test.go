// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package corpus

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/enigmatouch/pkg/client"
	"github.com/Thermoquad/enigmatouch/pkg/enigma"
	"github.com/Thermoquad/enigmatouch/pkg/exchange"
	"github.com/Thermoquad/enigmatouch/pkg/simulator"
	"github.com/Thermoquad/enigmatouch/pkg/transport"
)

// ============================================================
// Test Helpers
// ============================================================

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func newEngine(t *testing.T) (*exchange.Engine, *simulator.Device) {
	t.Helper()
	dev := simulator.New(enigma.DefaultDeviceConfig())
	tr := transport.New(dev.Dialer(), transport.FastTiming(), zerolog.Nop())
	if err := tr.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	c := client.New(tr, enigma.DefaultDeviceConfig(), nil, zerolog.Nop())
	return exchange.New(c, nil, exchange.FastOptions(), zerolog.Nop()), dev
}

// ============================================================
// Load Tests
// ============================================================

func TestLoad_JSON(t *testing.T) {
	path := writeFile(t, "english-encoded.json", `[
  {"MSG": "HELLO WORLD", "MODEL": "I", "ROTOR": "A III IV I", "RINGSET": "01 01 01",
   "RINGPOS": "20 6 10", "PLUG": "VF PQ", "GROUP": 5, "CODED": "MFNCZBBFZM"},
  {"MSG": "NO CODE"}
]`)
	entries, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len = %d, want 2", len(entries))
	}
	if entries[0].Coded != "MFNCZBBFZM" || entries[0].Group != 5 {
		t.Errorf("entry = %+v", entries[0])
	}

	valid := Valid(entries)
	if len(valid) != 1 {
		t.Errorf("Valid kept %d entries, want 1", len(valid))
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "corpus.yaml", `
- MSG: ANGRIFF
  MODEL: M3
  ROTOR: B I II III
  RINGSET: 01 01 01
  RINGPOS: A A A
  PLUG: ""
  GROUP: 4
  CODED: QWERTZU
`)
	entries, err := LoadValid(path)
	if err != nil {
		t.Fatalf("LoadValid failed: %v", err)
	}
	cfg := entries[0].DeviceConfig()
	if cfg.Model != "M3" || cfg.RingPosition != "A A A" || cfg.Plugboard != "" {
		t.Errorf("DeviceConfig = %+v", cfg)
	}
	if entries[0].GroupSize() != 4 {
		t.Errorf("GroupSize = %d, want 4", entries[0].GroupSize())
	}
}

func TestLoadValid_Empty(t *testing.T) {
	path := writeFile(t, "empty.json", `[{"MSG": "X"}]`)
	if _, err := LoadValid(path); err == nil {
		t.Error("expected ErrNoEntries")
	}
}

func TestEntry_DefaultsAndExchange(t *testing.T) {
	e := Entry{Message: "HELLO", Coded: "XQPLM"}
	if e.DeviceConfig() != (enigma.DeviceConfig{Model: "I", RotorOrder: "A III IV I", RingSettings: "01 01 01", RingPosition: "20 6 10"}) {
		t.Errorf("DeviceConfig = %+v", e.DeviceConfig())
	}
	if in, want := e.Exchange(enigma.ModeDecode); in != "XQPLM" || want != "HELLO" {
		t.Errorf("decode exchange = %q %q", in, want)
	}
	if in, want := e.Exchange(enigma.ModeEncode); in != "HELLO" || want != "XQPLM" {
		t.Errorf("encode exchange = %q %q", in, want)
	}
}

func TestSave_RoundTripYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yml")
	in := []Entry{{Message: "A", Coded: "B", Model: "I", Group: 5}}
	if err := Save(path, in); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	out, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(out) != 1 || out[0] != in[0] {
		t.Errorf("Load = %+v, want %+v", out, in)
	}
}

func TestParseLanguage(t *testing.T) {
	tests := []struct {
		in      string
		want    Language
		wantErr bool
	}{
		{"en", English, false},
		{"EN", English, false},
		{"german", German, false},
		{"fr", "", true},
	}
	for _, tt := range tests {
		got, err := ParseLanguage(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseLanguage(%q) = %q, %v", tt.in, got, err)
		}
	}
	if German.CorpusFile() != "german-encoded.json" || English.MessageFile() != "english.msg" {
		t.Error("unexpected file names")
	}
}

// ============================================================
// Generation Tests
// ============================================================

func TestGenerator_WritesEveryMessage(t *testing.T) {
	engine, _ := newEngine(t)
	out := filepath.Join(t.TempDir(), "english-encoded.json")

	g := &Generator{
		Engine:    engine,
		Kiosk:     client.KioskSettings{Brightness: 3, TimeoutBattery: 15},
		GroupSize: 5,
		Config:    enigma.DefaultDeviceConfig(),
		Logger:    zerolog.Nop(),
	}
	messages := []string{"ABC", "HELLO"}
	entries, err := g.Run(context.Background(), messages, out, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len = %d, want 2", len(entries))
	}
	// the software device answers each letter with its ROT13 partner
	if entries[0].Coded != "NOP" || entries[1].Coded != "URYYB" {
		t.Errorf("coded = %q %q", entries[0].Coded, entries[1].Coded)
	}
	if entries[0].RingPos != "20 6 10" {
		t.Errorf("RingPos = %q, want start position", entries[0].RingPos)
	}

	saved, err := Load(out)
	if err != nil || len(saved) != 2 {
		t.Fatalf("saved corpus = %v, %v", saved, err)
	}
}

func TestGenerator_Resumes(t *testing.T) {
	engine, dev := newEngine(t)
	out := filepath.Join(t.TempDir(), "german-encoded.json")
	existing := []Entry{FromConfig(enigma.DefaultDeviceConfig(), 5)}
	existing[0].Message, existing[0].Coded = "EINS", "RVAF"
	if err := Save(out, existing); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	plan := Inspect(out, FromConfig(enigma.DefaultDeviceConfig(), 5))
	if !plan.Resumable() || plan.SettingsChanged {
		t.Fatalf("plan = %+v", plan)
	}

	g := &Generator{Engine: engine, Kiosk: client.KioskSettings{Brightness: 3}, Config: enigma.DefaultDeviceConfig(), Logger: zerolog.Nop()}
	entries, err := g.Run(context.Background(), []string{"EINS", "ZWEI"}, out, plan.Existing)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(entries) != 2 || entries[1].Message != "ZWEI" {
		t.Errorf("entries = %+v", entries)
	}
	if dev.Keystrokes() != 4 {
		t.Errorf("keystrokes = %d, want 4 (first message reused)", dev.Keystrokes())
	}
}

func TestInspect_SettingsChanged(t *testing.T) {
	out := filepath.Join(t.TempDir(), "english-encoded.json")
	old := FromConfig(enigma.DefaultDeviceConfig(), 5)
	old.Message, old.Coded = "A", "N"
	if err := Save(out, []Entry{old}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	cfg := enigma.DefaultDeviceConfig()
	cfg.Plugboard = ""
	plan := Inspect(out, FromConfig(cfg, 5))
	if !plan.SettingsChanged {
		t.Error("expected SettingsChanged")
	}
}

func TestGenerator_UsesModels(t *testing.T) {
	engine, dev := newEngine(t)
	out := filepath.Join(t.TempDir(), "english-encoded.json")
	models := []Model{
		{Name: "Army", Model: "I", Rotor: "B II IV V", RingSet: "02 02 02", RingPos: "A B C", Plug: "AZ"},
	}
	g := &Generator{Engine: engine, Config: enigma.DefaultDeviceConfig(), Models: models, Kiosk: client.KioskSettings{Brightness: 3}, Logger: zerolog.Nop()}

	var names []string
	g.Progress = func(p Progress) { names = append(names, p.Model) }

	entries, err := g.Run(context.Background(), []string{"XY"}, out, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if entries[0].Rotor != "B II IV V" || entries[0].Plug != "AZ" {
		t.Errorf("entry settings = %+v", entries[0])
	}
	if dev.Config().RotorOrder != "B II IV V" {
		t.Errorf("device rotors = %q", dev.Config().RotorOrder)
	}
	if strings.Join(names, ",") != "Army" {
		t.Errorf("progress models = %v", names)
	}
}

func TestValidateModels(t *testing.T) {
	engine, _ := newEngine(t)
	models := []Model{
		{Name: "good", Model: "I", Rotor: "A III IV I", RingSet: "01 01 01", RingPos: "01 01 01"},
		{Model: "Z9", Rotor: "A III IV I", RingSet: "01 01 01", RingPos: "01 01 01", Plug: "AB"},
	}

	results, err := ValidateModels(engine.Client(), models)
	if err != nil {
		t.Fatalf("ValidateModels failed: %v", err)
	}
	if !results[0].Valid() {
		t.Errorf("first model invalid: %v", results[0].Fields)
	}
	if results[1].Valid() || results[1].Name != "Configuration 2" {
		t.Errorf("second result = %+v", results[1])
	}
	if results[1].Fields[0] != client.FieldModel {
		t.Errorf("Fields = %v, want model only", results[1].Fields)
	}
}
