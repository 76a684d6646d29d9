// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := WithComponent(New("debug", FormatJSON, &buf), "transport")
	logger.Debug().Str("cmd", "?MO").Msg("sent")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if line["component"] != "transport" || line["cmd"] != "?MO" || line["message"] != "sent" {
		t.Errorf("line = %v", line)
	}
	if _, ok := line["time"]; !ok {
		t.Error("missing timestamp")
	}
}

func TestNew_Level(t *testing.T) {
	tests := []struct {
		level string
		debug bool
		info  bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"warn", false, false},
		{"bogus", false, true},
		{"", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(tt.level, FormatJSON, &buf)
			logger.Debug().Msg("d")
			if got := buf.Len() > 0; got != tt.debug {
				t.Errorf("debug logged = %v, want %v", got, tt.debug)
			}
			buf.Reset()
			logger.Info().Msg("i")
			if got := buf.Len() > 0; got != tt.info {
				t.Errorf("info logged = %v, want %v", got, tt.info)
			}
		})
	}
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	logger := New("info", FormatConsole, &buf)
	logger.Warn().Msg("Transport failure")
	out := buf.String()
	if !strings.Contains(out, "Transport failure") || strings.HasPrefix(out, "{") {
		t.Errorf("console output = %q", out)
	}
}
