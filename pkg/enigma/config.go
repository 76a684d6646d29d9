// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package enigma

import (
	"fmt"
	"strings"
)

// DeviceConfig mirrors the cipher settings last acknowledged by the device
type DeviceConfig struct {
	Model        string `json:"mode" mapstructure:"mode" yaml:"mode"`
	RotorOrder   string `json:"rotor_set" mapstructure:"rotor_set" yaml:"rotor_set"`
	RingSettings string `json:"ring_settings" mapstructure:"ring_settings" yaml:"ring_settings"`
	RingPosition string `json:"ring_position" mapstructure:"ring_position" yaml:"ring_position"`
	Plugboard    string `json:"pegboard" mapstructure:"pegboard" yaml:"pegboard"`
}

// DefaultDeviceConfig returns the factory cipher settings
func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		Model:        "I",
		RotorOrder:   "A III IV I",
		RingSettings: "01 01 01",
		RingPosition: "20 6 10",
		Plugboard:    "VF PQ",
	}
}

// RotorCount returns the number of rotors for the configured model
func (c DeviceConfig) RotorCount() int {
	return RotorCount(c.Model)
}

func (c DeviceConfig) String() string {
	plug := c.Plugboard
	if plug == "" {
		plug = "clear"
	}
	return fmt.Sprintf("%s | %s | %s | %s | %s", c.Model, c.RotorOrder, c.RingSettings, c.RingPosition, plug)
}

// RotorCount returns 4 for the M4, 3 for every other model
func RotorCount(model string) int {
	if strings.EqualFold(strings.TrimSpace(model), "M4") {
		return 4
	}
	return 3
}

// Position is the rotational state of each rotor, values 1-26
type Position []int

// Equal reports whether two positions hold the same values
func (p Position) Equal(o Position) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// String renders the position in two-digit numeric style
func (p Position) String() string {
	parts := make([]string, len(p))
	for i, v := range p {
		parts[i] = fmt.Sprintf("%02d", v)
	}
	return strings.Join(parts, " ")
}
