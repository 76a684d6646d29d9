// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package settings persists the controller configuration file.
package settings

import (
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/enigmatouch/pkg/client"
	"github.com/Thermoquad/enigmatouch/pkg/enigma"
)

// DefaultFile is the settings file name used when none is given
const DefaultFile = "enigma-museum-config.json"

// Settings is the persisted controller configuration. Key names match the
// files written by earlier releases.
type Settings struct {
	Config           enigma.DeviceConfig `json:"config" mapstructure:"config"`
	FunctionMode     string              `json:"function_mode" mapstructure:"function_mode"`
	MuseumDelay      int                 `json:"museum_delay" mapstructure:"museum_delay"` // seconds
	AlwaysSendConfig bool                `json:"always_send_config" mapstructure:"always_send_config"`
	WordGroupSize    int                 `json:"word_group_size" mapstructure:"word_group_size"`
	CharacterDelayMS int                 `json:"character_delay_ms" mapstructure:"character_delay_ms"`
	WebServerEnabled bool                `json:"web_server_enabled" mapstructure:"web_server_enabled"`
	WebServerPort    int                 `json:"web_server_port" mapstructure:"web_server_port"`
	EnableSlides     bool                `json:"enable_slides" mapstructure:"enable_slides"`
	UseModelsJSON    bool                `json:"use_models_json" mapstructure:"use_models_json"`
	RawDebugEnabled  bool                `json:"raw_debug_enabled" mapstructure:"raw_debug_enabled"`
	Device           string              `json:"device" mapstructure:"device"`

	client.KioskSettings `mapstructure:",squash"`
}

// Defaults returns the factory configuration
func Defaults() Settings {
	return Settings{
		Config:           enigma.DefaultDeviceConfig(),
		FunctionMode:     enigma.ModeInteractive.String(),
		MuseumDelay:      60,
		WordGroupSize:    enigma.DefaultGroupSize,
		WebServerPort:    8080,
		Device:           enigma.DefaultDevice,
		KioskSettings: client.KioskSettings{
			LockModel:       true,
			LockRotor:       true,
			LockRing:        true,
			DisablePowerOff: true,
			Brightness:      3,
			TimeoutBattery:  15,
		},
	}
}

// Mode returns the persisted function mode
func (s Settings) Mode() enigma.FunctionMode {
	return enigma.ParseFunctionMode(s.FunctionMode)
}

// Delay returns the pause between demonstration messages
func (s Settings) Delay() time.Duration {
	return time.Duration(s.MuseumDelay) * time.Second
}

// CharacterDelay returns the configured gap between characters
func (s Settings) CharacterDelay() time.Duration {
	return time.Duration(s.CharacterDelayMS) * time.Millisecond
}

// Validate reports every out of range value at once
func (s Settings) Validate() error {
	var bad []string
	check := func(name string, v, lo, hi int) {
		if v < lo || v > hi {
			bad = append(bad, fmt.Sprintf("%s=%d (want %d-%d)", name, v, lo, hi))
		}
	}
	check("museum_delay", s.MuseumDelay, 0, 86400)
	check("word_group_size", s.WordGroupSize, 4, 5)
	check("character_delay_ms", s.CharacterDelayMS, 0, 10000)
	check("web_server_port", s.WebServerPort, 1, 65535)
	check("brightness", s.Brightness, enigma.MinBrightness, enigma.MaxBrightness)
	check("volume", s.Volume, enigma.MinVolume, enigma.MaxVolume)
	check("screen_saver", s.ScreenSaver, enigma.MinTimeout, enigma.MaxTimeout)
	check("timeout_battery", s.TimeoutBattery, enigma.MinTimeout, enigma.MaxTimeout)
	check("timeout_plugged", s.TimeoutPlugged, enigma.MinTimeout, enigma.MaxTimeout)
	check("timeout_setup_modes", s.TimeoutSetupModes, enigma.MinTimeout, enigma.MaxTimeout)
	if len(bad) > 0 {
		return fmt.Errorf("invalid settings: %s", strings.Join(bad, ", "))
	}
	return nil
}

//////////////////////////////////////////////////////////////
// Merge operations
//////////////////////////////////////////////////////////////

// Reloads start from the file and keep one value from memory.

// MergePreservingDevice keeps a device chosen on the command line across a reload
func MergePreservingDevice(onDisk, inMemory Settings) Settings {
	merged := onDisk
	merged.Device = inMemory.Device
	return merged
}

// MergePreservingFunctionMode keeps the current function mode across a reload
func MergePreservingFunctionMode(onDisk, inMemory Settings) Settings {
	merged := onDisk
	merged.FunctionMode = inMemory.FunctionMode
	return merged
}

// Saves start from memory and keep one value from the file.

// MergePreservingRingPosition keeps the saved start position. Positions move
// with every character and are only written on an explicit change.
func MergePreservingRingPosition(onDisk, inMemory Settings) Settings {
	merged := inMemory
	merged.Config.RingPosition = onDisk.Config.RingPosition
	return merged
}

// MergePreservingCipherConfig keeps all five saved cipher settings. The
// demonstration loop saves its function mode this way without writing the
// per-message settings.
func MergePreservingCipherConfig(onDisk, inMemory Settings) Settings {
	merged := inMemory
	merged.Config = onDisk.Config
	return merged
}

// MergePreservingAlwaysSendConfig keeps the saved always_send_config flag
func MergePreservingAlwaysSendConfig(onDisk, inMemory Settings) Settings {
	merged := inMemory
	merged.AlwaysSendConfig = onDisk.AlwaysSendConfig
	return merged
}
