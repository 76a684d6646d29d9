// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package client implements the Enigma Touch command set on top of a transport.
package client

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/enigmatouch/pkg/enigma"
	"github.com/Thermoquad/enigmatouch/pkg/events"
	"github.com/Thermoquad/enigmatouch/pkg/transport"
)

// Names used in ConfigError for the cipher settings
const (
	FieldModel        = "mode"
	FieldRotorOrder   = "rotor_set"
	FieldRingSettings = "ring_settings"
	FieldRingPosition = "ring_position"
	FieldPlugboard    = "pegboard"
)

// Client drives one device. The DeviceConfig mirror changes only after the
// device acknowledged a setting or reported a new position.
type Client struct {
	tr      *transport.Transport
	logger  zerolog.Logger
	events  events.Publisher
	cfg     enigma.DeviceConfig
	lastErr error
}

// New creates a client. cfg seeds the mirror, usually from persisted settings.
func New(tr *transport.Transport, cfg enigma.DeviceConfig, pub events.Publisher, logger zerolog.Logger) *Client {
	if pub == nil {
		pub = events.Discard
	}
	return &Client{
		tr:     tr,
		logger: logger,
		events: pub,
		cfg:    cfg,
	}
}

// Transport returns the transport owned by this client
func (c *Client) Transport() *transport.Transport {
	return c.tr
}

// Config returns a copy of the mirrored device configuration
func (c *Client) Config() enigma.DeviceConfig {
	return c.cfg
}

// RotorCount returns the rotor count of the mirrored model
func (c *Client) RotorCount() int {
	return c.cfg.RotorCount()
}

// LastError returns why the most recent setter failed, or nil
func (c *Client) LastError() error {
	return c.lastErr
}

// MirrorPosition records a position reported by the device
func (c *Client) MirrorPosition(pos string) {
	if pos == "" || pos == c.cfg.RingPosition {
		return
	}
	c.cfg.RingPosition = pos
	c.events.Publish(events.PositionChanged{Base: events.Now(), Position: pos})
}

//////////////////////////////////////////////////////////////
// Link control
//////////////////////////////////////////////////////////////

// Wake sends a bare line break so the device accepts the next command
func (c *Client) Wake() bool {
	if !c.tr.Write(enigma.WakeSequence) {
		return false
	}
	time.Sleep(c.tr.Timing().WakeDelay)
	return true
}

// ReturnToEncodeMode asks for the model, which leaves any setup screen
func (c *Client) ReturnToEncodeMode() bool {
	_, ok := c.tr.SendCommand(enigma.EncodeModeCommand, time.Second)
	return ok
}

// Resync brings the device back to encode mode after a failed exchange
func (c *Client) Resync() bool {
	timing := c.tr.Timing()
	c.tr.SendCommand(enigma.ResyncCommand, timing.CommandTimeout)
	if !c.tr.IsConnected() {
		return false
	}
	time.Sleep(timing.Settle)
	ok := c.ReturnToEncodeMode()
	time.Sleep(timing.Settle)
	return ok
}

// FactoryReset restores factory settings on the device
func (c *Client) FactoryReset() bool {
	if !c.Wake() {
		c.lastErr = ErrNoResponse
		return false
	}
	if !c.exchange(enigma.CmdFactoryReset, "") {
		return false
	}
	c.cfg = enigma.DefaultDeviceConfig()
	c.logger.Info().Msg("Factory reset complete")
	return true
}

//////////////////////////////////////////////////////////////
// Setters
//////////////////////////////////////////////////////////////

// exchange sends one set command and checks the response for an error banner
func (c *Client) exchange(cmd enigma.Command, value string) bool {
	resp, ok := c.tr.SendCommand(cmd.Set(value), c.tr.Timing().CommandTimeout)
	if !ok {
		if err := c.tr.Err(); err != nil && !c.tr.IsConnected() {
			c.lastErr = fmt.Errorf("!%s: %w", cmd, err)
		} else {
			c.lastErr = fmt.Errorf("!%s: %w", cmd, ErrNoResponse)
		}
		c.logger.Warn().Str("command", string(cmd)).Msg("No response to setting")
		return false
	}
	if found, msg := enigma.HasErrorBanner(string(resp)); found {
		c.lastErr = &DeviceError{Command: cmd, Value: value, Message: msg}
		c.logger.Warn().Str("command", string(cmd)).Str("value", value).Str("error", msg).Msg("Device rejected setting")
		return false
	}
	c.lastErr = nil
	return true
}

// set wakes the device and sends a set command
func (c *Client) set(cmd enigma.Command, value string) bool {
	if !c.Wake() {
		c.lastErr = fmt.Errorf("!%s: %w", cmd, ErrNoResponse)
		return false
	}
	return c.exchange(cmd, value)
}

func (c *Client) setRange(setting string, cmd enigma.Command, v, lo, hi int) bool {
	if v < lo || v > hi {
		c.lastErr = &RangeError{Setting: setting, Value: v, Min: lo, Max: hi}
		return false
	}
	return c.set(cmd, strconv.Itoa(v))
}

// SetModel selects the machine model (I, M3, M4)
func (c *Client) SetModel(model string) bool {
	model = strings.TrimSpace(model)
	if !c.set(enigma.CmdModel, model) {
		return false
	}
	c.cfg.Model = model
	return true
}

// SetRotorOrder selects the reflector and rotors, e.g. "B I II III"
func (c *Client) SetRotorOrder(order string) bool {
	order = strings.TrimSpace(order)
	if !c.set(enigma.CmdRotors, order) {
		return false
	}
	c.cfg.RotorOrder = order
	return true
}

// SetRingSettings sets the ring settings, e.g. "01 01 01"
func (c *Client) SetRingSettings(rings string) bool {
	rings = strings.TrimSpace(rings)
	if !c.set(enigma.CmdRings, rings) {
		return false
	}
	c.cfg.RingSettings = rings
	return true
}

// SetRingPosition sets the rotor start positions
func (c *Client) SetRingPosition(pos string) bool {
	pos = strings.TrimSpace(pos)
	if !c.set(enigma.CmdPosition, pos) {
		return false
	}
	c.MirrorPosition(pos)
	return true
}

// SetPlugboard sets the plugboard pairs. Empty or "clear" removes every pair.
func (c *Client) SetPlugboard(pairs string) bool {
	pairs = strings.TrimSpace(pairs)
	if strings.EqualFold(pairs, "clear") {
		pairs = ""
	}
	if !c.set(enigma.CmdPlugboard, pairs) {
		return false
	}
	c.cfg.Plugboard = pairs
	return true
}

// SetLockModel locks the model selection on the device
func (c *Client) SetLockModel(locked bool) bool {
	return c.set(enigma.CmdLockModel, enigma.FormatSwitch(locked))
}

// SetLockRotor locks the rotor selection on the device
func (c *Client) SetLockRotor(locked bool) bool {
	return c.set(enigma.CmdLockRotor, enigma.FormatSwitch(locked))
}

// SetLockRing locks the ring settings on the device
func (c *Client) SetLockRing(locked bool) bool {
	return c.set(enigma.CmdLockRing, enigma.FormatSwitch(locked))
}

// SetLockPowerOff disables the power-off button
func (c *Client) SetLockPowerOff(disabled bool) bool {
	return c.set(enigma.CmdLockPowerOff, enigma.FormatSwitch(disabled))
}

// SetBrightness sets the display brightness, 1-5
func (c *Client) SetBrightness(level int) bool {
	return c.setRange("brightness", enigma.CmdBrightness, level, enigma.MinBrightness, enigma.MaxBrightness)
}

// SetVolume sets the key click volume, 0-6
func (c *Client) SetVolume(level int) bool {
	return c.setRange("volume", enigma.CmdVolume, level, enigma.MinVolume, enigma.MaxVolume)
}

// SetLoggingFormat selects how exchanged characters are printed
func (c *Client) SetLoggingFormat(f enigma.LoggingFormat) bool {
	return c.setRange("logging format", enigma.CmdLoggingFormat, int(f), int(enigma.LogShort5), int(enigma.LogExtended4))
}

// SetTimeoutBattery sets the power-off timeout on battery in minutes, 0 disables
func (c *Client) SetTimeoutBattery(minutes int) bool {
	return c.setRange("battery timeout", enigma.CmdTimeoutBattery, minutes, enigma.MinTimeout, enigma.MaxTimeout)
}

// SetTimeoutPlugged sets the power-off timeout on external power in minutes
func (c *Client) SetTimeoutPlugged(minutes int) bool {
	return c.setRange("plugged timeout", enigma.CmdTimeoutPlugged, minutes, enigma.MinTimeout, enigma.MaxTimeout)
}

// SetTimeoutScreenSaver sets the screen saver delay in minutes
func (c *Client) SetTimeoutScreenSaver(minutes int) bool {
	return c.setRange("screen saver", enigma.CmdTimeoutScreen, minutes, enigma.MinTimeout, enigma.MaxTimeout)
}

// SetTimeoutSetup sets the setup mode inactivity timeout in seconds
func (c *Client) SetTimeoutSetup(seconds int) bool {
	return c.setRange("setup timeout", enigma.CmdTimeoutSetup, seconds, enigma.MinTimeout, enigma.MaxTimeout)
}

//////////////////////////////////////////////////////////////
// Composite operations
//////////////////////////////////////////////////////////////

// ApplyCipherConfig sends all five cipher settings. Every setting is tried;
// the returned *ConfigError names each one that failed.
func (c *Client) ApplyCipherConfig(cfg enigma.DeviceConfig) error {
	steps := []step{
		{FieldModel, func() bool { return c.SetModel(cfg.Model) }},
		{FieldRotorOrder, func() bool { return c.SetRotorOrder(cfg.RotorOrder) }},
		{FieldRingSettings, func() bool { return c.SetRingSettings(cfg.RingSettings) }},
		{FieldRingPosition, func() bool { return c.SetRingPosition(cfg.RingPosition) }},
		{FieldPlugboard, func() bool { return c.SetPlugboard(cfg.Plugboard) }},
	}
	return c.applyAll(steps)
}

// step is one named setting of a composite apply
type step struct {
	field string
	apply func() bool
}

func (c *Client) applyAll(steps []step) error {
	var failed []string
	gap := c.tr.Timing().ConfigGap
	for i, s := range steps {
		if i > 0 {
			time.Sleep(gap)
		}
		if !s.apply() {
			failed = append(failed, s.field)
			if !c.tr.IsConnected() {
				for _, rest := range steps[i+1:] {
					failed = append(failed, rest.field)
				}
				break
			}
		}
	}
	if len(failed) > 0 {
		c.logger.Warn().Strs("fields", failed).Msg("Configuration errors")
		c.events.Publish(events.ConfigFailed{Base: events.Now(), Fields: failed})
		return &ConfigError{Fields: failed}
	}
	return nil
}

// KioskSettings are the lock, display and timeout settings of an exhibit
type KioskSettings struct {
	LockModel         bool `json:"lock_model" mapstructure:"lock_model"`
	LockRotor         bool `json:"lock_rotor" mapstructure:"lock_rotor"`
	LockRing          bool `json:"lock_ring" mapstructure:"lock_ring"`
	DisablePowerOff   bool `json:"disable_power_off" mapstructure:"disable_power_off"`
	Brightness        int  `json:"brightness" mapstructure:"brightness"`
	Volume            int  `json:"volume" mapstructure:"volume"`
	ScreenSaver       int  `json:"screen_saver" mapstructure:"screen_saver"`
	TimeoutBattery    int  `json:"timeout_battery" mapstructure:"timeout_battery"`
	TimeoutPlugged    int  `json:"timeout_plugged" mapstructure:"timeout_plugged"`
	TimeoutSetupModes int  `json:"timeout_setup_modes" mapstructure:"timeout_setup_modes"`
}

// ApplyKioskSettings applies every lock, display and timeout setting plus the
// logging format matching groupSize. Failures are collected, not fatal.
func (c *Client) ApplyKioskSettings(k KioskSettings, groupSize int) error {
	steps := []step{
		{"lock_model", func() bool { return c.SetLockModel(k.LockModel) }},
		{"lock_rotor", func() bool { return c.SetLockRotor(k.LockRotor) }},
		{"lock_ring", func() bool { return c.SetLockRing(k.LockRing) }},
		{"disable_power_off", func() bool { return c.SetLockPowerOff(k.DisablePowerOff) }},
		{"brightness", func() bool { return c.SetBrightness(k.Brightness) }},
		{"volume", func() bool { return c.SetVolume(k.Volume) }},
		{"logging_format", func() bool { return c.SetLoggingFormat(enigma.KioskLoggingFormat(groupSize)) }},
		{"timeout_battery", func() bool { return c.SetTimeoutBattery(k.TimeoutBattery) }},
		{"timeout_plugged", func() bool { return c.SetTimeoutPlugged(k.TimeoutPlugged) }},
		{"screen_saver", func() bool { return c.SetTimeoutScreenSaver(k.ScreenSaver) }},
		{"timeout_setup_modes", func() bool { return c.SetTimeoutSetup(k.TimeoutSetupModes) }},
	}
	return c.applyAll(steps)
}
