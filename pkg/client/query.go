// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package client

import (
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/enigmatouch/pkg/enigma"
)

// query sends "?XX" and returns the decoded response
func (c *Client) query(cmd enigma.Command) (string, bool) {
	resp, ok := c.tr.SendCommand(cmd.Query(), c.tr.Timing().CommandTimeout)
	if !ok {
		return "", false
	}
	text := string(resp)
	if found, msg := enigma.HasErrorBanner(text); found {
		c.logger.Warn().Str("command", string(cmd)).Str("error", msg).Msg("Query rejected")
		return "", false
	}
	return text, true
}

// QueryModel returns the model reported by the device
func (c *Client) QueryModel() (string, bool) {
	text, ok := c.query(enigma.CmdModel)
	if !ok {
		return "", false
	}
	return enigma.ParseModelResponse(text)
}

// QueryRotorOrder returns the reflector and rotors, e.g. "B I II III"
func (c *Client) QueryRotorOrder() (string, bool) {
	text, ok := c.query(enigma.CmdRotors)
	if !ok {
		return "", false
	}
	return enigma.ParseRotorResponse(text)
}

// QueryRingSettings returns the ring settings
func (c *Client) QueryRingSettings() (string, bool) {
	text, ok := c.query(enigma.CmdRings)
	if !ok {
		return "", false
	}
	return enigma.ParseRingsResponse(text)
}

// QueryRingPosition returns the rotor positions in the device's rendering
func (c *Client) QueryRingPosition() (string, bool) {
	text, ok := c.query(enigma.CmdPosition)
	if !ok {
		return "", false
	}
	return enigma.ParsePositionResponse(text)
}

// QueryPlugboard returns the plugboard pairs, empty when clear
func (c *Client) QueryPlugboard() (string, bool) {
	text, ok := c.query(enigma.CmdPlugboard)
	if !ok {
		return "", false
	}
	return enigma.ParsePlugboardResponse(text)
}

// QuerySwitch returns a lock or power-off flag
func (c *Client) QuerySwitch(cmd enigma.Command) (bool, bool) {
	text, ok := c.query(cmd)
	if !ok {
		return false, false
	}
	return enigma.ParseSwitchResponse(text)
}

// QueryNumber returns a numeric setting such as brightness or a timeout
func (c *Client) QueryNumber(cmd enigma.Command) (int, bool) {
	text, ok := c.query(cmd)
	if !ok {
		return 0, false
	}
	return enigma.ParseNumberResponse(text)
}

//////////////////////////////////////////////////////////////
// Full report
//////////////////////////////////////////////////////////////

// Report holds every setting read from the device. A nil field was not reported.
type Report struct {
	Config enigma.DeviceConfig

	LockModel       *bool
	LockRotor       *bool
	LockRing        *bool
	DisablePowerOff *bool

	Brightness    *int
	Volume        *int
	LoggingFormat *enigma.LoggingFormat

	TimeoutBattery *int
	TimeoutPlugged *int
	ScreenSaver    *int
	TimeoutSetup   *int
}

// QueryAll reads every setting. Cipher settings the device does not report
// fall back to the mirror, which is then updated with what was read.
func (c *Client) QueryAll() Report {
	gap := c.tr.Timing().ConfigGap
	r := Report{Config: c.cfg}

	if v, ok := c.QueryModel(); ok {
		r.Config.Model = v
	}
	time.Sleep(gap)
	if v, ok := c.QueryRotorOrder(); ok {
		r.Config.RotorOrder = v
	}
	time.Sleep(gap)
	if v, ok := c.QueryRingSettings(); ok {
		r.Config.RingSettings = v
	}
	time.Sleep(gap)
	if v, ok := c.QueryRingPosition(); ok {
		r.Config.RingPosition = v
	}
	time.Sleep(gap)
	if v, ok := c.QueryPlugboard(); ok {
		r.Config.Plugboard = v
	}

	switches := []struct {
		cmd enigma.Command
		dst **bool
	}{
		{enigma.CmdLockModel, &r.LockModel},
		{enigma.CmdLockRotor, &r.LockRotor},
		{enigma.CmdLockRing, &r.LockRing},
		{enigma.CmdLockPowerOff, &r.DisablePowerOff},
	}
	for _, s := range switches {
		time.Sleep(gap)
		if v, ok := c.QuerySwitch(s.cmd); ok {
			*s.dst = &v
		}
	}

	numbers := []struct {
		cmd enigma.Command
		dst **int
	}{
		{enigma.CmdBrightness, &r.Brightness},
		{enigma.CmdVolume, &r.Volume},
		{enigma.CmdTimeoutBattery, &r.TimeoutBattery},
		{enigma.CmdTimeoutPlugged, &r.TimeoutPlugged},
		{enigma.CmdTimeoutScreen, &r.ScreenSaver},
		{enigma.CmdTimeoutSetup, &r.TimeoutSetup},
	}
	for _, n := range numbers {
		time.Sleep(gap)
		if v, ok := c.QueryNumber(n.cmd); ok {
			*n.dst = &v
		}
	}

	time.Sleep(gap)
	if v, ok := c.QueryNumber(enigma.CmdLoggingFormat); ok {
		f := enigma.LoggingFormat(v)
		r.LoggingFormat = &f
	}

	c.cfg = r.Config
	return r
}

// String renders the report grouped like the device's own settings screens
func (r Report) String() string {
	var b strings.Builder
	plug := r.Config.Plugboard
	if plug == "" {
		plug = "clear"
	}

	b.WriteString("Enigma Configuration:\n")
	fmt.Fprintf(&b, "  Mode: %s\n", r.Config.Model)
	fmt.Fprintf(&b, "  Rotor Set: %s\n", r.Config.RotorOrder)
	fmt.Fprintf(&b, "  Ring Settings: %s\n", r.Config.RingSettings)
	fmt.Fprintf(&b, "  Ring Position: %s\n", r.Config.RingPosition)
	fmt.Fprintf(&b, "  Plugboard: %s\n", plug)

	b.WriteString("Lock Settings:\n")
	fmt.Fprintf(&b, "  Model: %s\n", flagText(r.LockModel, "locked", "unlocked"))
	fmt.Fprintf(&b, "  Rotor/Wheel: %s\n", flagText(r.LockRotor, "locked", "unlocked"))
	fmt.Fprintf(&b, "  Ring: %s\n", flagText(r.LockRing, "locked", "unlocked"))
	fmt.Fprintf(&b, "  Power-Off Button: %s\n", flagText(r.DisablePowerOff, "disabled", "enabled"))

	b.WriteString("UI Settings:\n")
	fmt.Fprintf(&b, "  Brightness: %s (1-5)\n", numberText(r.Brightness))
	fmt.Fprintf(&b, "  Volume: %s (0-6)\n", numberText(r.Volume))
	if r.LoggingFormat != nil {
		fmt.Fprintf(&b, "  Logging Format: %s\n", *r.LoggingFormat)
	} else {
		b.WriteString("  Logging Format: N/A\n")
	}

	b.WriteString("Timeout Settings:\n")
	fmt.Fprintf(&b, "  Battery Power-Off: %s\n", timeoutText(r.TimeoutBattery, "minutes"))
	fmt.Fprintf(&b, "  Plugged-In Power-Off: %s\n", timeoutText(r.TimeoutPlugged, "minutes"))
	fmt.Fprintf(&b, "  Screen Saver: %s\n", timeoutText(r.ScreenSaver, "minutes"))
	fmt.Fprintf(&b, "  Setup Mode Inactivity: %s\n", timeoutText(r.TimeoutSetup, "seconds"))
	return b.String()
}

func flagText(v *bool, on, off string) string {
	switch {
	case v == nil:
		return "N/A"
	case *v:
		return on
	default:
		return off
	}
}

func numberText(v *int) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%d", *v)
}

func timeoutText(v *int, unit string) string {
	switch {
	case v == nil:
		return "N/A"
	case *v == 0:
		return "disabled"
	default:
		return fmt.Sprintf("%d %s", *v, unit)
	}
}
