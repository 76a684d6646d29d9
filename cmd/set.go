// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/enigmatouch/pkg/client"
	"github.com/Thermoquad/enigmatouch/pkg/enigma"
	"github.com/Thermoquad/enigmatouch/pkg/settings"
)

// setting is one device setter reachable from "set"
type setting struct {
	help  string
	apply func(c *client.Client, value string) (bool, error)
	save  func(s *settings.Settings, value string) // nil when nothing is persisted
}

func textSetting(help string, fn func(*client.Client, string) bool, save func(*settings.Settings, string)) setting {
	return setting{
		help:  help,
		apply: func(c *client.Client, v string) (bool, error) { return fn(c, v), nil },
		save:  save,
	}
}

func boolSetting(help string, fn func(*client.Client, bool) bool, save func(*settings.Settings, bool)) setting {
	return setting{
		help: help,
		apply: func(c *client.Client, v string) (bool, error) {
			b, ok := settings.ParseBool(v)
			if !ok || v == "" {
				return false, fmt.Errorf("invalid value %q (want on/off)", v)
			}
			return fn(c, b), nil
		},
		save: func(s *settings.Settings, v string) {
			b, _ := settings.ParseBool(v)
			save(s, b)
		},
	}
}

func intSetting(help string, fn func(*client.Client, int) bool, save func(*settings.Settings, int)) setting {
	st := setting{
		help: help,
		apply: func(c *client.Client, v string) (bool, error) {
			n, err := strconv.Atoi(v)
			if err != nil {
				return false, fmt.Errorf("invalid number %q", v)
			}
			return fn(c, n), nil
		},
	}
	if save != nil {
		st.save = func(s *settings.Settings, v string) {
			n, _ := strconv.Atoi(v)
			save(s, n)
		}
	}
	return st
}

var deviceSettings = map[string]setting{
	"model": textSetting("Enigma model (I, M3, M4)", (*client.Client).SetModel,
		func(s *settings.Settings, v string) { s.Config.Model = v }),
	"rotors": textSetting("Reflector and rotor order, e.g. \"A III IV I\"", (*client.Client).SetRotorOrder,
		func(s *settings.Settings, v string) { s.Config.RotorOrder = v }),
	"rings": textSetting("Ring settings, e.g. \"01 01 01\"", (*client.Client).SetRingSettings,
		func(s *settings.Settings, v string) { s.Config.RingSettings = v }),
	"position": textSetting("Rotor start position, e.g. \"20 6 10\"", (*client.Client).SetRingPosition,
		func(s *settings.Settings, v string) { s.Config.RingPosition = v }),
	"plugboard": textSetting("Plugboard pairs, e.g. \"VF PQ\" (empty clears)", (*client.Client).SetPlugboard,
		func(s *settings.Settings, v string) { s.Config.Plugboard = v }),

	"lock-model": boolSetting("Lock the model selection", (*client.Client).SetLockModel,
		func(s *settings.Settings, b bool) { s.LockModel = b }),
	"lock-rotor": boolSetting("Lock the rotor selection", (*client.Client).SetLockRotor,
		func(s *settings.Settings, b bool) { s.LockRotor = b }),
	"lock-ring": boolSetting("Lock the ring settings", (*client.Client).SetLockRing,
		func(s *settings.Settings, b bool) { s.LockRing = b }),
	"lock-power-off": boolSetting("Disable the power-off button", (*client.Client).SetLockPowerOff,
		func(s *settings.Settings, b bool) { s.DisablePowerOff = b }),

	"brightness": intSetting("Display brightness (1-5)", (*client.Client).SetBrightness,
		func(s *settings.Settings, n int) { s.Brightness = n }),
	"volume": intSetting("Speaker volume (0-6)", (*client.Client).SetVolume,
		func(s *settings.Settings, n int) { s.Volume = n }),
	"logging-format": intSetting("Serial logging format (1-4)", func(c *client.Client, n int) bool {
		return c.SetLoggingFormat(enigma.LoggingFormat(n))
	}, nil),

	"timeout-battery": intSetting("Power-off on battery, minutes (0 disables)", (*client.Client).SetTimeoutBattery,
		func(s *settings.Settings, n int) { s.TimeoutBattery = n }),
	"timeout-plugged": intSetting("Power-off when plugged in, minutes (0 disables)", (*client.Client).SetTimeoutPlugged,
		func(s *settings.Settings, n int) { s.TimeoutPlugged = n }),
	"timeout-screensaver": intSetting("Screen saver, minutes (0 disables)", (*client.Client).SetTimeoutScreenSaver,
		func(s *settings.Settings, n int) { s.ScreenSaver = n }),
	"timeout-setup": intSetting("Setup mode inactivity, seconds (0 disables)", (*client.Client).SetTimeoutSetup,
		func(s *settings.Settings, n int) { s.TimeoutSetupModes = n }),
}

func settingNames() []string {
	names := make([]string, 0, len(deviceSettings))
	for name := range deviceSettings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func settingsHelp() string {
	var b strings.Builder
	for _, name := range settingNames() {
		fmt.Fprintf(&b, "  %-20s %s\n", name, deviceSettings[name].help)
	}
	return b.String()
}

var setCmd = &cobra.Command{
	Use:   "set <setting> <value>",
	Short: "Change one device setting",
	Long: `Send one setting to the device. On success the value is also written to
the settings file.

Settings:
` + settingsHelp(),
	Args:      cobra.MinimumNArgs(2),
	ValidArgs: settingNames(),
	RunE:      runSet,
}

func init() {
	rootCmd.AddCommand(setCmd)
}

func runSet(cmd *cobra.Command, args []string) error {
	name := strings.ToLower(args[0])
	st, ok := deviceSettings[name]
	if !ok {
		return fmt.Errorf("unknown setting %q\n\nSettings:\n%s", args[0], settingsHelp())
	}
	value := strings.Join(args[1:], " ")

	logger, closeLog, err := newLogger(false)
	if err != nil {
		return err
	}
	defer closeLog()

	s, err := openSession(logger, true)
	if err != nil {
		return err
	}
	defer s.Close()

	accepted, err := st.apply(s.client, value)
	if err != nil {
		return err
	}
	if !accepted {
		if lastErr := s.client.LastError(); lastErr != nil {
			return fmt.Errorf("%s not set: %w", name, lastErr)
		}
		return fmt.Errorf("%s not set", name)
	}
	fmt.Printf("%s set to %s\n", name, value)

	if st.save == nil {
		return nil
	}
	cur := s.settings
	st.save(&cur, value)
	if name == "position" {
		err = s.store.SaveWithPosition(cur)
	} else {
		err = s.store.Save(cur)
	}
	if err != nil {
		return fmt.Errorf("setting applied but not saved: %w", err)
	}
	return nil
}
