// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/enigmatouch/pkg/client"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply the saved cipher configuration",
	Long: `Send the saved model, rotor order, ring settings, start position and
plugboard to the device. Every field is attempted; all failures are
reported together.`,
	Args: cobra.NoArgs,
	RunE: runApply,
}

var kioskCmd = &cobra.Command{
	Use:   "kiosk",
	Short: "Apply the saved lock, display and timeout settings",
	Long: `Prepare the device for an exhibit: apply the saved locks, brightness,
volume, timeouts and the extended logging format matching the word group
size. Every setting is attempted; all failures are reported together.`,
	Args: cobra.NoArgs,
	RunE: runKiosk,
}

func init() {
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(kioskCmd)
}

func runApply(cmd *cobra.Command, args []string) error {
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

	cfg := s.settings.Config
	fmt.Printf("Applying %s, rotors %s, rings %s, position %s, plugboard %q\n",
		cfg.Model, cfg.RotorOrder, cfg.RingSettings, cfg.RingPosition, cfg.Plugboard)
	return reportConfigError(s.client.ApplyCipherConfig(cfg))
}

func runKiosk(cmd *cobra.Command, args []string) error {
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

	return reportConfigError(s.client.ApplyKioskSettings(s.settings.KioskSettings, s.settings.WordGroupSize))
}

// reportConfigError prints every failed field of a composite apply
func reportConfigError(err error) error {
	var cfgErr *client.ConfigError
	if errors.As(err, &cfgErr) {
		fmt.Fprintln(os.Stderr, "The device refused:")
		for _, f := range cfgErr.Fields {
			fmt.Fprintf(os.Stderr, "  %s\n", f)
		}
		return err
	}
	if err != nil {
		return err
	}
	fmt.Println("All settings applied")
	return nil
}
