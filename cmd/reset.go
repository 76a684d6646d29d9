// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/enigmatouch/pkg/enigma"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore the device factory settings",
	Long: `Send the factory reset command. Every setting on the device returns to
its default and the saved cipher configuration is reset to match.`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
}

func runReset(cmd *cobra.Command, args []string) error {
	if !resetYes && !confirm(os.Stdin, os.Stdout, "Reset the device to factory settings?") {
		fmt.Println("Cancelled")
		return nil
	}

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

	if !s.client.FactoryReset() {
		if lastErr := s.client.LastError(); lastErr != nil {
			return fmt.Errorf("factory reset failed: %w", lastErr)
		}
		return fmt.Errorf("factory reset failed")
	}

	cur := s.settings
	cur.Config = enigma.DefaultDeviceConfig()
	if err := s.store.SaveWithPosition(cur); err != nil {
		return fmt.Errorf("device reset but settings not saved: %w", err)
	}
	fmt.Println("Factory reset complete")
	return nil
}
