// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/enigmatouch/pkg/settings"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit the settings file without a device",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print every setting",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting",
	Long: `Change one setting in the settings file. Keys use the names shown by
"config show", for example museum_delay or config.rotor_set. Booleans
accept true/false, yes/no, on/off and 1/0.

The device is not contacted. Use "apply" or "kiosk" to send the new
values.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runConfigSet,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	logger, closeLog, err := newLogger(false)
	if err != nil {
		return err
	}
	defer closeLog()

	store, cur, err := loadSettings(logger)
	if err != nil {
		return err
	}
	fmt.Printf("Settings file: %s\n\n", store.Path())
	return printSettings(os.Stdout, cur)
}

// printSettings writes one aligned "key  value" line per setting
func printSettings(out io.Writer, cur settings.Settings) error {
	values := cur.Values()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, key := range settings.Keys() {
		fmt.Fprintf(w, "%s\t%s\n", key, settings.FormatValue(values[key]))
	}
	return w.Flush()
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	logger, closeLog, err := newLogger(false)
	if err != nil {
		return err
	}
	defer closeLog()

	key := args[0]
	value := strings.Join(args[1:], " ")
	store := settings.NewStore(configPath, logger)
	cur, err := store.Set(key, value)
	if errors.Is(err, settings.ErrUnknownKey) {
		return fmt.Errorf("%w (known keys: %s)", err, strings.Join(settings.Keys(), ", "))
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s = %s\n", strings.ToLower(key), settings.FormatValue(cur.Values()[strings.ToLower(key)]))
	return nil
}
