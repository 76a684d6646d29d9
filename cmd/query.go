// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query and print all device settings",
	Long: `Read the cipher configuration, locks, display and timeout settings
from the device and print them grouped the way the device menus show them.

Values the device does not report are shown as N/A. Cipher settings fall
back to the saved configuration.`,
	Args: cobra.NoArgs,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
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

	fmt.Printf("Connection: %s\n\n", s.info)
	report := s.client.QueryAll()
	fmt.Print(report.String())
	return nil
}
