// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/enigmatouch/pkg/transport"
)

var (
	probeTimeout int
	probeCount   int
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check the link by querying the device model",
	Long: `Ask the device for its model several times and report the round trip
time of each answer. Works over serial ports and the WebSocket bridge.

Exit codes:
  0 - All probes answered
  1 - One or more probes failed or timed out
  2 - Connection error`,
	Args: cobra.NoArgs,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "timeout", 3, "Timeout in seconds for each probe")
	probeCmd.Flags().IntVar(&probeCount, "count", 3, "Number of probes to send")
}

func runProbe(cmd *cobra.Command, args []string) error {
	logger, closeLog, err := newLogger(false)
	if err != nil {
		return err
	}
	defer closeLog()

	timeout := time.Duration(probeTimeout) * time.Second
	s, err := openSession(logger, true, func(t *transport.Timing) {
		t.CommandTimeout = timeout
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer s.Close()

	fmt.Printf("Enigma Touch - Link Probe\n")
	fmt.Printf("Connection: %s\n", s.info)
	fmt.Printf("Timeout: %d seconds per probe\n", probeTimeout)
	fmt.Printf("Count: %d probes\n\n", probeCount)

	successCount := 0
	var total time.Duration
	for i := 1; i <= probeCount; i++ {
		fmt.Printf("Probe %d/%d: ", i, probeCount)

		start := time.Now()
		model, ok := s.client.QueryModel()
		rtt := time.Since(start)
		switch {
		case ok:
			fmt.Printf("model=%s, rtt=%v\n", model, rtt.Round(time.Millisecond))
			successCount++
			total += rtt
		case !s.tr.IsConnected():
			fmt.Printf("CONNECTION LOST: %v\n", s.tr.Err())
		default:
			fmt.Printf("TIMEOUT (no model in %ds)\n", probeTimeout)
		}

		if !s.tr.IsConnected() {
			break
		}
		if i < probeCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	failCount := probeCount - successCount
	fmt.Printf("\n--- Probe statistics ---\n")
	fmt.Printf("%d probes sent, %d answered", probeCount, successCount)
	if probeCount > 0 {
		fmt.Printf(", %.0f%% lost", float64(failCount)/float64(probeCount)*100)
	}
	if successCount > 0 {
		fmt.Printf(", avg rtt %v", (total / time.Duration(successCount)).Round(time.Millisecond))
	}
	fmt.Println()

	if failCount > 0 {
		s.Close()
		os.Exit(1)
	}
	return nil
}
