// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/enigmatouch/pkg/enigma"
)

var monitorRaw bool

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch keys pressed on the device",
	Long: `Print every character typed on the device with its result and the
rotor positions that follow. With --raw the unparsed device output is
printed as well.

Press Ctrl+C to exit.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&monitorRaw, "raw", false, "Also print the raw device output")
}

func runMonitor(cmd *cobra.Command, args []string) error {
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Monitoring %s\n", s.info)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	count := 0
	err = s.monitor(ctx, func(data []byte, frames []enigma.Exchange) {
		if monitorRaw {
			q := strconv.Quote(string(data))
			fmt.Printf("%s RAW %s\n", time.Now().Format("15:04:05.000"), q[1:len(q)-1])
		}
		for _, ex := range frames {
			count++
			line := fmt.Sprintf("%s %s -> %s  Positions %s", time.Now().Format("15:04:05.000"), ex.Input, ex.Output, ex.PositionText)
			if ex.HasCounter {
				line += fmt.Sprintf("  Counter %d", ex.Counter)
			}
			fmt.Println(line)
		}
	})
	fmt.Printf("\n%d characters seen\n", count)
	return err
}

// monitor polls the device until ctx ends and hands every burst of output
// to fn together with the frames found in it. Frames update the mirrored
// rotor position.
func (s *session) monitor(ctx context.Context, fn func(data []byte, frames []enigma.Exchange)) error {
	timing := s.tr.Timing()
	marker := []byte(enigma.PositionsKeyword)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.tr.Lost():
			return fmt.Errorf("connection lost: %w", s.tr.Err())
		case <-ticker.C:
		}

		data, ok := s.tr.ReadAvailable()
		if !ok {
			return fmt.Errorf("connection lost: %w", s.tr.Err())
		}
		if len(data) == 0 {
			continue
		}

		// A frame can arrive in pieces; wait for its positions
		var more []byte
		if bytes.Contains(data, marker) {
			more, ok = s.tr.ReadFor(timing.Quiet)
		} else {
			more, ok = s.tr.CollectUntil(marker, timing.CharTimeout)
		}
		data = append(data, more...)

		clean := enigma.StripConfigSummary(data)
		frames := enigma.FindExchanges(enigma.Tokenize(string(clean)), s.client.RotorCount(), enigma.CaseUpper)
		if n := len(frames); n > 0 {
			s.client.MirrorPosition(frames[n-1].PositionText)
		}
		fn(data, frames)

		if !ok {
			return fmt.Errorf("connection lost: %w", s.tr.Err())
		}
	}
}
