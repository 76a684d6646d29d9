// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/enigmatouch/pkg/enigma"
	"github.com/Thermoquad/enigmatouch/pkg/exchange"
	"github.com/Thermoquad/enigmatouch/pkg/settings"
)

var sendCmd = &cobra.Command{
	Use:   "send [text]",
	Short: "Encode a message on the device",
	Long: `Type a message on the device one letter at a time and print the result.
Non-letters are skipped. Without text an interactive screen opens where
messages can be typed and sent repeatedly.

When always_send_config is set in the settings file, the saved cipher
configuration is applied before every message. Ctrl+C stops between
characters.`,
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return runSendTUI()
	}
	text := strings.Join(args, " ")

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := s.send(ctx, text, func(p exchange.Progress) {
		fmt.Printf("%s -> %s  (%d/%d)\n", p.Input, p.Output, p.Sent, p.Total)
	})
	if err != nil {
		return err
	}

	fmt.Printf("\nResult: %s\n", enigma.GroupText(res.Output, s.settings.WordGroupSize))
	return sendOutcome(res)
}

// send applies the saved configuration when always_send_config is set and
// exchanges text. onChar sees every accepted character.
func (s *session) send(ctx context.Context, text string, onChar func(exchange.Progress)) (exchange.Result, error) {
	if s.settings.AlwaysSendConfig {
		if err := s.applySavedConfig(); err != nil {
			return exchange.Result{}, err
		}
	}
	return s.engine.Send(ctx, text, exchange.SendOptions{
		Mode:           enigma.ModeScriptedInteractive,
		CharacterDelay: s.settings.CharacterDelay(),
		Stop: func(p exchange.Progress) bool {
			if onChar != nil {
				onChar(p)
			}
			return false
		},
	})
}

// applySavedConfig reloads the settings file, keeping the device, the
// function mode and the always-send flag of this session, and applies the
// five cipher settings
func (s *session) applySavedConfig() error {
	reloaded, err := s.store.LoadPreservingDevice(s.settings)
	if err != nil {
		return err
	}
	reloaded = settings.MergePreservingFunctionMode(reloaded, s.settings)
	reloaded.AlwaysSendConfig = s.settings.AlwaysSendConfig
	s.settings = reloaded

	if err := s.client.ApplyCipherConfig(reloaded.Config); err != nil {
		return fmt.Errorf("message not sent: %w", err)
	}
	return nil
}

// sendOutcome turns an incomplete result into an error for the exit status
func sendOutcome(res exchange.Result) error {
	switch {
	case res.TransportLost:
		return fmt.Errorf("connection lost after %d of %d characters", res.Sent, res.Total)
	case res.Interrupted:
		return fmt.Errorf("stopped after %d characters: %s", res.Sent, exchange.ReasonOperatedByHand)
	case res.Cancelled:
		return fmt.Errorf("cancelled after %d of %d characters", res.Sent, res.Total)
	case res.Dropped > 0:
		return fmt.Errorf("%d character(s) dropped", res.Dropped)
	}
	return nil
}
