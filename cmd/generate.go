// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/enigmatouch/pkg/corpus"
	"github.com/Thermoquad/enigmatouch/pkg/logging"
)

var (
	generateRestart bool
	generateOutput  string
	modelsFile      string
)

var generateCmd = &cobra.Command{
	Use:   "generate <en|de>",
	Short: "Encode the message list into a museum corpus",
	Long: `Encode every message of english.msg or german.msg on the device and
write the results to english-encoded.json or german-encoded.json.

Each message is saved as soon as it is encoded, so an interrupted run
resumes where it stopped. Use --restart to start over. When
use_models_json is set, each message uses a random configuration from
models.json (or models.yaml) instead of the saved one.`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerate,
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Check that the device accepts every configuration in the models file",
	Args:  cobra.NoArgs,
	RunE:  runModels,
}

func init() {
	rootCmd.AddCommand(generateCmd)
	generateCmd.AddCommand(modelsCmd)
	generateCmd.Flags().BoolVar(&generateRestart, "restart", false, "Discard existing results and start over")
	generateCmd.Flags().StringVarP(&generateOutput, "output", "o", "", "Output file (default from the language)")
	generateCmd.PersistentFlags().StringVar(&modelsFile, "models", "", "Models file (default models.json or models.yaml)")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	lang, err := corpus.ParseLanguage(args[0])
	if err != nil {
		return err
	}
	messages, err := corpus.LoadMessages(lang.MessageFile())
	if err != nil {
		return err
	}
	out := generateOutput
	if out == "" {
		out = lang.CorpusFile()
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

	cur := s.settings
	gen := &corpus.Generator{
		Engine:    s.engine,
		Kiosk:     cur.KioskSettings,
		GroupSize: cur.WordGroupSize,
		Config:    cur.Config,
		Logger:    logging.WithComponent(logger, "generate"),
	}
	if cur.UseModelsJSON {
		models, path, err := loadModels()
		if err != nil {
			return err
		}
		gen.Models = models
		fmt.Printf("Using %d configurations from %s\n", len(models), path)
	}

	var existing []corpus.Entry
	if generateRestart {
		if err := corpus.Restart(out); err != nil {
			return err
		}
	} else {
		plan := corpus.Inspect(out, corpus.FromConfig(cur.Config, cur.WordGroupSize))
		if plan.Resumable() {
			if plan.SettingsChanged && len(gen.Models) == 0 {
				fmt.Printf("Warning: %s was generated with different settings (%s %s %s %s)\n",
					out, plan.Previous.Model, plan.Previous.Rotor, plan.Previous.RingSet, plan.Previous.RingPos)
				fmt.Println("Use --restart to regenerate it with the current settings.")
			}
			existing = plan.Existing
			fmt.Printf("Resuming at message %d of %d\n", len(existing)+1, len(messages))
		}
	}
	if len(existing) >= len(messages) {
		fmt.Printf("%s is complete (%d messages)\n", out, len(existing))
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	skipped := 0
	gen.Progress = func(p corpus.Progress) {
		if p.Skipped {
			skipped++
			fmt.Printf("[%d/%d] skipped\n", p.Index+1, p.Total)
			return
		}
		model := ""
		if p.Model != "" {
			model = " (" + p.Model + ")"
		}
		fmt.Printf("[%d/%d]%s %s\n", p.Index+1, p.Total, model, p.Entry.Coded)
	}

	entries, err := gen.Run(ctx, messages, out, existing)
	if errors.Is(err, context.Canceled) {
		fmt.Printf("\nStopped. %d messages saved to %s, run again to resume.\n", len(entries), out)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("\n%d messages saved to %s", len(entries), out)
	if skipped > 0 {
		fmt.Printf(" (%d skipped)", skipped)
	}
	fmt.Println()
	return nil
}

func loadModels() ([]corpus.Model, string, error) {
	path := modelsFile
	if path == "" {
		found, ok := corpus.FindModels(".")
		if !ok {
			return nil, "", fmt.Errorf("use_models_json is set but no models.json or models.yaml was found")
		}
		path = found
	}
	models, err := corpus.LoadModels(path)
	return models, path, err
}

func runModels(cmd *cobra.Command, args []string) error {
	models, path, err := loadModels()
	if err != nil {
		return err
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

	fmt.Printf("Checking %d configurations from %s\n\n", len(models), path)
	results, err := corpus.ValidateModels(s.client, models)
	invalid := 0
	for _, r := range results {
		if r.Valid() {
			fmt.Printf("  OK    %d. %s\n", r.Index, r.Name)
			continue
		}
		invalid++
		fmt.Printf("  FAIL  %d. %s: %v\n", r.Index, r.Name, r.Fields)
	}
	if err != nil {
		return err
	}

	// Leave the device on the saved configuration
	if err := s.client.ApplyCipherConfig(s.settings.Config); err != nil {
		logger.Warn().Err(err).Msg("Failed to restore the saved configuration")
	}

	if invalid > 0 {
		return fmt.Errorf("%d of %d configurations rejected", invalid, len(results))
	}
	fmt.Printf("\nAll %d configurations accepted\n", len(results))
	return nil
}
