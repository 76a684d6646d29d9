// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Thermoquad/enigmatouch/pkg/corpus"
	"github.com/Thermoquad/enigmatouch/pkg/enigma"
	"github.com/Thermoquad/enigmatouch/pkg/events"
	"github.com/Thermoquad/enigmatouch/pkg/logging"
	"github.com/Thermoquad/enigmatouch/pkg/metrics"
	"github.com/Thermoquad/enigmatouch/pkg/museum"
	"github.com/Thermoquad/enigmatouch/pkg/publish"
	"github.com/Thermoquad/enigmatouch/pkg/settings"
	"github.com/Thermoquad/enigmatouch/pkg/simulator"
	"github.com/Thermoquad/enigmatouch/pkg/status"
)

var (
	museumLang      string
	museumDecode    bool
	museumTUI       bool
	museumWeb       bool
	museumWebPort   int
	museumCorpus    string
	museumSlidesDir string
)

// Web credentials come from the environment, like the bridge password
const (
	webUserEnv     = "ENIGMA_WEB_USER"
	webPasswordEnv = "ENIGMA_WEB_PASSWORD"
)

var museumCmd = &cobra.Command{
	Use:   "museum",
	Short: "Run the unattended museum demonstration",
	Long: `Send random messages from a generated corpus, verify every result
against the recorded ciphertext and wait museum_delay seconds between
messages.

When a visitor types on the device the demonstration pauses and resumes
after museum_delay seconds without input. A lost connection is retried
every 1.5 seconds.

The status server (--web) serves the kiosk pages, a JSON and websocket
snapshot and prometheus metrics. --mqtt-broker mirrors events to MQTT.`,
	Args: cobra.NoArgs,
	RunE: runMuseum,
}

func init() {
	rootCmd.AddCommand(museumCmd)
	museumCmd.Flags().StringVar(&museumLang, "lang", "en", "Message language (en, de)")
	museumCmd.Flags().BoolVar(&museumDecode, "decode", false, "Decode the recorded ciphertext instead of encoding")
	museumCmd.Flags().BoolVar(&museumTUI, "tui", true, "Show the dashboard (false prints the log)")
	museumCmd.Flags().BoolVar(&museumWeb, "web", false, "Serve the status pages (default from web_server_enabled)")
	museumCmd.Flags().IntVar(&museumWebPort, "web-port", 0, "Status server port (default from web_server_port)")
	museumCmd.Flags().StringVar(&museumCorpus, "corpus", "", "Corpus file (default from --lang)")
	museumCmd.Flags().StringVar(&museumSlidesDir, "slides-dir", "slides", "Slides directory")
}

func runMuseum(cmd *cobra.Command, args []string) error {
	lang, err := corpus.ParseLanguage(museumLang)
	if err != nil {
		return err
	}
	mode := enigma.ModeEncode
	if museumDecode {
		mode = enigma.ModeDecode
	}
	path := museumCorpus
	if path == "" {
		path = lang.CorpusFile()
	}
	entries, err := corpus.LoadValid(path)
	if err != nil {
		return fmt.Errorf("corpus %s: %w (run \"enigmatouch generate %s\" first)", path, err, lang)
	}

	// The dashboard needs a terminal; redirected output gets the text log
	useTUI := museumTUI && term.IsTerminal(int(os.Stdout.Fd()))

	logger, closeLog, err := newLogger(useTUI)
	if err != nil {
		return err
	}
	defer closeLog()

	s, err := openSession(logger, false)
	if err != nil {
		return err
	}
	defer s.Close()
	if s.sim != nil {
		s.sim.SetScripts(simulatorScripts(entries))
	}

	cur := s.settings
	opts := museum.DefaultOptions(mode)
	opts.Delay = cur.Delay()
	opts.CharacterDelay = cur.CharacterDelay()
	opts.GroupSize = cur.WordGroupSize
	opts.Simulated = s.sim != nil
	if cur.EnableSlides {
		opts.Slides = &museum.SlideResolver{Dir: museumSlidesDir}
	}

	sched, err := museum.New(s.engine, entries, opts, s.bus, logging.WithComponent(logger, "museum"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()
	observe(ctx, s.bus, reg.Run)
	observe(ctx, s.bus, func(ctx context.Context, ch <-chan events.Event) {
		persistMode(ctx, ch, s.store, cur, logger)
	})

	if museumWeb || (!cmd.Flags().Changed("web") && cur.WebServerEnabled) {
		port := museumWebPort
		if port == 0 {
			port = cur.WebServerPort
		}
		srv, err := status.New(status.Config{
			Addr:      fmt.Sprintf(":%d", port),
			Username:  os.Getenv(webUserEnv),
			Password:  os.Getenv(webPasswordEnv),
			SlidesDir: slidesDir(cur),
		}, sched, reg, logging.WithComponent(logger, "status"))
		if err != nil {
			return err
		}
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		observe(ctx, s.bus, srv.Push)
	}

	if mqttBroker != "" {
		pub, err := publish.New(publish.Config{
			BrokerURL:   mqttBroker,
			TopicPrefix: mqttPrefix,
		}, sched, logger)
		if err != nil {
			return err
		}
		if err := pub.Connect(ctx); err != nil {
			logger.Warn().Err(err).Msg("MQTT broker not reachable, retrying in the background")
		}
		defer pub.Disconnect()
		observe(ctx, s.bus, pub.Run)
	}

	if useTUI {
		return runMuseumTUI(ctx, stop, s, sched)
	}
	return runMuseumText(ctx, s, sched)
}

// observe subscribes fn to the bus for the lifetime of ctx
func observe(ctx context.Context, bus *events.Bus, fn func(context.Context, <-chan events.Event)) {
	ch, cancel := bus.Subscribe(256)
	go func() {
		<-ctx.Done()
		cancel()
	}()
	go fn(ctx, ch)
}

// persistMode writes the function mode on every change. The cipher settings
// of demonstration messages are never saved.
func persistMode(ctx context.Context, ch <-chan events.Event, store *settings.Store, cur settings.Settings, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			mc, isMode := ev.(events.ModeChanged)
			if !isMode {
				continue
			}
			cur.FunctionMode = mc.To.String()
			if err := store.SavePreservingCipherConfig(cur); err != nil {
				logger.Warn().Err(err).Msg("Failed to save function mode")
			}
		}
	}
}

func slidesDir(cur settings.Settings) string {
	if !cur.EnableSlides {
		return ""
	}
	if _, err := os.Stat(museumSlidesDir); err != nil {
		return ""
	}
	return museumSlidesDir
}

// simulatorScripts lets the software device answer corpus messages with
// their recorded ciphertext
func simulatorScripts(entries []corpus.Entry) []simulator.Script {
	scripts := make([]simulator.Script, len(entries))
	for i, e := range entries {
		scripts[i] = simulator.Script{Config: e.DeviceConfig(), Plain: e.Message, Coded: e.Coded}
	}
	return scripts
}

// runMuseumText runs the scheduler in the foreground and prints its log
func runMuseumText(ctx context.Context, s *session, sched *museum.Scheduler) error {
	ch, cancel := s.bus.Subscribe(256)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			if line, ok := ev.(events.LogLine); ok {
				prefix := ""
				if line.IsError {
					prefix = "ERROR "
				}
				fmt.Printf("%s %s%s\n", line.At.Format("15:04:05"), prefix, line.Message)
			}
		}
	}()

	fmt.Printf("Enigma Museum - %s\n", s.info)
	fmt.Printf("Press Ctrl+C to exit\n\n")
	err := sched.Run(ctx)
	cancel()
	<-done
	return err
}
