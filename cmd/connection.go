// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/Thermoquad/enigmatouch/pkg/client"
	"github.com/Thermoquad/enigmatouch/pkg/events"
	"github.com/Thermoquad/enigmatouch/pkg/exchange"
	"github.com/Thermoquad/enigmatouch/pkg/logging"
	"github.com/Thermoquad/enigmatouch/pkg/settings"
	"github.com/Thermoquad/enigmatouch/pkg/simulator"
	"github.com/Thermoquad/enigmatouch/pkg/transport"
)

// passwordEnv holds the bridge password so it never appears in shell history
const passwordEnv = "ENIGMA_PASSWORD"

// GetPassword retrieves the bridge password from the environment or prompts for it
func GetPassword() (string, error) {
	if pw := os.Getenv(passwordEnv); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Not a terminal, read a plain line
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// newLogger builds the command logger. A full-screen TUI owns the terminal,
// so its logs go to --log-file instead.
func newLogger(fullscreen bool) (zerolog.Logger, func(), error) {
	if !fullscreen {
		return logging.New(logLevel, logFormat, os.Stderr), func() {}, nil
	}
	f, err := logging.OpenFile(logFile)
	if err != nil {
		return zerolog.Nop(), func() {}, err
	}
	return logging.New(logLevel, logging.FormatJSON, f), func() { f.Close() }, nil
}

//////////////////////////////////////////////////////////////
// Session
//////////////////////////////////////////////////////////////

// session bundles the device stack every device command uses. It must be
// driven from a single goroutine.
type session struct {
	store    *settings.Store
	settings settings.Settings
	bus      *events.Bus
	tr       *transport.Transport
	client   *client.Client
	engine   *exchange.Engine
	sim      *simulator.Device // nil unless --simulate
	info     string
	logger   zerolog.Logger
}

// loadSettings reads the settings file. --port overrides the saved device.
func loadSettings(logger zerolog.Logger) (*settings.Store, settings.Settings, error) {
	store := settings.NewStore(configPath, logging.WithComponent(logger, "settings"))
	cur, err := store.Load()
	if err != nil {
		return nil, cur, err
	}
	if portName != "" {
		cur.Device = portName
	}
	return store, cur, nil
}

// newDialer picks the port named by the flags
func newDialer(cur settings.Settings) (transport.Dialer, *simulator.Device, string, error) {
	if simulate {
		dev := simulator.New(cur.Config)
		return dev.Dialer(), dev, "Simulated Enigma Touch", nil
	}

	if wsURL != "" {
		password := ""
		if wsUsername != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, nil, "", err
			}
		}
		return transport.WebSocketDialer(wsURL, wsUsername, password, wsNoSSLVerify), nil,
			fmt.Sprintf("WebSocket: %s", wsURL), nil
	}

	if cur.Device == "" {
		return nil, nil, "", fmt.Errorf("no device: use --port, --url or --simulate")
	}
	return transport.SerialDialer(cur.Device, baudRate), nil,
		fmt.Sprintf("Serial: %s @ %d baud", cur.Device, baudRate), nil
}

// openSession loads the settings and builds the device stack. With connect
// set the port is opened before returning. tune adjusts the link timings.
func openSession(logger zerolog.Logger, connect bool, tune ...func(*transport.Timing)) (*session, error) {
	store, cur, err := loadSettings(logger)
	if err != nil {
		return nil, err
	}

	dial, sim, info, err := newDialer(cur)
	if err != nil {
		return nil, err
	}

	timing := transport.DefaultTiming()
	opts := exchange.DefaultOptions()
	if sim != nil {
		timing.OpenSettle = 0
	}
	for _, fn := range tune {
		fn(&timing)
	}

	s := &session{
		store:    store,
		settings: cur,
		bus:      events.NewBus(),
		sim:      sim,
		info:     info,
		logger:   logger,
	}
	s.tr = transport.New(dial, timing, logging.WithComponent(logger, "transport"))
	s.tr.SetObserver(wireLogger(logging.WithComponent(logger, "wire")))
	s.client = client.New(s.tr, cur.Config, s.bus, logging.WithComponent(logger, "client"))
	s.engine = exchange.New(s.client, s.bus, opts, logging.WithComponent(logger, "exchange"))

	if connect {
		if err := s.tr.Open(); err != nil {
			return nil, fmt.Errorf("failed to connect (%s): %w", info, err)
		}
	}
	return s, nil
}

// Close closes the port
func (s *session) Close() {
	s.tr.Close()
}

// wireLogger logs raw traffic at debug level
func wireLogger(logger zerolog.Logger) func(transport.Direction, []byte) {
	return func(d transport.Direction, data []byte) {
		if logger.GetLevel() > zerolog.DebugLevel {
			return
		}
		text := strings.TrimRight(string(data), "\r\n")
		if text == "" {
			return
		}
		q := strconv.Quote(text)
		logger.Debug().Msg(d.String() + " " + q[1:len(q)-1])
	}
}

// confirm asks a yes/no question on stdin
func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
