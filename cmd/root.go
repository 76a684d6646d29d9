// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Thermoquad/enigmatouch/pkg/enigma"
	"github.com/Thermoquad/enigmatouch/pkg/logging"
	"github.com/Thermoquad/enigmatouch/pkg/settings"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Settings and simulation
	configPath string
	simulate   bool

	// Logging flags
	logLevel  string
	logFormat string
	logFile   string

	// Publishing
	mqttBroker string
	mqttPrefix string
)

var rootCmd = &cobra.Command{
	Use:   "enigmatouch",
	Short: "Enigma Touch serial controller",
	Long: `enigmatouch - A CLI tool for configuring and driving an Enigma Touch.

Provides commands to query and change device settings, encode messages,
generate message corpora and run the unattended museum demonstration.

Connection modes:
  Serial:    --port /dev/ttyACM0 [--baud 9600]
  WebSocket: --url ws://host/path [--username user]
  Simulated: --simulate

When --port is not given the device path comes from the settings file.
For WebSocket authentication, the password is read from the ENIGMA_PASSWORD
environment variable, or prompted interactively if not set.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device (default from settings)")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", enigma.BaudRate, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket bridge URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", settings.DefaultFile, "Settings file")
	rootCmd.PersistentFlags().BoolVar(&simulate, "simulate", false, "Use the built-in software device")

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", logging.FormatConsole, "Log format (console, json)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "enigmatouch.log", "Log file used while a full-screen TUI runs")

	rootCmd.PersistentFlags().StringVar(&mqttBroker, "mqtt-broker", "", "Publish events to this MQTT broker (tcp://host:1883)")
	rootCmd.PersistentFlags().StringVar(&mqttPrefix, "mqtt-prefix", "enigmatouch", "MQTT topic prefix")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
