// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Thermoquad/jackstat/pkg/config"
	"github.com/Thermoquad/jackstat/pkg/monitoring"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Process flags
	configPath string
	logFile    string
	verbose    bool

	// tuning is loaded before any subcommand runs
	tuning = config.Default()
)

// Log rotation limits for --log-file
const (
	logMaxSizeMB  = 20
	logMaxBackups = 5
	logMaxAgeDays = 14
)

var rootCmd = &cobra.Command{
	Use:   "jackstat",
	Short: "Jacking rig supervisor",
	Long: `Jackstat - supervisor for a twelve leg jacking rig.

Runs the closed-loop descent controller against simulated or serial actuator
controllers and provides link diagnostics for the actuator protocol.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

Tuning is read from a YAML file given with --config. Flags override file
values.

For WebSocket authentication, the password is read from the JACKSTAT_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Tuning file (.yaml)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to a rotating file instead of stderr")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging and frame dumps")
}

// setup loads the tuning file and routes logging before a command runs.
func setup(cmd *cobra.Command, args []string) error {
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		tuning = loaded
	}
	if cmd.Flags().Changed("baud") || configPath == "" {
		tuning.Link.Port.BaudRate = baudRate
	} else {
		baudRate = tuning.Link.Port.BaudRate
	}

	var out io.Writer = os.Stderr
	if logFile != "" {
		out = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    logMaxSizeMB,
			MaxBackups: logMaxBackups,
			MaxAge:     logMaxAgeDays,
		}
	}
	log.SetOutput(out)
	monitoring.SetOutput(out)
	monitoring.SetDebug(verbose)

	if err := tuning.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
