// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/carlmjohnson/versioninfo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/smastat/internal/config"
	"github.com/Thermoquad/smastat/internal/logging"
)

var (
	cfgFile string

	// Loaded before every command runs
	cfg    *config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "smastat",
	Short: "SMA Bluetooth Inverter Protocol Analyzer",
	Long: `Smastat - A CLI tool for talking to SMA solar inverters over their
Bluetooth protocol and analyzing the packets they send.

Provides commands for raw packet logging, offline decoding of captures, a
one-shot poll of the inverter's production counters, and a live monitor.

Connection modes:
  Serial:    --port /dev/rfcomm0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

Every flag can also be set in smastat.yaml or through SMASTAT_* environment
variables (for example SMASTAT_INVERTER_ADDRESS). The inverter password is
read from SMASTAT_PASSWORD, or prompted interactively if not set. A --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:       versioninfo.Short(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return err
		}
		cfg = loaded
		logger = logging.New(cfg.Logging)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ./smastat.yaml)")

	// Serial connection flags
	rootCmd.PersistentFlags().StringP("port", "p", "", "Serial port device (e.g. an RFCOMM tty)")
	rootCmd.PersistentFlags().IntP("baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringP("url", "u", "", "WebSocket bridge URL (ws:// or wss://)")
	rootCmd.PersistentFlags().String("username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Inverter
	rootCmd.PersistentFlags().String("inverter", "", "Inverter Bluetooth address, e.g. 00:80:25:29:EC:47 (learned from the handshake if empty)")
	rootCmd.PersistentFlags().String("client", "", "Local Bluetooth adapter address sent in requests")

	// Logging
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "Log format (console or json)")
	rootCmd.PersistentFlags().String("log-file", "", "Also write logs to this file, rotated")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
