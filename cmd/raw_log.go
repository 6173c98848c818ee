// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rawLogRecord string

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw packet log in human-readable format",
	Long: `Continuously decode and display SMA Bluetooth packets as they arrive.

Each link packet is printed with its command and addresses. Session packets
are reassembled from fragments and printed with their header fields, and data
responses are decoded into values.

Use --record to also write the raw traffic to a capture file that the replay
command can decode later.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().StringVar(&rawLogRecord, "record", "", "Write received bytes to this capture file")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	cn, err := newConnector(cfg.Connection)
	if err != nil {
		return err
	}
	stopRecording, err := startRecording(cn, rawLogRecord)
	if err != nil {
		return err
	}
	defer stopRecording()

	conn, err := cn.Open(cmd.Context())
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Smastat - Raw Packet Log\n")
	fmt.Printf("Connection: %s\n", cn.Describe())
	fmt.Printf("Press Ctrl+C to exit\n\n")

	return logPackets(conn, os.Stdout)
}

// logPackets prints every packet read from r until it fails
func logPackets(r io.Reader, w io.Writer) error {
	stream := newPacketStream()
	buf := make([]byte, 256)

	for {
		n, err := r.Read(buf)
		for _, ev := range stream.Feed(buf[:n]) {
			fmt.Fprint(w, ev.format())
		}
		if err != nil {
			// For WebSocket connections, a read error usually means
			// the connection is permanently closed - exit gracefully
			if errors.Is(err, ErrConnectionClosed) || errors.Is(err, io.EOF) {
				logger.Info("Connection closed")
				return nil
			}
			logger.Error("Read error", zap.Error(err))
			return err
		}
	}
}
