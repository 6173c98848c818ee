// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/smastat/pkg/capture"
	"github.com/Thermoquad/smastat/pkg/smabt"
)

var (
	replayDirection string
	replayStats     bool
)

var replayCmd = &cobra.Command{
	Use:   "replay FILE",
	Short: "Decode a capture file recorded with --record",
	Long: `Decode the traffic stored in a capture file offline.

Received and transmitted bytes are decoded as separate streams, so fragments
from one side never mix with the other. Each packet is printed with the time
it was captured and its direction, followed by statistics for the whole file.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().StringVar(&replayDirection, "direction", "", "Only show one direction (rx or tx)")
	replayCmd.Flags().BoolVar(&replayStats, "stats", true, "Print statistics at the end")
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	records, err := capture.ReadAll(f)
	if err != nil {
		return err
	}

	only, err := parseDirection(replayDirection)
	if err != nil {
		return err
	}

	stats := replay(records, only, os.Stdout)
	if replayStats {
		fmt.Println()
		fmt.Print(stats.String())
	}
	return nil
}

// parseDirection maps a --direction value to a filter; nil shows both
func parseDirection(s string) (*capture.Direction, error) {
	var d capture.Direction
	switch s {
	case "":
		return nil, nil
	case "rx":
		d = capture.DirectionRx
	case "tx":
		d = capture.DirectionTx
	default:
		return nil, fmt.Errorf("unknown direction %q (use rx or tx)", s)
	}
	return &d, nil
}

// replay decodes records and prints the packets they contain
func replay(records []capture.Record, only *capture.Direction, w io.Writer) *smabt.Statistics {
	stats := smabt.NewStatistics()
	streams := map[capture.Direction]*packetStream{
		capture.DirectionRx: newPacketStream(),
		capture.DirectionTx: newPacketStream(),
	}

	for _, rec := range records {
		if only != nil && rec.Direction != *only {
			continue
		}
		stream, ok := streams[rec.Direction]
		if !ok {
			continue
		}
		for _, ev := range stream.Feed(rec.Data) {
			ev.update(stats)
			fmt.Fprintf(w, "[%s] %s ", rec.Time().Format("15:04:05.000"), rec.Direction)
			fmt.Fprint(w, ev.format())
		}
	}
	return stats
}
