// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var decodeCmd = &cobra.Command{
	Use:   "decode HEX...",
	Short: "Decode hex encoded packets",
	Long: `Decode link packets given as hex strings, for example copied from a
capture or a log line. Arguments are joined, and whitespace and colons are
ignored. Use - to read the hex from stdin.

Each link packet is printed, then the session packet it carries and, for
data responses, the decoded values and any anomalies.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)
}

func runDecode(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, "")
	if text == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		text = string(data)
	}

	data, err := parseHex(text)
	if err != nil {
		return err
	}

	events := decodeHex(data)
	if len(events) == 0 {
		return fmt.Errorf("no complete packet in %d bytes", len(data))
	}
	for _, ev := range events {
		fmt.Print(ev.format())
	}
	return nil
}

// parseHex decodes hex text, ignoring whitespace, colons and a 0x prefix
func parseHex(text string) ([]byte, error) {
	text = strings.TrimPrefix(strings.TrimSpace(text), "0x")
	text = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', ':':
			return -1
		}
		return r
	}, text)

	data, err := hex.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return data, nil
}

func decodeHex(data []byte) []streamEvent {
	return newPacketStream().Feed(data)
}
