// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Smastat - SMA Bluetooth Inverter Protocol Analyzer
//
// A CLI tool for polling SMA solar inverters over Bluetooth and decoding
// their protocol packets in human-readable format.

package main

import (
	"fmt"
	"os"

	"github.com/Thermoquad/smastat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
