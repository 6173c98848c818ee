// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/smastat/pkg/smabt"
)

var (
	packetTestTimeout int
)

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test connection by waiting for a valid link packet",
	Long: `Wait for a valid SMA link packet on the connection until timeout.

This command connects to a serial port or WebSocket and waits for any valid
link packet. It ignores invalid bytes and waits for a complete packet with a
correct header check. An inverter that has just been connected announces
itself with a handshake packet, so this is a quick reachability test.

Exit codes:
  0 - Packet received before timeout
  1 - Timeout reached without receiving a valid packet
  2 - Connection error`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "timeout", 10, "Timeout in seconds to wait for a packet")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection(cmd.Context())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Smastat - Packet Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", packetTestTimeout)
	fmt.Printf("Waiting for valid link packet...\n\n")

	decoder := smabt.NewDecoder()

	packetChan := make(chan *smabt.LinkPacket, 1)
	errChan := make(chan error, 1)

	go func() {
		buf := make([]byte, 128)
		invalid := 0
		for {
			n, err := conn.Read(buf)
			if err != nil {
				errChan <- err
				return
			}

			for i := 0; i < n; i++ {
				packet, decodeErr := decoder.DecodeByte(buf[i])
				if decodeErr != nil {
					invalid++
					continue
				}
				if packet != nil {
					if invalid > 0 {
						fmt.Printf("(skipped %d decode errors before sync)\n", invalid)
					}
					packetChan <- packet
					return
				}
			}
		}
	}()

	select {
	case packet := <-packetChan:
		fmt.Printf("SUCCESS: Received valid packet\n")
		fmt.Printf("  Command: %s (0x%02X)\n", packet.Command, uint16(packet.Command))
		fmt.Printf("  Source: %s\n", packet.Source)
		fmt.Printf("  Destination: %s\n", packet.Destination)
		fmt.Printf("  Length: %d bytes\n", packet.Length())
		os.Exit(0)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-time.After(time.Duration(packetTestTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid packet received within %d seconds\n", packetTestTimeout)
		os.Exit(1)
	}

	return nil
}
