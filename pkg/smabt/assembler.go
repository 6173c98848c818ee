// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package smabt

import "fmt"

// Assembler joins session frames that the inverter split over several link
// packets. Fragments arrive as L2_PACKET_PART and the last one as L2_PACKET.
type Assembler struct {
	parts []byte
	count int
}

// NewAssembler creates an empty assembler
func NewAssembler() *Assembler {
	return &Assembler{parts: make([]byte, 0, MaxLinkPacketSize)}
}

// Reset drops any buffered fragments
func (a *Assembler) Reset() {
	a.parts = a.parts[:0]
	a.count = 0
}

// Pending returns the number of buffered fragments
func (a *Assembler) Pending() int {
	return a.count
}

// Add feeds a link packet to the assembler. It returns the decoded session
// packet once the final fragment arrives, and nil for fragments and for link
// packets that do not carry session data. A decode error discards the
// buffered fragments.
func (a *Assembler) Add(link *LinkPacket) (*SessionPacket, error) {
	switch link.Command {
	case LinkL2PacketPart:
		if len(a.parts)+len(link.Data) > MaxFrameScan {
			a.Reset()
			return nil, fmt.Errorf("%w: fragmented session frame exceeds %d bytes", ErrFraming, MaxFrameScan)
		}
		a.parts = append(a.parts, link.Data...)
		a.count++
		return nil, nil

	case LinkL2Packet:
		if a.count == 0 {
			return DecodeSessionPacket(link)
		}
		data := make([]byte, 0, len(a.parts)+len(link.Data))
		data = append(data, a.parts...)
		data = append(data, link.Data...)
		a.Reset()
		return DecodeSessionPacket(&LinkPacket{
			Source:      link.Source,
			Destination: link.Destination,
			Command:     LinkL2Packet,
			Data:        data,
		})

	default:
		return nil, nil
	}
}
