// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package smabt

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// FormatHex returns data as contiguous uppercase hex
func FormatHex(data []byte) string {
	return strings.ToUpper(hex.EncodeToString(data))
}

// HexDump formats data as uppercase hex in space separated groups of four bytes
func HexDump(data []byte) string {
	var sb strings.Builder
	for i := 0; i < len(data); i += 4 {
		if i > 0 {
			sb.WriteByte(' ')
		}
		end := min(i+4, len(data))
		sb.WriteString(FormatHex(data[i:end]))
	}
	return sb.String()
}

// FormatLinkPacket formats a link packet into a human-readable string
func FormatLinkPacket(p *LinkPacket) string {
	result := fmt.Sprintf("L1 %s (0x%02X) %s -> %s len=%d\n",
		p.Command, uint16(p.Command), p.Source, p.Destination, p.Length())
	if len(p.Data) > 0 {
		result += fmt.Sprintf("  Data: %s\n", HexDump(p.Data))
	}
	return result
}

// FormatSessionPacket formats a session packet, including decoded elements
// for data responses.
func FormatSessionPacket(p *SessionPacket) string {
	kind := "UNKNOWN"
	if k, err := p.Command.Kind(); err == nil {
		kind = k.String()
	}
	direction := "request"
	if p.Command.IsResponse() {
		direction = "response"
	}

	result := fmt.Sprintf("L2 %s %s [%s] link %s -> %s, session %s(%02X) -> %s(%02X)\n",
		kind, direction, p.Command, p.LinkSource, p.LinkDestination,
		p.Source, p.SourceHeader, p.Destination, p.DestinationHeader)
	result += fmt.Sprintf("  req=%02X ack=%02X resp=%02X telegram=%02X counter=%02X\n",
		p.RequestCode, p.Acknowledge, p.ResponseCode, p.TelegramNumber, p.Counter)

	if len(p.Payload) > 0 {
		result += fmt.Sprintf("  Payload: %s\n", HexDump(p.Payload))
	}

	if p.Command.IsResponse() {
		if k, _ := p.Command.Kind(); k == KindData {
			elements, err := DecodeDataResponse(p.Payload)
			if err != nil {
				result += fmt.Sprintf("  Decode error: %v\n", err)
			} else {
				result += FormatElements(elements)
			}
		}
	}

	return result
}

// FormatElements lists elements one per line, ordered by quantity code
func FormatElements(elements Elements) string {
	var sb strings.Builder
	for _, q := range elements.Quantities() {
		sb.WriteString("  ")
		sb.WriteString(elements[q].String())
		sb.WriteByte('\n')
	}
	return sb.String()
}
