// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package smabt

import (
	"encoding/binary"
	"fmt"
)

// LinkCommand identifies the payload of a link packet
type LinkCommand uint16

// Link commands. The first two handshake steps share a code; the direction
// tells them apart.
const (
	LinkL2Packet     LinkCommand = 0x01
	LinkHandshake1   LinkCommand = 0x02
	LinkHandshake2   LinkCommand = 0x02
	LinkRequest      LinkCommand = 0x03
	LinkResponse     LinkCommand = 0x04
	LinkHandshake5   LinkCommand = 0x05
	LinkError        LinkCommand = 0x07
	LinkL2PacketPart LinkCommand = 0x08
	LinkHandshake3   LinkCommand = 0x0A
	LinkHandshake4   LinkCommand = 0x0C
)

// ParseLinkCommand converts a wire code into a LinkCommand.
// Codes outside the known set return ErrUnrecognizedCommand.
func ParseLinkCommand(code uint16) (LinkCommand, error) {
	switch c := LinkCommand(code); c {
	case LinkL2Packet, LinkHandshake1, LinkRequest, LinkResponse, LinkHandshake5,
		LinkError, LinkL2PacketPart, LinkHandshake3, LinkHandshake4:
		return c, nil
	}
	return 0, fmt.Errorf("%w: link command 0x%04X", ErrUnrecognizedCommand, code)
}

// String returns the command name
func (c LinkCommand) String() string {
	switch c {
	case LinkL2Packet:
		return "L2_PACKET"
	case LinkHandshake1:
		return "HANDSHAKE_1_2"
	case LinkRequest:
		return "REQUEST"
	case LinkResponse:
		return "RESPONSE"
	case LinkHandshake5:
		return "HANDSHAKE_5"
	case LinkError:
		return "ERROR"
	case LinkL2PacketPart:
		return "L2_PACKET_PART"
	case LinkHandshake3:
		return "HANDSHAKE_3"
	case LinkHandshake4:
		return "HANDSHAKE_4"
	default:
		return fmt.Sprintf("UNKNOWN(0x%04X)", uint16(c))
	}
}

// LinkPacket is a decoded L1 packet.
// For L2_PACKET and L2_PACKET_PART commands Data holds byte-stuffed frame bytes.
type LinkPacket struct {
	Source      Address
	Destination Address
	Command     LinkCommand
	Data        []byte
}

// Length returns the value of the header length field for this packet
func (p *LinkPacket) Length() int {
	return LinkHeaderSize + len(p.Data)
}

// IsL2 returns true when the packet carries (part of) a session frame
func (p *LinkPacket) IsL2() bool {
	return p.Command == LinkL2Packet || p.Command == LinkL2PacketPart
}

// linkHeaderCheck computes the header check byte that follows the length field
func linkHeaderCheck(length uint16) byte {
	return Delimiter ^ byte(length) ^ byte(length>>8)
}

// EncodeLinkPacket serializes a link packet to wire bytes.
// The header is never byte-stuffed.
func EncodeLinkPacket(p *LinkPacket) ([]byte, error) {
	length := p.Length()
	if length > MaxLinkPacketSize {
		return nil, fmt.Errorf("%w: link packet of %d bytes exceeds %d", ErrFraming, length, MaxLinkPacketSize)
	}

	buf := make([]byte, length)
	buf[0] = Delimiter
	binary.LittleEndian.PutUint16(buf[1:3], uint16(length))
	buf[3] = linkHeaderCheck(uint16(length))
	putAddress(buf[4:10], p.Source)
	putAddress(buf[10:16], p.Destination)
	binary.LittleEndian.PutUint16(buf[16:18], uint16(p.Command))
	copy(buf[LinkHeaderSize:], p.Data)

	return buf, nil
}

// parseLinkHeader validates the first LinkHeaderSize bytes of buf and returns
// the declared packet length.
func parseLinkHeader(buf []byte) (int, error) {
	if len(buf) < LinkHeaderSize {
		return 0, fmt.Errorf("%w: link header needs %d bytes, have %d", ErrFraming, LinkHeaderSize, len(buf))
	}
	if buf[0] != Delimiter {
		return 0, fmt.Errorf("%w: link packet starts with 0x%02X", ErrFraming, buf[0])
	}
	length := binary.LittleEndian.Uint16(buf[1:3])
	if check := linkHeaderCheck(length); buf[3] != check {
		return 0, fmt.Errorf("%w: header check 0x%02X, expected 0x%02X", ErrFraming, buf[3], check)
	}
	if length < LinkHeaderSize || length > MaxLinkPacketSize {
		return 0, fmt.Errorf("%w: invalid link length %d", ErrFraming, length)
	}
	return int(length), nil
}

// ParseLinkPacket decodes one complete link packet. buf must hold exactly the
// number of bytes declared in the header.
func ParseLinkPacket(buf []byte) (*LinkPacket, error) {
	length, err := parseLinkHeader(buf)
	if err != nil {
		return nil, err
	}
	if len(buf) != length {
		return nil, fmt.Errorf("%w: link length %d, have %d bytes", ErrFraming, length, len(buf))
	}

	cmd, err := ParseLinkCommand(binary.LittleEndian.Uint16(buf[16:18]))
	if err != nil {
		return nil, err
	}

	data := make([]byte, length-LinkHeaderSize)
	copy(data, buf[LinkHeaderSize:])

	return &LinkPacket{
		Source:      readAddress(buf[4:10]),
		Destination: readAddress(buf[10:16]),
		Command:     cmd,
		Data:        data,
	}, nil
}
