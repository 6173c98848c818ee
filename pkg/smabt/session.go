// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package smabt

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// CommandKind classifies a session command
type CommandKind uint8

// Command kinds
const (
	KindLogOn CommandKind = iota + 1
	KindLogOff
	KindData
)

// String returns the kind name
func (k CommandKind) String() string {
	switch k {
	case KindLogOn:
		return "LOGON"
	case KindLogOff:
		return "LOGOFF"
	case KindData:
		return "DATA"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(k))
	}
}

// Command is the session command: a 16-bit opcode and three group bytes.
type Command struct {
	Opcode uint16
	Group  [3]byte
}

// Session opcodes
const (
	OpcodeSession    = 0xFFFD
	OpcodeDataLong   = 0x5400
	OpcodeDataInt    = 0x5100
	groupResponseBit = 0x01
)

// Session commands
var (
	CommandLogOff = Command{Opcode: OpcodeSession, Group: [3]byte{0x80, 0x0E, 0x01}}
	CommandLogOn  = Command{Opcode: OpcodeSession, Group: [3]byte{0x80, 0x0C, 0x04}}
	dataGroup     = [3]byte{0x80, 0x00, 0x02}
)

// Response returns the form of the command the inverter uses to reply
func (c Command) Response() Command {
	c.Group[1] |= groupResponseBit
	return c
}

// IsResponse reports whether the inverter marked the command as a reply
func (c Command) IsResponse() bool {
	return c.Group[1]&groupResponseBit != 0
}

// Kind classifies the command. Combinations outside the known set return
// ErrUnrecognizedCommand.
func (c Command) Kind() (CommandKind, error) {
	group := c.Group
	group[1] &^= groupResponseBit

	switch {
	case c.Opcode == OpcodeSession && group == CommandLogOff.Group:
		return KindLogOff, nil
	case c.Opcode == OpcodeSession && group == CommandLogOn.Group:
		return KindLogOn, nil
	case (c.Opcode == OpcodeDataLong || c.Opcode == OpcodeDataInt) && group == dataGroup:
		return KindData, nil
	}
	return 0, fmt.Errorf("%w: session command %s", ErrUnrecognizedCommand, c)
}

// String formats the command as "OPCODE G1 G2 G3"
func (c Command) String() string {
	return fmt.Sprintf("%04X %02X %02X %02X", c.Opcode, c.Group[0], c.Group[1], c.Group[2])
}

// QueryType selects a block of inverter registers for a data request
type QueryType uint8

// Query types
const (
	QueryProduction QueryType = iota + 1
	QuerySpotACPower
	QuerySpotACFrequency
	QueryOperationTime
)

// QueryTypes lists every query type in request order
var QueryTypes = []QueryType{QueryProduction, QuerySpotACPower, QuerySpotACFrequency, QueryOperationTime}

// ParseQueryType accepts the names returned by QueryType.String, case-insensitively
func ParseQueryType(s string) (QueryType, error) {
	for _, q := range QueryTypes {
		if strings.EqualFold(s, q.String()) {
			return q, nil
		}
	}
	return 0, fmt.Errorf("unknown query type %q", s)
}

// String returns the query name
func (q QueryType) String() string {
	switch q {
	case QueryProduction:
		return "production"
	case QuerySpotACPower:
		return "spot_ac_power"
	case QuerySpotACFrequency:
		return "spot_ac_frequency"
	case QueryOperationTime:
		return "operation_time"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(q))
	}
}

// Command returns the data command used for the query
func (q QueryType) Command() Command {
	switch q {
	case QuerySpotACPower, QuerySpotACFrequency:
		return Command{Opcode: OpcodeDataInt, Group: dataGroup}
	default:
		return Command{Opcode: OpcodeDataLong, Group: dataGroup}
	}
}

// RequestQuery identifies the query type of a data request from its command
// and requested register range
func RequestQuery(p *SessionPacket) (QueryType, bool) {
	if p.Command.IsResponse() || len(p.Payload) < 8 {
		return 0, false
	}
	start := binary.LittleEndian.Uint32(p.Payload[0:4])
	end := binary.LittleEndian.Uint32(p.Payload[4:8])
	for _, q := range QueryTypes {
		qs, qe := q.Range()
		if q.Command() == p.Command && qs == start && qe == end {
			return q, true
		}
	}
	return 0, false
}

// Range returns the inclusive register range requested by the query
func (q QueryType) Range() (start, end uint32) {
	switch q {
	case QueryProduction:
		return 0x00260100, 0x002622FF
	case QuerySpotACPower:
		return 0x00263F00, 0x00263FFF
	case QuerySpotACFrequency:
		return 0x00465700, 0x004657FF
	case QueryOperationTime:
		return 0x00462E00, 0x00462FFF
	default:
		return 0, 0
	}
}

// SessionPacket is a decoded L2 packet together with the addresses of the link
// packet that carried it. Header bytes without known meaning are kept as-is so
// that a decoded packet re-encodes to the captured bytes.
type SessionPacket struct {
	LinkSource      Address
	LinkDestination Address

	DestinationHeader byte
	Destination       Address
	SourceHeader      byte
	Source            Address

	RequestCode    byte
	Acknowledge    byte
	ResponseCode   byte
	TelegramNumber byte
	Reserved       byte
	Counter        byte

	Command Command
	Payload []byte
}

// sessionLengthField is the header length byte for a payload of n bytes
func sessionLengthField(n int) byte {
	return byte((n+3)/4 + 7)
}

// Content returns the unframed session bytes: header followed by payload.
func (p *SessionPacket) Content() []byte {
	buf := make([]byte, SessionHeaderSize+len(p.Payload))
	binary.LittleEndian.PutUint32(buf[0:4], SessionProtocol)
	buf[4] = sessionLengthField(len(p.Payload))
	buf[5] = p.DestinationHeader
	putAddress(buf[6:12], p.Destination)
	buf[12] = 0
	buf[13] = p.SourceHeader
	putAddress(buf[14:20], p.Source)
	buf[20] = 0
	buf[21] = p.RequestCode
	buf[22] = p.Acknowledge
	buf[23] = p.ResponseCode
	buf[24] = p.TelegramNumber
	buf[25] = p.Reserved
	buf[26] = p.Counter
	copy(buf[27:30], p.Command.Group[:])
	binary.LittleEndian.PutUint16(buf[30:32], p.Command.Opcode)
	copy(buf[SessionHeaderSize:], p.Payload)
	return buf
}

// LinkPacket wraps the framed session bytes in an L2_PACKET link packet
func (p *SessionPacket) LinkPacket() *LinkPacket {
	return &LinkPacket{
		Source:      p.LinkSource,
		Destination: p.LinkDestination,
		Command:     LinkL2Packet,
		Data:        EncodeFrame(p.Content()),
	}
}

// EncodeSessionPacket serializes a session packet to link packet wire bytes
func EncodeSessionPacket(p *SessionPacket) ([]byte, error) {
	return EncodeLinkPacket(p.LinkPacket())
}

// DecodeSessionPacket decodes the session packet carried by an L2_PACKET link
// packet. Fragmented packets must be joined with an Assembler first.
func DecodeSessionPacket(link *LinkPacket) (*SessionPacket, error) {
	if link.Command != LinkL2Packet {
		return nil, fmt.Errorf("%w: %s does not carry a session packet", ErrFraming, link.Command)
	}

	content, _, err := DecodeFrame(link.Data)
	if err != nil {
		return nil, err
	}

	p, err := parseSessionContent(content)
	if err != nil {
		return nil, err
	}
	p.LinkSource = link.Source
	p.LinkDestination = link.Destination
	return p, nil
}

// parseSessionContent decodes unframed session bytes
func parseSessionContent(content []byte) (*SessionPacket, error) {
	if len(content) < SessionHeaderSize {
		return nil, fmt.Errorf("%w: session header needs %d bytes, have %d", ErrFraming, SessionHeaderSize, len(content))
	}
	if proto := binary.LittleEndian.Uint32(content[0:4]); proto != SessionProtocol {
		return nil, fmt.Errorf("%w: session protocol 0x%08X", ErrFraming, proto)
	}

	cmd := Command{Opcode: binary.LittleEndian.Uint16(content[30:32])}
	copy(cmd.Group[:], content[27:30])
	if _, err := cmd.Kind(); err != nil {
		return nil, err
	}

	payload := make([]byte, len(content)-SessionHeaderSize)
	copy(payload, content[SessionHeaderSize:])

	return &SessionPacket{
		DestinationHeader: content[5],
		Destination:       readAddress(content[6:12]),
		SourceHeader:      content[13],
		Source:            readAddress(content[14:20]),
		RequestCode:       content[21],
		Acknowledge:       content[22],
		ResponseCode:      content[23],
		TelegramNumber:    content[24],
		Reserved:          content[25],
		Counter:           content[26],
		Command:           cmd,
		Payload:           payload,
	}, nil
}
