// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package smabt

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Request builders create the packets a client sends to an inverter.
// Header bytes are fixed per request type and must match exactly; inverters
// ignore packets that deviate. Counter is left at zero.

// NewHandshakeReply creates the HANDSHAKE_2 link packet that answers the
// inverter's HANDSHAKE_1. The handshake data is echoed back unchanged.
func NewHandshakeReply(inverter Address, hs1 *LinkPacket) *LinkPacket {
	data := make([]byte, len(hs1.Data))
	copy(data, hs1.Data)
	return &LinkPacket{
		Source:      AddressBroadcast,
		Destination: inverter,
		Command:     LinkHandshake2,
		Data:        data,
	}
}

// NewLogOff creates a LOGOFF session packet (0xFFFD 80 0E 01).
// The payload is a single all-ones word.
func NewLogOff(source Address) *SessionPacket {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, LogOffSentinel)

	return &SessionPacket{
		LinkSource:        AddressBroadcast,
		LinkDestination:   AddressUnknown,
		DestinationHeader: DestinationHeaderRequest,
		Destination:       AddressUnknown,
		SourceHeader:      SourceHeaderLogOff,
		Source:            source,
		RequestCode:       RequestCodeLogOff,
		Command:           CommandLogOff,
		Payload:           payload,
	}
}

// NewLogOn creates a LOGON session packet (0xFFFD 80 0C 04).
// Payload: user group, session timeout, now as Unix seconds, a zero word, then
// the password XORed with 0x88 and padded with 0x88 to 12 bytes.
// Returns ErrPasswordTooLong for passwords over 12 bytes.
func NewLogOn(source Address, password string, now time.Time) (*SessionPacket, error) {
	if len(password) > PasswordSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPasswordTooLong, len(password), PasswordSize)
	}

	payload := make([]byte, 16+PasswordSize)
	binary.LittleEndian.PutUint32(payload[0:4], LogOnUserGroup)
	binary.LittleEndian.PutUint32(payload[4:8], LogOnSessionTimeout)
	binary.LittleEndian.PutUint32(payload[8:12], uint32(now.Unix()))
	binary.LittleEndian.PutUint32(payload[12:16], 0)
	for i := 0; i < PasswordSize; i++ {
		b := byte(0)
		if i < len(password) {
			b = password[i]
		}
		payload[16+i] = b ^ PasswordXor
	}

	return &SessionPacket{
		LinkSource:        AddressBroadcast,
		LinkDestination:   AddressUnknown,
		DestinationHeader: DestinationHeaderRequest,
		Destination:       AddressUnknown,
		SourceHeader:      SourceHeaderLogOn,
		Source:            source,
		RequestCode:       RequestCodeLogOn,
		Command:           CommandLogOn,
		Payload:           payload,
	}, nil
}

// NewDataRequest creates a DATA session packet for the given query.
// The link packet goes from broadcast to the inverter, the session packet from
// the client to the unknown address. Payload: range start, range end.
func NewDataRequest(client, inverter Address, query QueryType) *SessionPacket {
	start, end := query.Range()
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint32(payload[0:4], start)
	binary.LittleEndian.PutUint32(payload[4:8], end)

	return &SessionPacket{
		LinkSource:        AddressBroadcast,
		LinkDestination:   inverter,
		DestinationHeader: DestinationHeaderRequest,
		Destination:       AddressUnknown,
		SourceHeader:      SourceHeaderData,
		Source:            client,
		Command:           query.Command(),
		Payload:           payload,
	}
}

// DecodePassword reverses the password block of a LOGON payload.
// Trailing padding is dropped.
func DecodePassword(payload []byte) (string, error) {
	if len(payload) < 16+PasswordSize {
		return "", fmt.Errorf("%w: logon payload of %d bytes", ErrDecodeShape, len(payload))
	}
	block := payload[16 : 16+PasswordSize]
	out := make([]byte, 0, PasswordSize)
	for _, b := range block {
		if b == PasswordXor {
			break
		}
		out = append(out, b^PasswordXor)
	}
	return string(out), nil
}
