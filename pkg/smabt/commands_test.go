// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package smabt

import (
	"encoding/binary"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Captured requests carry the sender's counter and, for spot queries, an
// 0xA1 destination header. Builders leave both at their defaults, so the tests
// set them before comparing with the capture.

func TestNewLogOff_MatchesCapture(t *testing.T) {
	p := NewLogOff(clientAddress)

	assert.Equal(t, AddressBroadcast, p.LinkSource)
	assert.Equal(t, AddressUnknown, p.LinkDestination)
	assert.Equal(t, clientAddress, p.Source)
	assert.Equal(t, AddressUnknown, p.Destination)
	assert.Equal(t, byte(SourceHeaderLogOff), p.SourceHeader)
	assert.Equal(t, byte(DestinationHeaderRequest), p.DestinationHeader)
	assert.Equal(t, byte(RequestCodeLogOff), p.RequestCode)
	assert.Equal(t, CommandLogOff, p.Command)
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, p.Payload)

	p.Counter = 0x02
	assert.Equal(t, hexLogOff, encodeSessionHex(t, p))
}

func TestNewLogOn_MatchesCapture(t *testing.T) {
	now := time.Unix(0x52498537, 0)
	p, err := NewLogOn(clientAddress, "0000", now)
	require.NoError(t, err)

	assert.Equal(t, AddressBroadcast, p.LinkSource)
	assert.Equal(t, AddressUnknown, p.LinkDestination)
	assert.Equal(t, AddressUnknown, p.Destination)
	assert.Equal(t, byte(SourceHeaderLogOn), p.SourceHeader)
	assert.Equal(t, byte(RequestCodeLogOn), p.RequestCode)
	assert.Equal(t, CommandLogOn, p.Command)
	assert.Equal(t, uint32(now.Unix()), binary.LittleEndian.Uint32(p.Payload[8:12]))

	p.Counter = 0x04
	assert.Equal(t, hexLogOn, encodeSessionHex(t, p))
}

func TestNewLogOn_PasswordBlock(t *testing.T) {
	tests := []struct {
		password string
		block    string
	}{
		{"", "888888888888888888888888"},
		{"0000", "B8B8B8B88888888888888888"},
		{"abc", "E9EAEB888888888888888888"},
		{"123456789012", "B9BABBBCBDBEBFB0B1B8B9BA"},
	}

	for _, tt := range tests {
		t.Run(tt.password, func(t *testing.T) {
			p, err := NewLogOn(clientAddress, tt.password, time.Unix(0, 0))
			require.NoError(t, err)
			require.Len(t, p.Payload, 16+PasswordSize)
			assert.Equal(t, tt.block, FormatHex(p.Payload[16:]))

			decoded, err := DecodePassword(p.Payload)
			require.NoError(t, err)
			assert.Equal(t, tt.password, decoded)
		})
	}
}

func TestNewLogOn_PasswordTooLong(t *testing.T) {
	_, err := NewLogOn(clientAddress, strings.Repeat("x", PasswordSize+1), time.Now())
	assert.ErrorIs(t, err, ErrPasswordTooLong)
}

func TestNewDataRequest_MatchesCaptures(t *testing.T) {
	tests := []struct {
		name        string
		query       QueryType
		destination byte
		counter     byte
		hex         string
	}{
		{"production", QueryProduction, 0xA0, 0x0A, hexProductionRequest},
		{"spot power", QuerySpotACPower, 0xA1, 0x10, hexSpotPowerRequest},
		{"spot frequency", QuerySpotACFrequency, 0xA1, 0x11, hexSpotFreqRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewDataRequest(clientAddress, inverterAddress, tt.query)

			assert.Equal(t, AddressBroadcast, p.LinkSource)
			assert.Equal(t, inverterAddress, p.LinkDestination)
			assert.Equal(t, clientAddress, p.Source)
			assert.Equal(t, AddressUnknown, p.Destination)
			assert.Equal(t, byte(SourceHeaderData), p.SourceHeader)
			assert.Equal(t, tt.query.Command(), p.Command)

			p.DestinationHeader = tt.destination
			p.Counter = tt.counter
			assert.Equal(t, tt.hex, encodeSessionHex(t, p))
		})
	}
}

func TestNewDataRequest_OperationTime(t *testing.T) {
	p := NewDataRequest(clientAddress, inverterAddress, QueryOperationTime)
	assert.Equal(t, uint16(OpcodeDataLong), p.Command.Opcode)
	assert.Equal(t, "002E4600FF2F4600", FormatHex(p.Payload))
	assert.Empty(t, ValidateSessionPacket(p))

	// Survives encode and decode unchanged
	wire, err := EncodeSessionPacket(p)
	require.NoError(t, err)
	link, err := ParseLinkPacket(wire)
	require.NoError(t, err)
	decoded, err := DecodeSessionPacket(link)
	require.NoError(t, err)
	assert.Equal(t, p, decoded)
}

func TestNewHandshakeReply_MatchesCapture(t *testing.T) {
	hs1, err := ParseLinkPacket(mustHex(t, hexHandshake1))
	require.NoError(t, err)

	reply := NewHandshakeReply(hs1.Source, hs1)
	wire, err := EncodeLinkPacket(reply)
	require.NoError(t, err)
	assert.Equal(t, hexHandshake2, FormatHex(wire))

	// Echoed data is a copy
	reply.Data[0] = 0xAA
	assert.Equal(t, byte(0x00), hs1.Data[0])
}
