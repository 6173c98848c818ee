// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package smabt implements the SMA Bluetooth inverter protocol.
//
// The protocol has two layers. Link packets (L1) carry a fixed 18-byte header with
// reversed 6-byte addresses and a command code. Session packets (L2) travel inside
// L2PACKET link packets as byte-stuffed frames protected by a 16-bit FCS. This package
// provides frame encoding/decoding, link and session packet codecs, a bounded stream
// decoder, request builders and the telemetry response decoder.
package smabt

// Protocol framing bytes
const (
	Delimiter = 0x7E
	EscByte   = 0x7D
	EscXor    = 0x20
)

// Link packet layout
const (
	LinkHeaderSize    = 18
	MaxLinkPacketSize = 520
	AddressSize       = 6
)

// Scan limits
const (
	// MaxScanBytes is how many bytes the stream decoder skips looking for a
	// delimiter before reporting a framing error.
	MaxScanBytes = 2 * MaxLinkPacketSize

	// MaxFrameScan bounds DecodeFrame's search for the closing delimiter.
	MaxFrameScan = 2 * MaxLinkPacketSize
)

// FCS-16 configuration (PPP frame check sequence, reflected)
const (
	fcsPolynomial = 0x8408
	fcsInitial    = 0xFFFF
)

// Session packet constants. Their meaning is undocumented; they are reproduced
// verbatim because inverters reject packets without them.
const (
	SessionProtocol          = 0x656003FF
	SessionHeaderSize        = 32
	DestinationHeaderRequest = 0xA0
	SourceHeaderData         = 0x00
	SourceHeaderLogOn        = 0x01
	SourceHeaderLogOff       = 0x03
	RequestCodeLogOn         = 0x01
	RequestCodeLogOff        = 0x03
)

// Log-on payload constants
const (
	LogOnUserGroup      = 0x07
	LogOnSessionTimeout = 0x384 // seconds
	PasswordSize        = 12
	PasswordXor         = 0x88
	LogOffSentinel      = 0xFFFFFFFF
)

// Response payload layout
const (
	ResponseHeaderSize = 8
	RecordHeaderSize   = 8
)

// isEscaped reports whether b must be byte-stuffed inside a frame.
func isEscaped(b byte) bool {
	switch b {
	case Delimiter, EscByte, 0x11, 0x12, 0x13:
		return true
	}
	return false
}
