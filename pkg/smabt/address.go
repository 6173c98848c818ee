// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package smabt

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Address is a 6-byte device address in canonical (text) byte order.
// Every address field on the wire carries the bytes reversed.
type Address [AddressSize]byte

// Special addresses
var (
	AddressBroadcast = Address{}
	AddressUnknown   = Address{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
)

// ParseAddress parses the canonical 12-character hex form of an address.
// Colon separated Bluetooth notation (00:80:25:29:EC:47) is accepted as well.
func ParseAddress(s string) (Address, error) {
	var a Address
	text := strings.ReplaceAll(s, ":", "")
	if len(text) != 2*AddressSize {
		return a, fmt.Errorf("invalid address %q: want %d hex digits", s, 2*AddressSize)
	}
	if _, err := hex.Decode(a[:], []byte(text)); err != nil {
		return a, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return a, nil
}

// MustParseAddress is like ParseAddress but panics on malformed input.
// It is meant for constants in tests and examples.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String returns the 12 uppercase hex digits of the address.
func (a Address) String() string {
	return strings.ToUpper(hex.EncodeToString(a[:]))
}

// IsBroadcast returns true for the all-zero address
func (a Address) IsBroadcast() bool {
	return a == AddressBroadcast
}

// IsUnknown returns true for the all-ones address
func (a Address) IsUnknown() bool {
	return a == AddressUnknown
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// putAddress writes a in wire order into dst, which must hold AddressSize bytes.
func putAddress(dst []byte, a Address) {
	for i := 0; i < AddressSize; i++ {
		dst[i] = a[AddressSize-1-i]
	}
}

// readAddress reads a wire-order address from src.
func readAddress(src []byte) Address {
	var a Address
	for i := 0; i < AddressSize; i++ {
		a[AddressSize-1-i] = src[i]
	}
	return a
}
