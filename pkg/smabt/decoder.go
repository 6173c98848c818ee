// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package smabt

import (
	"encoding/binary"
	"fmt"
)

// Decoder states
const (
	stateIdle = iota
	stateHeader
	stateData
)

// Decoder implements the link packet decoder state machine
type Decoder struct {
	state     int
	buffer    []byte
	length    int
	skipped   int
	rawBuffer []byte // Accumulate raw bytes including skipped noise
	clearRaw  bool
}

// NewDecoder creates a new link packet decoder
func NewDecoder() *Decoder {
	return &Decoder{
		state:     stateIdle,
		buffer:    make([]byte, 0, MaxLinkPacketSize),
		rawBuffer: make([]byte, 0, MaxLinkPacketSize*2),
	}
}

// Reset resets the decoder state to idle
func (d *Decoder) Reset() {
	d.resetState()
	d.rawBuffer = d.rawBuffer[:0]
	d.clearRaw = false
}

func (d *Decoder) resetState() {
	d.state = stateIdle
	d.buffer = d.buffer[:0]
	d.length = 0
	d.skipped = 0
}

// GetRawBytes returns the raw bytes of the current packet. After DecodeByte
// returns a packet or an error it holds exactly the bytes that produced it,
// until the next call. The slice is reused; copy it to retain it.
func (d *Decoder) GetRawBytes() []byte {
	return d.rawBuffer
}

// DecodeByte processes a single byte through the decoder state machine.
// Returns a completed packet, or nil if the packet is incomplete.
// Errors are never fatal: the decoder is ready for the next byte.
func (d *Decoder) DecodeByte(b byte) (*LinkPacket, error) {
	if d.clearRaw {
		// Keep any header bytes carried over by a resync
		d.rawBuffer = append(d.rawBuffer[:0], d.buffer...)
		d.clearRaw = false
	}
	d.rawBuffer = append(d.rawBuffer, b)

	packet, err := d.step(b)
	if packet != nil || err != nil {
		d.clearRaw = true
	}
	return packet, err
}

func (d *Decoder) step(b byte) (*LinkPacket, error) {
	switch d.state {
	case stateIdle:
		if b != Delimiter {
			d.skipped++
			if d.skipped >= MaxScanBytes {
				skipped := d.skipped
				d.resetState()
				return nil, fmt.Errorf("%w: no delimiter in %d bytes", ErrFraming, skipped)
			}
			return nil, nil
		}
		d.skipped = 0
		d.buffer = append(d.buffer[:0], b)
		d.state = stateHeader
		return nil, nil

	case stateHeader:
		d.buffer = append(d.buffer, b)

		// Length and header check are known after 4 bytes
		if len(d.buffer) == 4 {
			length := binary.LittleEndian.Uint16(d.buffer[1:3])
			if d.buffer[3] != linkHeaderCheck(length) || length < LinkHeaderSize || length > MaxLinkPacketSize {
				return nil, d.resync(fmt.Errorf("%w: bad link header % X", ErrFraming, d.buffer))
			}
			d.length = int(length)
		}

		if len(d.buffer) < LinkHeaderSize {
			return nil, nil
		}
		if d.length == LinkHeaderSize {
			return d.complete()
		}
		d.state = stateData
		return nil, nil

	case stateData:
		d.buffer = append(d.buffer, b)
		if len(d.buffer) < d.length {
			return nil, nil
		}
		return d.complete()

	default:
		d.resetState()
		return nil, fmt.Errorf("%w: invalid decoder state %d", ErrFraming, d.state)
	}
}

// complete parses the buffered packet and returns to idle
func (d *Decoder) complete() (*LinkPacket, error) {
	packet, err := ParseLinkPacket(d.buffer)
	d.resetState()
	return packet, err
}

// resync drops the current delimiter and replays the buffered bytes so a
// delimiter inside them can start the next packet.
func (d *Decoder) resync(err error) error {
	replay := make([]byte, len(d.buffer)-1)
	copy(replay, d.buffer[1:])
	d.resetState()
	for _, b := range replay {
		// At most three bytes are replayed, never enough for a packet
		_, _ = d.step(b)
	}
	return err
}

// DecodeLinkPackets decodes every link packet in data. Decode errors are
// collected and scanning resumes with the following bytes.
func DecodeLinkPackets(data []byte) ([]*LinkPacket, []error) {
	d := NewDecoder()
	var packets []*LinkPacket
	var errs []error
	for _, b := range data {
		packet, err := d.DecodeByte(b)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if packet != nil {
			packets = append(packets, packet)
		}
	}
	return packets, errs
}
