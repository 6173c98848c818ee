// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package smabt

import (
	"bufio"
	"io"
)

// Reader reads link and session packets from a byte stream. Decode errors
// are passed to the error handler and skipped; only I/O errors are returned.
type Reader struct {
	r         *bufio.Reader
	decoder   *Decoder
	assembler *Assembler
	onError   func(err error, raw []byte)
	onLink    func(p *LinkPacket)
}

// NewReader creates a Reader over r
func NewReader(r io.Reader) *Reader {
	return &Reader{
		r:         bufio.NewReaderSize(r, MaxLinkPacketSize),
		decoder:   NewDecoder(),
		assembler: NewAssembler(),
	}
}

// SetErrorHandler registers fn to observe skipped decode errors together with
// the raw bytes that produced them. raw is only valid during the call.
func (r *Reader) SetErrorHandler(fn func(err error, raw []byte)) {
	r.onError = fn
}

// SetLinkHandler registers fn to observe every decoded link packet
func (r *Reader) SetLinkHandler(fn func(p *LinkPacket)) {
	r.onLink = fn
}

func (r *Reader) reportError(err error, raw []byte) {
	if r.onError != nil {
		r.onError(err, raw)
	}
}

// ReadLinkPacket blocks until a complete link packet has been read
func (r *Reader) ReadLinkPacket() (*LinkPacket, error) {
	for {
		b, err := r.r.ReadByte()
		if err != nil {
			return nil, err
		}

		packet, err := r.decoder.DecodeByte(b)
		if err != nil {
			r.reportError(err, r.decoder.GetRawBytes())
			continue
		}
		if packet != nil {
			if r.onLink != nil {
				r.onLink(packet)
			}
			return packet, nil
		}
	}
}

// ReadSessionPacket blocks until a complete session packet has been read.
// Fragments are reassembled; link packets without session data are skipped.
func (r *Reader) ReadSessionPacket() (*SessionPacket, error) {
	for {
		link, err := r.ReadLinkPacket()
		if err != nil {
			return nil, err
		}

		packet, err := r.assembler.Add(link)
		if err != nil {
			r.reportError(err, link.Data)
			continue
		}
		if packet != nil {
			return packet, nil
		}
	}
}
