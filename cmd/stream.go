// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"

	"github.com/Thermoquad/smastat/pkg/smabt"
)

// streamEvent is one outcome of feeding bytes to a packetStream: a link
// packet (with the session packet it completed, if any) or a decode error
type streamEvent struct {
	link       *smabt.LinkPacket
	session    *smabt.SessionPacket
	elements   smabt.Elements
	validation []smabt.ValidationError
	err        error
	raw        []byte
}

// packetStream decodes one direction of traffic into link and session packets
type packetStream struct {
	decoder   *smabt.Decoder
	assembler *smabt.Assembler
}

func newPacketStream() *packetStream {
	return &packetStream{
		decoder:   smabt.NewDecoder(),
		assembler: smabt.NewAssembler(),
	}
}

// Feed decodes data and returns the resulting events in arrival order
func (s *packetStream) Feed(data []byte) []streamEvent {
	var events []streamEvent
	for _, b := range data {
		link, err := s.decoder.DecodeByte(b)
		if err != nil {
			raw := append([]byte(nil), s.decoder.GetRawBytes()...)
			events = append(events, streamEvent{err: err, raw: raw})
			continue
		}
		if link == nil {
			continue
		}

		session, err := s.assembler.Add(link)
		if err != nil {
			events = append(events, streamEvent{link: link, err: err, raw: link.Data})
			continue
		}

		ev := streamEvent{link: link, session: session}
		if session != nil {
			ev.validation = smabt.ValidateSessionPacket(session)
			if k, kerr := session.Command.Kind(); kerr == nil && k == smabt.KindData && session.Command.IsResponse() {
				if elements, derr := smabt.DecodeDataResponse(session.Payload); derr == nil {
					ev.elements = elements
				}
			}
		}
		events = append(events, ev)
	}
	return events
}

// update applies an event to stats
func (ev streamEvent) update(stats *smabt.Statistics) {
	if ev.err != nil {
		stats.Update(nil, nil, ev.err, nil)
		return
	}
	stats.Update(ev.link, ev.session, nil, ev.validation)
}

// format renders an event the way raw_log prints it
func (ev streamEvent) format() string {
	if ev.err != nil {
		if len(ev.raw) > 0 {
			return fmt.Sprintf("[ERROR] %v\n  Raw: %s\n", ev.err, smabt.HexDump(ev.raw))
		}
		return fmt.Sprintf("[ERROR] %v\n", ev.err)
	}

	var sb strings.Builder
	sb.WriteString(smabt.FormatLinkPacket(ev.link))
	if ev.session != nil {
		sb.WriteString(smabt.FormatSessionPacket(ev.session))
	}
	for _, v := range ev.validation {
		fmt.Fprintf(&sb, "  [%s] %s\n", v.Type, v.Message)
	}
	return sb.String()
}
