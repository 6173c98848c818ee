// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package driver

import (
	"encoding/binary"
	"net"
	"sync"
	"testing"

	"github.com/Thermoquad/smastat/pkg/smabt"
)

var (
	simAddress    = smabt.MustParseAddress("00802529EC47")
	simClient     = smabt.MustParseAddress("001122334455")
	simTimestamp  = uint32(0x5249853A)
	hs1Data       = []byte{0x00, 0x04, 0x70, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00}
	simPassword   = "0000"
	operationSecs = int64(9894499) // 2748.472 h
	feedInSecs    = int64(9190133) // 2552.815 h
)

func record(shape smabt.Shape, q smabt.Quantity, value []byte) []byte {
	buf := make([]byte, 8, 8+len(value))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(shape)<<24|uint32(q))
	binary.LittleEndian.PutUint32(buf[4:8], simTimestamp)
	return append(buf, value...)
}

func le32(v int32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return b
}

func le64(v int64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return b
}

func responsePayload(records ...[]byte) []byte {
	payload := make([]byte, smabt.ResponseHeaderSize)
	for _, r := range records {
		payload = append(payload, r...)
	}
	return payload
}

func defaultPayloads() map[smabt.QueryType][]byte {
	return map[smabt.QueryType][]byte{
		smabt.QueryProduction: responsePayload(
			record(smabt.ShapeLong, smabt.QuantityProdLifetime, le64(1012557)),
			record(smabt.ShapeLong, smabt.QuantityProdToday, le64(6847)),
		),
		smabt.QuerySpotACPower: responsePayload(
			record(smabt.ShapeInt, smabt.QuantitySpotACPower, le32(825)),
		),
		smabt.QuerySpotACFrequency: responsePayload(
			record(smabt.ShapeInt, smabt.QuantitySpotACFrequency, le32(4998)),
		),
		smabt.QueryOperationTime: responsePayload(
			record(smabt.ShapeLong, smabt.QuantityOperationTime, le64(operationSecs)),
			record(smabt.ShapeLong, smabt.QuantityOperationFeedInTime, le64(feedInSecs)),
		),
	}
}

// simInverter plays the inverter side of a session on one connection
type simInverter struct {
	address  smabt.Address
	payloads map[smabt.QueryType][]byte

	// firstPacket replaces handshake1 when set
	firstPacket *smabt.LinkPacket
	// silent never answers data requests
	silent bool
	// hangUp closes the connection on the first data request
	hangUp bool

	mu       sync.Mutex
	requests []*smabt.SessionPacket
	hs2      *smabt.LinkPacket
	done     chan struct{}
}

func newSimInverter() *simInverter {
	return &simInverter{
		address:  simAddress,
		payloads: defaultPayloads(),
		done:     make(chan struct{}),
	}
}

// start serves a new pipe and returns the client end
func (s *simInverter) start(t *testing.T) net.Conn {
	t.Helper()
	client, inverter := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		inverter.Close()
	})
	go s.serve(inverter)
	return client
}

func (s *simInverter) Requests() []*smabt.SessionPacket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*smabt.SessionPacket(nil), s.requests...)
}

// Kinds lists the kinds of the requests received so far
func (s *simInverter) Kinds() []smabt.CommandKind {
	var kinds []smabt.CommandKind
	for _, p := range s.Requests() {
		k, _ := p.Command.Kind()
		kinds = append(kinds, k)
	}
	return kinds
}

func (s *simInverter) reply(req *smabt.SessionPacket, payload []byte) *smabt.SessionPacket {
	return &smabt.SessionPacket{
		LinkSource:        s.address,
		LinkDestination:   smabt.AddressBroadcast,
		DestinationHeader: req.SourceHeader,
		Destination:       req.Source,
		SourceHeader:      smabt.DestinationHeaderRequest,
		Source:            s.address,
		Counter:           req.Counter,
		Command:           req.Command.Response(),
		Payload:           payload,
	}
}

func (s *simInverter) serve(conn net.Conn) {
	defer close(s.done)
	defer conn.Close()

	write := func(p *smabt.LinkPacket) bool {
		wire, err := smabt.EncodeLinkPacket(p)
		if err != nil {
			return false
		}
		_, err = conn.Write(wire)
		return err == nil
	}

	first := s.firstPacket
	if first == nil {
		first = &smabt.LinkPacket{Source: s.address, Command: smabt.LinkHandshake1, Data: hs1Data}
	}
	if !write(first) {
		return
	}

	r := smabt.NewReader(conn)
	hs2, err := r.ReadLinkPacket()
	if err != nil {
		return
	}
	s.mu.Lock()
	s.hs2 = hs2
	s.mu.Unlock()

	for _, cmd := range []smabt.LinkCommand{smabt.LinkHandshake3, smabt.LinkHandshake4, smabt.LinkHandshake5} {
		if !write(&smabt.LinkPacket{Source: s.address, Command: cmd}) {
			return
		}
	}

	for {
		req, err := r.ReadSessionPacket()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()

		kind, _ := req.Command.Kind()
		switch kind {
		case smabt.KindLogOn:
			if !write(s.reply(req, req.Payload).LinkPacket()) {
				return
			}
		case smabt.KindData:
			if s.hangUp {
				return
			}
			if s.silent {
				continue
			}
			q, ok := smabt.RequestQuery(req)
			if !ok {
				continue
			}
			if !write(s.reply(req, s.payloads[q]).LinkPacket()) {
				return
			}
		}
	}
}
