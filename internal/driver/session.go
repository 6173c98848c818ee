// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package driver talks to an SMA inverter over an established byte stream:
// it runs the handshake, logs on, issues data queries and keeps a persistent
// connection alive across failures.
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/smastat/pkg/smabt"
)

// ErrUnexpectedPacket reports a reply that does not answer the request sent
var ErrUnexpectedPacket = errors.New("driver: unexpected packet")

// DefaultTimeout bounds each read when Options.Timeout is zero
const DefaultTimeout = 10 * time.Second

// Observer receives protocol events. *metrics.Metrics implements it.
type Observer interface {
	ObserveLink(p *smabt.LinkPacket)
	ObserveSession(p *smabt.SessionPacket)
	ObserveError(err error)
	ObserveQuery(q smabt.QueryType, err error)
	ObserveConnect(err error)
}

type nopObserver struct{}

func (nopObserver) ObserveLink(*smabt.LinkPacket)       {}
func (nopObserver) ObserveSession(*smabt.SessionPacket) {}
func (nopObserver) ObserveError(error)                  {}
func (nopObserver) ObserveQuery(smabt.QueryType, error) {}
func (nopObserver) ObserveConnect(error)                {}

// Options configure a session
type Options struct {
	// Client is the local Bluetooth address sent as the session source
	Client smabt.Address
	// Inverter is the inverter address. When zero it is taken from the
	// inverter's first handshake packet.
	Inverter smabt.Address
	Password string

	Pacer    *Pacer
	Timeout  time.Duration
	Logger   *zap.Logger
	Observer Observer

	// Now stamps log-on requests; defaults to time.Now
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Pacer == nil {
		o.Pacer = NewPacer(0)
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// Session is an open, logged-on protocol session. It is not safe for
// concurrent use; the inverter handles one request at a time.
type Session struct {
	conn     io.ReadWriter
	reader   *smabt.Reader
	opts     Options
	inverter smabt.Address
	logger   *zap.Logger
}

// Open runs the handshake and log-on sequence on conn
func Open(ctx context.Context, conn io.ReadWriter, opts Options) (*Session, error) {
	opts = opts.withDefaults()
	s := &Session{
		conn:     conn,
		reader:   smabt.NewReader(conn),
		opts:     opts,
		inverter: opts.Inverter,
		logger:   opts.Logger,
	}
	s.reader.SetErrorHandler(func(err error, raw []byte) {
		opts.Observer.ObserveError(err)
		s.logger.Debug("Skipping undecodable bytes", zap.Error(err), zap.String("raw", smabt.FormatHex(raw)))
	})
	s.reader.SetLinkHandler(opts.Observer.ObserveLink)

	if err := s.handshake(ctx); err != nil {
		return nil, fmt.Errorf("handshake: %w", err)
	}
	if err := s.logOn(ctx); err != nil {
		return nil, fmt.Errorf("log on: %w", err)
	}
	return s, nil
}

// Inverter returns the address of the connected inverter
func (s *Session) Inverter() smabt.Address {
	return s.inverter
}

// armRead applies the session timeout and ctx to the next read. The returned
// func must be called once the read is done.
func (s *Session) armRead(ctx context.Context) func() {
	d, ok := s.conn.(readDeadliner)
	if !ok {
		return func() {}
	}

	deadline := time.Now().Add(s.opts.Timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = d.SetReadDeadline(deadline)

	stop := context.AfterFunc(ctx, func() {
		_ = d.SetReadDeadline(time.Unix(1, 0))
	})
	return func() {
		stop()
		_ = d.SetReadDeadline(time.Time{})
	}
}

func (s *Session) readLink(ctx context.Context) (*smabt.LinkPacket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	done := s.armRead(ctx)
	defer done()

	p, err := s.reader.ReadLinkPacket()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return p, nil
}

// readReply reads session packets until a response of the wanted kind arrives
func (s *Session) readReply(ctx context.Context, want smabt.CommandKind) (*smabt.SessionPacket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	done := s.armRead(ctx)
	defer done()

	for {
		p, err := s.reader.ReadSessionPacket()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		s.opts.Observer.ObserveSession(p)

		kind, err := p.Command.Kind()
		if err == nil && kind == want && p.Command.IsResponse() {
			return p, nil
		}
		s.logger.Debug("Ignoring session packet", zap.Stringer("command", p.Command), zap.Stringer("want", want))
	}
}

func (s *Session) writeLink(p *smabt.LinkPacket) error {
	wire, err := smabt.EncodeLinkPacket(p)
	if err != nil {
		return err
	}
	_, err = s.conn.Write(wire)
	return err
}

// send paces and writes one session request
func (s *Session) send(ctx context.Context, p *smabt.SessionPacket) error {
	if err := s.opts.Pacer.Wait(ctx); err != nil {
		return err
	}
	s.logger.Debug("Writing request", zap.Stringer("command", p.Command))
	return s.writeLink(p.LinkPacket())
}

func (s *Session) handshake(ctx context.Context) error {
	s.logger.Debug("Reading handshake1")
	hs1, err := s.readLink(ctx)
	if err != nil {
		return err
	}
	if hs1.Command != smabt.LinkHandshake1 {
		return fmt.Errorf("%w: %s while waiting for handshake", ErrUnexpectedPacket, hs1.Command)
	}
	if s.inverter.IsBroadcast() {
		s.inverter = hs1.Source
	}
	s.logger.Debug("Handshake1", zap.Stringer("inverter", s.inverter), zap.String("data", smabt.FormatHex(hs1.Data)))

	s.logger.Debug("Writing handshake2")
	if err := s.writeLink(smabt.NewHandshakeReply(s.inverter, hs1)); err != nil {
		return err
	}

	for _, name := range []string{"handshake3", "handshake4", "handshake5"} {
		s.logger.Debug("Reading " + name)
		p, err := s.readLink(ctx)
		if err != nil {
			return err
		}
		s.logger.Debug(name, zap.Stringer("command", p.Command))
	}
	return nil
}

func (s *Session) logOn(ctx context.Context) error {
	s.logger.Debug("Writing logoff")
	if err := s.send(ctx, smabt.NewLogOff(s.opts.Client)); err != nil {
		return err
	}

	logOn, err := smabt.NewLogOn(s.opts.Client, s.opts.Password, s.opts.Now())
	if err != nil {
		return err
	}
	s.logger.Debug("Writing logon")
	if err := s.send(ctx, logOn); err != nil {
		return err
	}

	if _, err := s.readReply(ctx, smabt.KindLogOn); err != nil {
		return err
	}
	s.logger.Info("Logged on to inverter", zap.Stringer("inverter", s.inverter))
	return nil
}

// Query issues one data request and decodes the reply
func (s *Session) Query(ctx context.Context, q smabt.QueryType) (smabt.Elements, error) {
	elements, err := s.query(ctx, q)
	s.opts.Observer.ObserveQuery(q, err)
	return elements, err
}

func (s *Session) query(ctx context.Context, q smabt.QueryType) (smabt.Elements, error) {
	s.logger.Debug("Writing data request", zap.Stringer("query", q))
	if err := s.send(ctx, smabt.NewDataRequest(s.opts.Client, s.inverter, q)); err != nil {
		return nil, err
	}

	reply, err := s.readReply(ctx, smabt.KindData)
	if err != nil {
		return nil, err
	}

	elements, err := smabt.DecodeResponse(reply)
	if err != nil {
		s.opts.Observer.ObserveError(err)
		return nil, fmt.Errorf("%s: %w", q, err)
	}
	return elements, nil
}

// ProductionInfo queries the energy counters
func (s *Session) ProductionInfo(ctx context.Context) (smabt.ProductionInfo, error) {
	elements, err := s.Query(ctx, smabt.QueryProduction)
	if err != nil {
		return smabt.ProductionInfo{}, err
	}
	return smabt.NewProductionInfo(elements)
}

// SpotAC queries spot power then grid frequency and merges the elements
func (s *Session) SpotAC(ctx context.Context) (smabt.Elements, error) {
	elements, err := s.Query(ctx, smabt.QuerySpotACPower)
	if err != nil {
		return nil, err
	}
	frequency, err := s.Query(ctx, smabt.QuerySpotACFrequency)
	if err != nil {
		return nil, err
	}
	elements.Merge(frequency)
	return elements, nil
}

// SpotACInfo queries the spot AC values
func (s *Session) SpotACInfo(ctx context.Context) (smabt.SpotACInfo, error) {
	elements, err := s.SpotAC(ctx)
	if err != nil {
		return smabt.SpotACInfo{}, err
	}
	return smabt.NewSpotACInfo(elements), nil
}

// OperationInfo queries the operating hour counters
func (s *Session) OperationInfo(ctx context.Context) (smabt.OperationInfo, error) {
	elements, err := s.Query(ctx, smabt.QueryOperationTime)
	if err != nil {
		return smabt.OperationInfo{}, err
	}
	return smabt.NewOperationInfo(elements)
}

// LogOff ends the session on the inverter side. The connection stays open.
func (s *Session) LogOff(ctx context.Context) error {
	s.logger.Debug("Writing logoff")
	return s.send(ctx, smabt.NewLogOff(s.opts.Client))
}
