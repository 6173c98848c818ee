// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package driver

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/Thermoquad/smastat/pkg/backoff"
	"github.com/Thermoquad/smastat/pkg/smabt"
)

// ErrAttemptsExhausted is returned when every attempt of a request failed
var ErrAttemptsExhausted = errors.New("driver: attempts exhausted")

// DialFunc opens a fresh byte stream to the inverter
type DialFunc func(ctx context.Context) (io.ReadWriteCloser, error)

// Client keeps a session to one inverter open across requests. Connection
// and request failures share one attempt budget per request; each failure
// backs off and a failed request drops the connection so the next attempt
// starts from the handshake. Client is not safe for concurrent use.
type Client struct {
	dial        DialFunc
	opts        Options
	backoff     *backoff.Timer
	maxAttempts int
	logger      *zap.Logger

	conn    io.ReadWriteCloser
	session *Session
}

// NewClient creates a client. A nil timer uses backoff.Default.
func NewClient(dial DialFunc, opts Options, timer *backoff.Timer, maxAttempts int) *Client {
	opts = opts.withDefaults()
	if timer == nil {
		timer = backoff.Default(backoff.WithLogger(opts.Logger))
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Client{
		dial:        dial,
		opts:        opts,
		backoff:     timer,
		maxAttempts: maxAttempts,
		logger:      opts.Logger,
	}
}

// Connected reports whether a logged-on session is open
func (c *Client) Connected() bool {
	return c.session != nil
}

// Inverter returns the address of the inverter, once known
func (c *Client) Inverter() smabt.Address {
	if c.session != nil {
		return c.session.Inverter()
	}
	return c.opts.Inverter
}

func (c *Client) open(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		c.opts.Observer.ObserveConnect(err)
		return fmt.Errorf("dial: %w", err)
	}

	session, err := Open(ctx, conn, c.opts)
	c.opts.Observer.ObserveConnect(err)
	if err != nil {
		conn.Close()
		return err
	}

	c.conn = conn
	c.session = session
	// Later dials target the inverter we found
	c.opts.Inverter = session.Inverter()
	return nil
}

// drop closes the connection without logging off
func (c *Client) drop() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Debug("Error closing connection", zap.Error(err))
		}
	}
	c.conn = nil
	c.session = nil
}

// Close logs off and closes the connection
func (c *Client) Close(ctx context.Context) error {
	if c.session == nil {
		return nil
	}
	err := c.session.LogOff(ctx)
	c.drop()
	return err
}

// do runs fn against an open session, reconnecting and retrying as needed
func do[T any](ctx context.Context, c *Client, what string, fn func(*Session) (T, error)) (T, error) {
	var zero T
	var lastErr error
	defer c.backoff.Reset()

	for attempts := c.maxAttempts; attempts > 0; {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		if c.session == nil {
			if err := c.open(ctx); err != nil {
				lastErr = err
				attempts--
				c.logger.Warn("Could not open connection with inverter, retrying",
					zap.Error(err), zap.Int("attempts_left", attempts))
				if attempts > 0 {
					c.backoff.Sleep(ctx)
				}
				continue
			}
			c.backoff.Reset()
		}

		result, err := fn(c.session)
		if err == nil {
			return result, nil
		}
		lastErr = err
		attempts--
		c.logger.Warn("Could not read "+what+" from inverter, retrying",
			zap.Error(err), zap.Int("attempts_left", attempts))
		c.drop()
		if attempts > 0 {
			c.backoff.Sleep(ctx)
		}
	}

	return zero, fmt.Errorf("%w: %s: %w", ErrAttemptsExhausted, what, lastErr)
}

// Query runs one data query
func (c *Client) Query(ctx context.Context, q smabt.QueryType) (smabt.Elements, error) {
	return do(ctx, c, q.String(), func(s *Session) (smabt.Elements, error) {
		return s.Query(ctx, q)
	})
}

// ProductionInfo reads the energy counters
func (c *Client) ProductionInfo(ctx context.Context) (smabt.ProductionInfo, error) {
	return do(ctx, c, "production info", func(s *Session) (smabt.ProductionInfo, error) {
		return s.ProductionInfo(ctx)
	})
}

// SpotACInfo reads spot power and grid frequency
func (c *Client) SpotACInfo(ctx context.Context) (smabt.SpotACInfo, error) {
	return do(ctx, c, "spot AC info", func(s *Session) (smabt.SpotACInfo, error) {
		return s.SpotACInfo(ctx)
	})
}

// OperationInfo reads the operating hour counters
func (c *Client) OperationInfo(ctx context.Context) (smabt.OperationInfo, error) {
	return do(ctx, c, "operation info", func(s *Session) (smabt.OperationInfo, error) {
		return s.OperationInfo(ctx)
	})
}
