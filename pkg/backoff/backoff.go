// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package backoff provides the retry pacing timer used around inverter
// connection attempts. A Timer is owned by a single connection loop and is
// not safe for concurrent use.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrConstruction reports invalid timer parameters
var ErrConstruction = errors.New("backoff: invalid timer parameters")

// Defaults used by the inverter driver
const (
	DefaultInitial    = 5 * time.Second
	DefaultMultiplier = 1.5
	DefaultMax        = 20 * time.Second
)

// Timer blocks for a geometrically growing interval, capped at a maximum
type Timer struct {
	initial    time.Duration
	multiplier float64
	max        time.Duration
	current    time.Duration

	logger *zap.Logger
	wait   func(ctx context.Context, d time.Duration)
}

// Option configures a Timer
type Option func(*Timer)

// WithLogger logs every back-off and reset at debug level
func WithLogger(logger *zap.Logger) Option {
	return func(t *Timer) {
		t.logger = logger
	}
}

// New creates a timer. Requires 0 <= initial <= max and multiplier > 1.
func New(initial time.Duration, multiplier float64, max time.Duration, opts ...Option) (*Timer, error) {
	if initial < 0 || initial > max || !(multiplier > 1) {
		return nil, fmt.Errorf("%w: need 0 <= initial (%s) <= max (%s) and multiplier (%g) > 1",
			ErrConstruction, initial, max, multiplier)
	}

	t := &Timer{
		initial:    initial,
		multiplier: multiplier,
		max:        max,
		current:    initial,
		logger:     zap.NewNop(),
		wait:       waitContext,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Default creates a timer with the driver defaults (5s, x1.5, 20s)
func Default(opts ...Option) *Timer {
	t, err := New(DefaultInitial, DefaultMultiplier, DefaultMax, opts...)
	if err != nil {
		panic(err)
	}
	return t
}

// Current returns the interval the next Sleep will wait
func (t *Timer) Current() time.Duration {
	return t.current
}

// Reset makes the next Sleep wait the initial interval again
func (t *Timer) Reset() {
	t.logger.Debug("Resetting backoff timer", zap.Duration("interval", t.initial))
	t.current = t.initial
}

// Sleep waits for the current interval, then grows it by the multiplier up to
// the maximum. A cancelled ctx ends the wait early; the interval still grows.
func (t *Timer) Sleep(ctx context.Context) {
	t.logger.Debug("Backing off", zap.Duration("interval", t.current))
	t.wait(ctx, t.current)

	next := time.Duration(float64(t.current) * t.multiplier)
	if next > t.max || next < t.current {
		next = t.max
	}
	t.current = next
}

func waitContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
