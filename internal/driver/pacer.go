// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package driver

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer enforces a minimum spacing between consecutive requests to one
// inverter. It holds the last-action state, so one Pacer belongs to one
// inverter and is shared by every session opened to it.
type Pacer struct {
	limiter *rate.Limiter
	spacing time.Duration
}

// NewPacer creates a pacer. A spacing <= 0 disables pacing.
func NewPacer(spacing time.Duration) *Pacer {
	limit := rate.Inf
	if spacing > 0 {
		limit = rate.Every(spacing)
	}
	return &Pacer{
		limiter: rate.NewLimiter(limit, 1),
		spacing: spacing,
	}
}

// Spacing returns the configured minimum spacing
func (p *Pacer) Spacing() time.Duration {
	return p.spacing
}

// Wait blocks until the next request may be sent or ctx is done
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}
