// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package driver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacer_Spacing(t *testing.T) {
	p := NewPacer(40 * time.Millisecond)
	assert.Equal(t, 40*time.Millisecond, p.Spacing())

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Wait(context.Background()))
	}
	// The first action is immediate, the next two wait one spacing each
	assert.GreaterOrEqual(t, time.Since(start), 75*time.Millisecond)
}

func TestPacer_Disabled(t *testing.T) {
	p := NewPacer(0)

	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, p.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestPacer_Cancelled(t *testing.T) {
	p := NewPacer(time.Hour)
	require.NoError(t, p.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, p.Wait(ctx))
}

func TestSession_Paced(t *testing.T) {
	opts := testOptions(t)
	opts.Pacer = NewPacer(30 * time.Millisecond)

	start := time.Now()
	s := openSim(t, newSimInverter(), opts)
	_, err := s.SpotAC(context.Background())
	require.NoError(t, err)

	// logoff, logon, power, frequency: three spacings after the first
	assert.GreaterOrEqual(t, time.Since(start), 85*time.Millisecond)
}
