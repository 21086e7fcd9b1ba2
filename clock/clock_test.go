// Copyright 2015 The Chihaya Authors. All rights reserved.
// Use of this source code is governed by the BSD 2-Clause license,
// which can be found in the LICENSE file.

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSystemClockMoves(t *testing.T) {
	before := Now()
	require.False(t, before.IsZero())
	require.True(t, time.Since(before) < time.Minute)
}

func TestStoppedClock(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	stopped := NewStopped(t0)

	prev := Set(stopped)
	defer Set(prev)

	require.Equal(t, t0, Now())
	require.Equal(t, t0, Now()) // frozen

	stopped.Advance(90 * time.Second)
	require.Equal(t, t0.Add(90*time.Second), Now())

	t1 := time.Unix(1800000000, 0)
	stopped.Set(t1)
	require.Equal(t, t1, Now())
}
