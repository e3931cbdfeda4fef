package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiter_BurstThenRefill(t *testing.T) {
	t.Parallel()

	l := New(1, 3, 0)
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < 3; i++ {
		require.True(t, l.Allow("alice", now), i)
	}
	require.False(t, l.Allow("alice", now))
	require.False(t, l.Allow(" ALICE ", now), "keys are normalized")

	// Other keys have their own bucket.
	require.True(t, l.Allow("bob", now))

	require.True(t, l.Allow("alice", now.Add(time.Second)))
	require.False(t, l.Allow("alice", now.Add(time.Second)))
}

func TestLimiter_NilAllowsAll(t *testing.T) {
	t.Parallel()

	require.Nil(t, New(0, 5, 0))
	require.Nil(t, New(1, 0, 0))

	var l *Limiter
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow("x", time.Now()))
	}
	require.Zero(t, l.Len())
}

func TestLimiter_EvictsIdle(t *testing.T) {
	t.Parallel()

	l := New(10, 10, time.Minute)
	start := time.Unix(1_700_000_000, 0)
	require.True(t, l.Allow("stale", start))

	later := start.Add(2 * time.Minute)
	for i := 0; i < sweepEvery; i++ {
		l.Allow(fmt.Sprintf("user%d", i%8), later)
	}
	require.Equal(t, 8, l.Len())
}
