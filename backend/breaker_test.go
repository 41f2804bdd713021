// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package backend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// P1: after N consecutive failures the breaker is open, and while
// open, Allow returns false (the caller fails fast without an
// upstream attempt).
func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker(5, 30*time.Second)
	for i := 0; i < 4; i++ {
		require.True(t, b.Allow())
		b.RecordFailure()
		assert.Equal(t, Closed, b.State())
	}
	require.True(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, Open, b.State())
	assert.Equal(t, 5, b.ConsecutiveFailures())
	assert.False(t, b.OpenedAt().IsZero())
}

func TestBreakerRejectsWhileOpen(t *testing.T) {
	b := NewBreaker(1, time.Hour)
	b.RecordFailure()
	require.Equal(t, Open, b.State())
	assert.False(t, b.Allow())
	assert.False(t, b.Allow())
}

// P2: after the reset timeout, exactly one upstream attempt is
// permitted; success returns the breaker to closed with the counter
// reset to zero.
func TestBreakerHalfOpenAllowsExactlyOneProbe(t *testing.T) {
	b := NewBreaker(1, 10*time.Millisecond)
	b.RecordFailure()
	require.Equal(t, Open, b.State())

	time.Sleep(15 * time.Millisecond)

	assert.True(t, b.Allow(), "first caller after reset timeout gets the probe")
	assert.Equal(t, HalfOpen, b.State())
	assert.False(t, b.Allow(), "a second concurrent caller is refused until the probe resolves")

	b.RecordSuccess()
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, 0, b.ConsecutiveFailures())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(1, 10*time.Millisecond)
	b.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	require.True(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, Open, b.State())
}

func TestForceOpenAndForceClose(t *testing.T) {
	b := NewBreaker(5, 30*time.Second)
	b.ForceOpen()
	assert.Equal(t, Open, b.State())
	assert.False(t, b.Allow())

	b.ForceClose()
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, 0, b.ConsecutiveFailures())
	assert.True(t, b.Allow())
}

func TestCanAttemptPeeksWithoutClaimingHalfOpenSlot(t *testing.T) {
	b := NewBreaker(1, 10*time.Millisecond)
	b.RecordFailure()
	assert.False(t, b.CanAttempt())

	time.Sleep(15 * time.Millisecond)
	assert.True(t, b.CanAttempt())
	assert.Equal(t, Open, b.State(), "CanAttempt must not itself transition state")

	assert.True(t, b.Allow())
	assert.Equal(t, HalfOpen, b.State())
	assert.True(t, b.CanAttempt(), "half-open still reports attemptable even though Allow would refuse a second caller")
}

func TestDefaultsAppliedForNonPositiveConfig(t *testing.T) {
	b := NewBreaker(0, 0)
	for i := 0; i < DefaultFailureThreshold-1; i++ {
		b.RecordFailure()
	}
	assert.Equal(t, Closed, b.State())
	b.RecordFailure()
	assert.Equal(t, Open, b.State())
}
