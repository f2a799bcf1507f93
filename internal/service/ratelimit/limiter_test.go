package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterRefills(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New(2, 1)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("orders"))
	assert.True(t, l.Allow("orders"))
	assert.False(t, l.Allow("orders"))
	assert.True(t, l.Allow("reads"), "keys drain independently")

	now = now.Add(500 * time.Millisecond)
	assert.False(t, l.Allow("orders"))
	now = now.Add(500 * time.Millisecond)
	assert.True(t, l.Allow("orders"))
}

func TestLimiterWaitHonoursContext(t *testing.T) {
	l := New(1, 0.001)
	require.NoError(t, l.Wait(context.Background(), "k"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Wait(ctx, "k"), context.DeadlineExceeded)
}

func TestLimiterWaitReturnsAfterRefill(t *testing.T) {
	l := New(1, 100)
	require.NoError(t, l.Wait(context.Background(), "k"))

	start := time.Now()
	require.NoError(t, l.Wait(context.Background(), "k"))
	assert.Less(t, time.Since(start), time.Second)
}
