package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_Window(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	t.Cleanup(rl.Close)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	ok, _, _ := rl.Allow(1)
	require.True(t, ok)
	now = now.Add(10 * time.Second)
	ok, _, _ = rl.Allow(1)
	require.True(t, ok)

	ok, retry, warn := rl.Allow(1)
	assert.False(t, ok)
	assert.Equal(t, 50*time.Second, retry)
	assert.True(t, warn, "first rejection warns")

	_, _, warn = rl.Allow(1)
	assert.False(t, warn, "second rejection is silent")

	ok, _, _ = rl.Allow(2)
	assert.True(t, ok, "users are limited separately")

	now = now.Add(51 * time.Second)
	ok, _, _ = rl.Allow(1)
	assert.True(t, ok, "oldest hit left the window")
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(0, time.Minute)
	t.Cleanup(rl.Close)

	for i := 0; i < 100; i++ {
		ok, _, _ := rl.Allow(1)
		require.True(t, ok)
	}
}

func TestRateLimiter_Sweep(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	t.Cleanup(rl.Close)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.Allow(1)
	rl.Allow(2)
	now = now.Add(2 * time.Minute)
	rl.sweep()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Empty(t, rl.hits)
}
