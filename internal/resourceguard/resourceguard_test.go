package resourceguard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryMonitorLevelReportsStoredLevel(t *testing.T) {
	m := NewMemoryMonitor(100, 150, time.Hour)

	m.rssBytes.Store(50 * 1024 * 1024)
	m.level.Store(int32(MemoryNormal))
	assert.Equal(t, MemoryNormal, m.Level())

	m.level.Store(int32(MemorySoftLimit))
	assert.Equal(t, MemorySoftLimit, m.Level())

	m.level.Store(int32(MemoryHardLimit))
	assert.Equal(t, MemoryHardLimit, m.Level())
}

func TestRateLimiterAllowsConfiguredRate(t *testing.T) {
	rl := NewRateLimiter(1000) // fast for the test, proportional to the real default
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, rl.Wait(ctx))
	require.NoError(t, rl.Wait(ctx))
}

func TestRateLimiterDefaultsWhenNonPositive(t *testing.T) {
	rl := NewRateLimiter(0)
	assert.NotNil(t, rl.limiter)
}
