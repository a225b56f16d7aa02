// api/cache/memory_governor_test.go
package cache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/amanshivam/auth/cache"
)

func TestMemoryGovernor(t *testing.T) {
	const maxHeap = 1000

	newGovernor := func(heapUsed uint64) *cache.MemoryGovernor {
		return cache.NewMemoryGovernorWithSampler(maxHeap, func() uint64 { return heapUsed })
	}

	t.Run("PressureBands", func(t *testing.T) {
		assert.Equal(t, cache.PressureNormal, newGovernor(500).PressureLevel())
		assert.Equal(t, cache.PressureElevated, newGovernor(700).PressureLevel())
		assert.Equal(t, cache.PressureElevated, newGovernor(850).PressureLevel())
		assert.Equal(t, cache.PressureCritical, newGovernor(900).PressureLevel())
		assert.Equal(t, cache.PressureEmergency, newGovernor(960).PressureLevel())
	})

	t.Run("ShouldSkipBackgroundWork", func(t *testing.T) {
		assert.False(t, newGovernor(500).ShouldSkipBackgroundWork())
		assert.False(t, newGovernor(800).ShouldSkipBackgroundWork())
		assert.True(t, newGovernor(900).ShouldSkipBackgroundWork())
		assert.True(t, newGovernor(990).ShouldSkipBackgroundWork())
	})

	t.Run("Sample", func(t *testing.T) {
		stats := newGovernor(850).Sample()
		assert.Equal(t, uint64(850), stats.HeapUsedBytes)
		assert.Equal(t, uint64(maxHeap), stats.MaxHeapBytes)
		assert.InDelta(t, 0.85, stats.UsageRatio, 0.001)
		assert.Equal(t, "elevated", stats.PressureLevel)
	})

	t.Run("LevelString", func(t *testing.T) {
		assert.Equal(t, "normal", cache.PressureNormal.String())
		assert.Equal(t, "emergency", cache.PressureEmergency.String())
	})
}
