// api/admission/rate_limiter_test.go
package admission_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amanshivam/auth/admission"
)

func TestSlidingWindowLimiter(t *testing.T) {
	ctx := context.Background()

	t.Run("EnforcesCeiling", func(t *testing.T) {
		rl := admission.NewSlidingWindowLimiter(3, time.Minute)

		for i := 0; i < 3; i++ {
			allowed, _, err := rl.Allow(ctx, "client-a")
			require.NoError(t, err)
			assert.True(t, allowed, "request %d should be allowed", i)
		}

		allowed, retryAfter, err := rl.Allow(ctx, "client-a")
		require.NoError(t, err)
		assert.False(t, allowed)
		assert.Greater(t, retryAfter, time.Duration(0))
		assert.LessOrEqual(t, retryAfter, time.Minute)
	})

	t.Run("SourcesAreIndependent", func(t *testing.T) {
		rl := admission.NewSlidingWindowLimiter(1, time.Minute)

		allowed, _, err := rl.Allow(ctx, "client-a")
		require.NoError(t, err)
		require.True(t, allowed)

		allowed, _, err = rl.Allow(ctx, "client-b")
		require.NoError(t, err)
		assert.True(t, allowed, "a noisy source must not affect others")
	})

	t.Run("WindowSlides", func(t *testing.T) {
		rl := admission.NewSlidingWindowLimiter(2, 50*time.Millisecond)

		for i := 0; i < 2; i++ {
			allowed, _, err := rl.Allow(ctx, "client-a")
			require.NoError(t, err)
			require.True(t, allowed)
		}
		allowed, _, err := rl.Allow(ctx, "client-a")
		require.NoError(t, err)
		require.False(t, allowed)

		time.Sleep(60 * time.Millisecond)

		allowed, _, err = rl.Allow(ctx, "client-a")
		require.NoError(t, err)
		assert.True(t, allowed, "old timestamps should have aged out")
	})

	t.Run("PruneDropsIdleIdentities", func(t *testing.T) {
		rl := admission.NewSlidingWindowLimiter(5, 10*time.Millisecond)

		_, _, err := rl.Allow(ctx, "client-a")
		require.NoError(t, err)

		time.Sleep(20 * time.Millisecond)
		rl.Prune()

		// Still usable after pruning.
		allowed, _, err := rl.Allow(ctx, "client-a")
		require.NoError(t, err)
		assert.True(t, allowed)
	})
}
