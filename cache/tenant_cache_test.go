// api/cache/tenant_cache_test.go
package cache_test

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amanshivam/auth/cache"
	"github.com/amanshivam/auth/engine"
	auth_errors "github.com/amanshivam/auth/errors"
	"github.com/amanshivam/auth/model"
)

// fakeEngine records teardown so eviction tests can assert explicit release.
type fakeEngine struct {
	tenantID string
	rules    []model.Rule
	released atomic.Bool
}

func (f *fakeEngine) Evaluate(subject, object, action string) (bool, error) { return false, nil }
func (f *fakeEngine) ListRules(kind model.RuleKind) ([]model.Rule, error) {
	var out []model.Rule
	for _, r := range f.rules {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out, nil
}
func (f *fakeEngine) AddRuleInMemory(rule model.Rule) error { return nil }
func (f *fakeEngine) RemoveAllRules()                       { f.rules = nil }
func (f *fakeEngine) ReleaseResources()                     { f.released.Store(true) }
func (f *fakeEngine) RuleCount() int                        { return len(f.rules) }
func (f *fakeEngine) TenantID() string                      { return f.tenantID }

type fakeFactory struct {
	mu    sync.Mutex
	built []*fakeEngine
}

func (ff *fakeFactory) build(tenantID string, rules []model.Rule) (engine.PolicyEngine, error) {
	eng := &fakeEngine{tenantID: tenantID, rules: rules}
	ff.mu.Lock()
	ff.built = append(ff.built, eng)
	ff.mu.Unlock()
	return eng, nil
}

func rulesFor(tenant string, n int) []model.Rule {
	rules := make([]model.Rule, 0, n)
	for i := 0; i < n; i++ {
		rules = append(rules, model.NewPermissionRule("sub", fmt.Sprintf("obj%d", i), "read", tenant))
	}
	return rules
}

func TestTenantPolicyCache(t *testing.T) {
	t.Run("GetMiss_NoSideEffects", func(t *testing.T) {
		factory := &fakeFactory{}
		c := cache.NewTenantPolicyCache(3, 512, 0, factory.build, nil)

		_, ok := c.Get("t1")
		assert.False(t, ok)
		assert.Equal(t, 0, c.Len())
	})

	t.Run("SetThenGet", func(t *testing.T) {
		factory := &fakeFactory{}
		c := cache.NewTenantPolicyCache(3, 512, 0, factory.build, nil)

		_, err := c.Set("t1", rulesFor("t1", 4))
		require.NoError(t, err)

		eng, ok := c.Get("t1")
		require.True(t, ok)
		assert.Equal(t, "t1", eng.TenantID())
		assert.Equal(t, 4, eng.RuleCount())
	})

	t.Run("LRUEvictionAtCapacity", func(t *testing.T) {
		factory := &fakeFactory{}
		c := cache.NewTenantPolicyCache(2, 512, 0, factory.build, nil)

		_, err := c.Set("t1", rulesFor("t1", 1))
		require.NoError(t, err)
		_, err = c.Set("t2", rulesFor("t2", 1))
		require.NoError(t, err)

		// Touch t1 so t2 becomes the LRU candidate.
		_, ok := c.Get("t1")
		require.True(t, ok)

		_, err = c.Set("t3", rulesFor("t3", 1))
		require.NoError(t, err)

		assert.Equal(t, 2, c.Len())
		_, ok = c.Get("t2")
		assert.False(t, ok, "LRU tenant should have been evicted")
		_, ok = c.Get("t1")
		assert.True(t, ok)

		// The evicted engine must have been torn down explicitly.
		evicted := factory.built[1]
		assert.True(t, evicted.released.Load())
	})

	t.Run("ReplaceReleasesOldInstance", func(t *testing.T) {
		factory := &fakeFactory{}
		c := cache.NewTenantPolicyCache(3, 512, 0, factory.build, nil)

		_, err := c.Set("t1", rulesFor("t1", 1))
		require.NoError(t, err)
		_, err = c.Set("t1", rulesFor("t1", 2))
		require.NoError(t, err)

		assert.Equal(t, 1, c.Len())
		assert.True(t, factory.built[0].released.Load())
		assert.False(t, factory.built[1].released.Load())

		eng, ok := c.Get("t1")
		require.True(t, ok)
		assert.Equal(t, 2, eng.RuleCount())
	})

	t.Run("ReplacedInstanceFailsClosedForLateReaders", func(t *testing.T) {
		c := cache.NewTenantPolicyCache(3, 512, 0, engine.NewCasbinEngine, nil)
		rules := []model.Rule{
			model.NewPermissionRule("admin", "doc1", "read", "t1"),
			model.NewGroupingRule("alice", "admin", "t1"),
		}

		_, err := c.Set("t1", rules)
		require.NoError(t, err)
		old, ok := c.Get("t1")
		require.True(t, ok)

		// A refresh swaps in a replacement and releases the old instance
		// while the reader above still holds it.
		_, err = c.Set("t1", rules)
		require.NoError(t, err)

		// The stale handle must error rather than deny a granted
		// permission; the caller re-fetches and gets the right answer.
		allowed, err := old.Evaluate("alice", "doc1", "read")
		assert.ErrorIs(t, err, auth_errors.ErrEngineReleased)
		assert.False(t, allowed)

		fresh, ok := c.Get("t1")
		require.True(t, ok)
		allowed, err = fresh.Evaluate("alice", "doc1", "read")
		require.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("ContainsDoesNotTouchAccessOrder", func(t *testing.T) {
		factory := &fakeFactory{}
		c := cache.NewTenantPolicyCache(3, 512, 0, factory.build, nil)

		_, err := c.Set("t1", rulesFor("t1", 1))
		require.NoError(t, err)
		_, err = c.Set("t2", rulesFor("t2", 1))
		require.NoError(t, err)

		assert.True(t, c.Contains("t1"))
		assert.False(t, c.Contains("t9"))

		// Residency checks promote nothing and count nothing.
		stats := c.Stats()
		assert.Equal(t, "t2", stats.TenantIDs[0], "t2 must stay most recently used")
		assert.Equal(t, uint64(0), stats.Hits)
		assert.Equal(t, uint64(0), stats.Misses)
	})

	t.Run("EvictRemovesAllState", func(t *testing.T) {
		factory := &fakeFactory{}
		c := cache.NewTenantPolicyCache(3, 512, 0, factory.build, nil)

		_, err := c.Set("t1", rulesFor("t1", 3))
		require.NoError(t, err)
		require.True(t, c.Evict("t1"))

		_, ok := c.Get("t1")
		assert.False(t, ok)
		stats := c.Stats()
		assert.Equal(t, 0, stats.Size)
		assert.NotContains(t, stats.TenantIDs, "t1")
		assert.Equal(t, int64(0), stats.TotalEstimatedBytes)
		assert.True(t, factory.built[0].released.Load())

		assert.False(t, c.Evict("t1"), "second evict should report absence")
	})

	t.Run("ByteAccounting", func(t *testing.T) {
		factory := &fakeFactory{}
		c := cache.NewTenantPolicyCache(3, 100, 0, factory.build, nil)

		_, err := c.Set("t1", rulesFor("t1", 2))
		require.NoError(t, err)
		_, err = c.Set("t2", rulesFor("t2", 4))
		require.NoError(t, err)

		stats := c.Stats()
		assert.Equal(t, int64(600), stats.TotalEstimatedBytes)
		assert.Equal(t, int64(300), stats.AverageEstimatedBytes)

		// Replacement recomputes the estimate.
		_, err = c.Set("t2", rulesFor("t2", 1))
		require.NoError(t, err)
		assert.Equal(t, int64(300), c.Stats().TotalEstimatedBytes)
	})

	t.Run("CriticalPressureBulkEviction", func(t *testing.T) {
		var heapUsed atomic.Uint64
		heapUsed.Store(100)
		governor := cache.NewMemoryGovernorWithSampler(1000, heapUsed.Load)

		factory := &fakeFactory{}
		c := cache.NewTenantPolicyCache(10, 512, 0, factory.build, governor)
		for i := 0; i < 10; i++ {
			_, err := c.Set(fmt.Sprintf("t%d", i), rulesFor(fmt.Sprintf("t%d", i), 1))
			require.NoError(t, err)
		}
		require.Equal(t, 10, c.Len())

		// Normal pressure: within capacity, cleanup evicts nothing.
		c.Cleanup()
		assert.Equal(t, 10, c.Len())

		// Critical pressure: 70% of entries go, LRU first.
		heapUsed.Store(900)
		c.Cleanup()
		assert.Equal(t, 3, c.Len())

		stats := c.Stats()
		assert.Contains(t, stats.TenantIDs, "t9")
		assert.NotContains(t, stats.TenantIDs, "t0")
	})

	t.Run("StatsMRUOrder", func(t *testing.T) {
		factory := &fakeFactory{}
		c := cache.NewTenantPolicyCache(3, 512, 0, factory.build, nil)

		_, err := c.Set("t1", rulesFor("t1", 1))
		require.NoError(t, err)
		_, err = c.Set("t2", rulesFor("t2", 1))
		require.NoError(t, err)
		_, ok := c.Get("t1")
		require.True(t, ok)

		stats := c.Stats()
		require.Len(t, stats.TenantIDs, 2)
		assert.Equal(t, "t1", stats.TenantIDs[0], "most recently used first")
	})

	t.Run("ConcurrentAccess", func(t *testing.T) {
		factory := &fakeFactory{}
		c := cache.NewTenantPolicyCache(8, 512, 0, factory.build, nil)

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				tenant := fmt.Sprintf("t%d", i%4)
				for j := 0; j < 50; j++ {
					if _, ok := c.Get(tenant); !ok {
						_, _ = c.Set(tenant, rulesFor(tenant, 2))
					}
				}
			}(i)
		}
		wg.Wait()

		assert.LessOrEqual(t, c.Len(), 8)
	})
}
