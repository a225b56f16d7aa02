// api/cache/tenant_cache.go
package cache

import (
	"container/list"
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/amanshivam/auth/engine"
	logger "github.com/amanshivam/auth/logging"
	"github.com/amanshivam/auth/model"
)

// criticalEvictFraction is the share of entries dropped in one cleanup pass
// when memory pressure reaches critical. Capacity-based LRU alone is not
// enough when tenants' rule sets vary widely in size.
const criticalEvictFraction = 0.7

type cacheEntry struct {
	tenantID       string
	engine         engine.PolicyEngine
	estimatedBytes int64
	lastAccess     time.Time
	element        *list.Element // position in lruList
}

// TenantPolicyCache is the LRU map from tenant identifier to policy engine
// instance. All mutation goes through its methods; callers never touch the
// map, access order or byte accounting directly.
type TenantPolicyCache struct {
	mu           sync.Mutex
	entries      map[string]*cacheEntry
	lruList      *list.List // front = most recently used
	maxSize      int
	bytesPerRule int64
	totalBytes   int64
	build        engine.Factory
	governor     *MemoryGovernor

	cleanupInterval time.Duration
	lastCleanup     time.Time

	hits   uint64
	misses uint64
}

// NewTenantPolicyCache builds the cache. cleanupInterval rate-limits Cleanup;
// zero disables the rate limit (tests). The governor may be nil, in which
// case cleanup only enforces the capacity bound.
func NewTenantPolicyCache(maxSize int, bytesPerRule int64, cleanupInterval time.Duration, build engine.Factory, governor *MemoryGovernor) *TenantPolicyCache {
	if maxSize <= 0 {
		maxSize = 100
	}
	if bytesPerRule <= 0 {
		bytesPerRule = 512
	}
	return &TenantPolicyCache{
		entries:         make(map[string]*cacheEntry),
		lruList:         list.New(),
		maxSize:         maxSize,
		bytesPerRule:    bytesPerRule,
		build:           build,
		governor:        governor,
		cleanupInterval: cleanupInterval,
	}
}

// Get returns the tenant's engine and moves it to the MRU position. A miss
// has no side effects beyond the pressure-driven cleanup pass that runs
// first, so eviction happens on the hot path and not only on a timer.
func (c *TenantPolicyCache) Get(tenantID string) (engine.PolicyEngine, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.maybeCleanupLocked()

	entry, ok := c.entries[tenantID]
	if !ok {
		c.misses++
		return nil, false
	}
	entry.lastAccess = time.Now()
	c.lruList.MoveToFront(entry.element)
	c.hits++
	return entry.engine, true
}

// Set builds a fresh engine from the rule set and swaps it in wholesale. The
// previous instance, if any, is released after the swap; readers holding it
// keep a consistent view for their own lifetime. Inserting a new tenant at
// capacity evicts the LRU tenant first.
func (c *TenantPolicyCache) Set(tenantID string, rules []model.Rule) (engine.PolicyEngine, error) {
	// Build outside the lock; construction is pure in-memory work but can
	// be sizeable for large tenants.
	eng, err := c.build(tenantID, rules)
	if err != nil {
		return nil, err
	}
	estimated := int64(len(rules)) * c.bytesPerRule

	c.mu.Lock()
	var released []engine.PolicyEngine
	if entry, ok := c.entries[tenantID]; ok {
		released = append(released, entry.engine)
		c.totalBytes -= entry.estimatedBytes
		entry.engine = eng
		entry.estimatedBytes = estimated
		entry.lastAccess = time.Now()
		c.totalBytes += estimated
		c.lruList.MoveToFront(entry.element)
	} else {
		for len(c.entries) >= c.maxSize {
			if evicted := c.evictOldestLocked(); evicted != nil {
				released = append(released, evicted)
			} else {
				break
			}
		}
		entry := &cacheEntry{
			tenantID:       tenantID,
			engine:         eng,
			estimatedBytes: estimated,
			lastAccess:     time.Now(),
		}
		entry.element = c.lruList.PushFront(entry)
		c.entries[tenantID] = entry
		c.totalBytes += estimated
	}
	c.mu.Unlock()

	for _, old := range released {
		old.ReleaseResources()
	}
	logger.Debug("Tenant cache entry set",
		zap.String("tenant", tenantID),
		zap.Int("ruleCount", len(rules)),
		zap.Int64("estimatedBytes", estimated))
	return eng, nil
}

// Evict removes one tenant: map entry, access-order node and byte accounting
// go together under the lock, then the engine is torn down explicitly.
func (c *TenantPolicyCache) Evict(tenantID string) bool {
	c.mu.Lock()
	entry, ok := c.entries[tenantID]
	if !ok {
		c.mu.Unlock()
		return false
	}
	c.removeLocked(entry)
	c.mu.Unlock()

	entry.engine.ReleaseResources()
	logger.Info("Evicted tenant from cache", zap.String("tenant", tenantID))
	return true
}

// Cleanup runs at most once per cleanupInterval. At critical pressure it
// drops criticalEvictFraction of entries in LRU order regardless of capacity
// headroom; otherwise it only trims overflow beyond maxSize.
func (c *TenantPolicyCache) Cleanup() {
	c.mu.Lock()
	released := c.cleanupLocked()
	c.mu.Unlock()

	for _, eng := range released {
		eng.ReleaseResources()
	}
}

func (c *TenantPolicyCache) maybeCleanupLocked() {
	// Entries returned here are already unlinked from every cache
	// structure, so teardown under the lock is safe.
	for _, eng := range c.cleanupLocked() {
		eng.ReleaseResources()
	}
}

// cleanupLocked removes entries and returns their engines for teardown.
func (c *TenantPolicyCache) cleanupLocked() []engine.PolicyEngine {
	if c.cleanupInterval > 0 && time.Since(c.lastCleanup) < c.cleanupInterval {
		return nil
	}
	c.lastCleanup = time.Now()

	target := 0
	if c.governor != nil && c.governor.PressureLevel() >= PressureCritical {
		target = int(math.Ceil(float64(len(c.entries)) * criticalEvictFraction))
		if target > 0 {
			logger.Warn("Critical memory pressure, bulk-evicting tenants",
				zap.Int("evicting", target),
				zap.Int("cacheSize", len(c.entries)))
		}
	} else if overflow := len(c.entries) - c.maxSize; overflow > 0 {
		target = overflow
	}

	var released []engine.PolicyEngine
	for i := 0; i < target; i++ {
		if eng := c.evictOldestLocked(); eng != nil {
			released = append(released, eng)
		}
	}
	return released
}

func (c *TenantPolicyCache) evictOldestLocked() engine.PolicyEngine {
	oldest := c.lruList.Back()
	if oldest == nil {
		return nil
	}
	entry := oldest.Value.(*cacheEntry)
	c.removeLocked(entry)
	logger.Debug("LRU eviction", zap.String("tenant", entry.tenantID))
	return entry.engine
}

func (c *TenantPolicyCache) removeLocked(entry *cacheEntry) {
	delete(c.entries, entry.tenantID)
	c.lruList.Remove(entry.element)
	c.totalBytes -= entry.estimatedBytes
}

// Contains reports residency without touching access order or the hit/miss
// counters. Remote invalidation traffic checks residency with this so peer
// writes cannot skew the local LRU order.
func (c *TenantPolicyCache) Contains(tenantID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[tenantID]
	return ok
}

// SkipBackgroundRefresh reports whether proactive engine rebuilds (remote
// invalidation refreshes, reconciliation sweeps) should be deferred. Callers
// evict instead; the next demand loads the tenant lazily.
func (c *TenantPolicyCache) SkipBackgroundRefresh() bool {
	return c.governor != nil && c.governor.ShouldSkipBackgroundWork()
}

// Len returns the current entry count.
func (c *TenantPolicyCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns an operational snapshot.
func (c *TenantPolicyCache) Stats() model.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	tenantIDs := make([]string, 0, len(c.entries))
	for element := c.lruList.Front(); element != nil; element = element.Next() {
		tenantIDs = append(tenantIDs, element.Value.(*cacheEntry).tenantID)
	}
	stats := model.CacheStats{
		Size:                len(c.entries),
		MaxSize:             c.maxSize,
		TenantIDs:           tenantIDs,
		TotalEstimatedBytes: c.totalBytes,
		Hits:                c.hits,
		Misses:              c.misses,
	}
	if len(c.entries) > 0 {
		stats.AverageEstimatedBytes = c.totalBytes / int64(len(c.entries))
	}
	return stats
}

// StartCleanupLoop triggers periodic cleanup in addition to the hot-path
// pass, so an idle replica still sheds memory under pressure.
func (c *TenantPolicyCache) StartCleanupLoop(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}
