// api/cache/memory_governor.go
package cache

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	logger "github.com/amanshivam/auth/logging"
	"github.com/amanshivam/auth/model"
)

// PressureLevel classifies process memory pressure.
type PressureLevel int

const (
	PressureNormal PressureLevel = iota
	PressureElevated
	PressureCritical
	PressureEmergency
)

func (p PressureLevel) String() string {
	switch p {
	case PressureNormal:
		return "normal"
	case PressureElevated:
		return "elevated"
	case PressureCritical:
		return "critical"
	case PressureEmergency:
		return "emergency"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

const (
	elevatedRatio  = 0.70
	criticalRatio  = 0.85
	emergencyRatio = 0.95
	gcHintRatio    = 0.60

	// minGCInterval keeps the advisory GC hint from thrashing.
	minGCInterval = 30 * time.Second
)

// MemoryGovernor samples heap usage against a configured budget and
// classifies it into pressure bands. It holds no cache state; the tenant
// policy cache consults it during cleanup.
type MemoryGovernor struct {
	maxHeapBytes uint64
	readHeap     func() uint64

	mu     sync.Mutex
	lastGC time.Time
}

// NewMemoryGovernor measures live heap allocation against maxHeapBytes.
func NewMemoryGovernor(maxHeapBytes uint64) *MemoryGovernor {
	return &MemoryGovernor{
		maxHeapBytes: maxHeapBytes,
		readHeap: func() uint64 {
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			return ms.HeapAlloc
		},
	}
}

// NewMemoryGovernorWithSampler injects a heap reader; used by tests to force
// specific pressure bands.
func NewMemoryGovernorWithSampler(maxHeapBytes uint64, readHeap func() uint64) *MemoryGovernor {
	return &MemoryGovernor{maxHeapBytes: maxHeapBytes, readHeap: readHeap}
}

// Sample reads current heap usage, optionally requests an advisory GC, and
// returns a stats snapshot.
func (g *MemoryGovernor) Sample() model.MemoryStats {
	used := g.readHeap()
	ratio := g.ratio(used)

	if ratio > gcHintRatio {
		g.maybeHintGC()
	}

	return model.MemoryStats{
		HeapUsedBytes: used,
		MaxHeapBytes:  g.maxHeapBytes,
		UsageRatio:    ratio,
		PressureLevel: g.classify(ratio).String(),
	}
}

// PressureLevel samples on demand and returns the current band.
func (g *MemoryGovernor) PressureLevel() PressureLevel {
	return g.classify(g.ratio(g.readHeap()))
}

// ShouldSkipBackgroundWork reports whether non-essential background work
// (periodic refresh, reconciliation sweeps) should be deferred.
func (g *MemoryGovernor) ShouldSkipBackgroundWork() bool {
	return g.PressureLevel() >= PressureCritical
}

func (g *MemoryGovernor) ratio(used uint64) float64 {
	if g.maxHeapBytes == 0 {
		return 0
	}
	return float64(used) / float64(g.maxHeapBytes)
}

func (g *MemoryGovernor) classify(ratio float64) PressureLevel {
	switch {
	case ratio > emergencyRatio:
		return PressureEmergency
	case ratio > criticalRatio:
		return PressureCritical
	case ratio >= elevatedRatio:
		return PressureElevated
	default:
		return PressureNormal
	}
}

// maybeHintGC requests a collection at most once per minGCInterval. Advisory
// only; eviction correctness never depends on it.
func (g *MemoryGovernor) maybeHintGC() {
	g.mu.Lock()
	if time.Since(g.lastGC) < minGCInterval {
		g.mu.Unlock()
		return
	}
	g.lastGC = time.Now()
	g.mu.Unlock()

	logger.Debug("Requesting advisory GC")
	runtime.GC()
}

// Start runs the sampling loop, invoking onPressure whenever the band is
// elevated or worse so the cache can run an eviction pass off the hot path.
func (g *MemoryGovernor) Start(ctx context.Context, interval time.Duration, onPressure func(PressureLevel)) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				stats := g.Sample()
				level := g.classify(stats.UsageRatio)
				if level >= PressureElevated {
					logger.Warn("Memory pressure detected",
						zap.String("level", level.String()),
						zap.Uint64("heapUsedBytes", stats.HeapUsedBytes),
						zap.Float64("usageRatio", stats.UsageRatio))
					if onPressure != nil {
						onPressure(level)
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
