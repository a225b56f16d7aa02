// api/admission/rate_limiter.go
package admission

import (
	"context"
	"sync"
	"time"
)

// Limiter is a per-source sliding-window rate limiter. retryAfter is a hint
// for rejected callers; it is zero when the request is allowed.
type Limiter interface {
	Allow(ctx context.Context, clientID string) (allowed bool, retryAfter time.Duration, err error)
}

// SlidingWindowLimiter tracks request timestamps per client identity in
// memory. Timestamps older than the window are evicted on each check.
type SlidingWindowLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	requests map[string][]time.Time
}

func NewSlidingWindowLimiter(limit int, window time.Duration) *SlidingWindowLimiter {
	if limit <= 0 {
		limit = 100
	}
	if window <= 0 {
		window = time.Minute
	}
	return &SlidingWindowLimiter{
		limit:    limit,
		window:   window,
		requests: make(map[string][]time.Time),
	}
}

func (rl *SlidingWindowLimiter) Allow(ctx context.Context, clientID string) (bool, time.Duration, error) {
	now := time.Now()
	cutoff := now.Add(-rl.window)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	timestamps := rl.requests[clientID]
	kept := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= rl.limit {
		rl.requests[clientID] = kept
		retryAfter := rl.window - now.Sub(kept[0])
		if retryAfter < 0 {
			retryAfter = 0
		}
		return false, retryAfter, nil
	}

	rl.requests[clientID] = append(kept, now)
	return true, 0, nil
}

// Prune drops identities with no requests inside the window, bounding the
// map across an unbounded client population.
func (rl *SlidingWindowLimiter) Prune() {
	cutoff := time.Now().Add(-rl.window)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for clientID, timestamps := range rl.requests {
		live := false
		for _, ts := range timestamps {
			if ts.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(rl.requests, clientID)
		}
	}
}

// StartPruner runs Prune periodically until ctx is done.
func (rl *SlidingWindowLimiter) StartPruner(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Prune()
			case <-ctx.Done():
				return
			}
		}
	}()
}
