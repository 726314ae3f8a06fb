// Package security enforces connection admission limits: per-IP rate
// limiting and connection count caps.
package security

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a token bucket per client IP. Stale entries are
// evicted in the background so the map cannot grow without bound.
type RateLimiter struct {
	mu         sync.Mutex
	clients    map[string]*clientLimiter
	r          rate.Limit
	burst      int
	ttl        time.Duration
	maxEntries int
	cancel     context.CancelFunc
}

// NewRateLimiter creates a per-IP limiter allowing r events per second
// with the given burst.
func NewRateLimiter(r rate.Limit, burst int) *RateLimiter {
	ctx, cancel := context.WithCancel(context.Background())
	rl := &RateLimiter{
		clients:    make(map[string]*clientLimiter),
		r:          r,
		burst:      burst,
		ttl:        10 * time.Minute,
		maxEntries: 10000,
		cancel:     cancel,
	}
	go rl.evictLoop(ctx)
	return rl
}

// Allow reports whether the given IP may proceed.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	entry, ok := rl.clients[ip]
	if !ok {
		if len(rl.clients) >= rl.maxEntries {
			rl.mu.Unlock()
			return false
		}
		entry = &clientLimiter{limiter: rate.NewLimiter(rl.r, rl.burst)}
		rl.clients[ip] = entry
	}
	entry.lastSeen = time.Now()
	rl.mu.Unlock()

	return entry.limiter.Allow()
}

// UpdateRate replaces the rate parameters. Tracked clients are dropped
// so they pick up the new rate on next access.
func (rl *RateLimiter) UpdateRate(r rate.Limit, burst int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.r = r
	rl.burst = burst
	rl.clients = make(map[string]*clientLimiter)
}

// Stop terminates the background eviction goroutine.
func (rl *RateLimiter) Stop() {
	rl.cancel()
}

func (rl *RateLimiter) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.mu.Lock()
			for ip, entry := range rl.clients {
				if time.Since(entry.lastSeen) > rl.ttl {
					delete(rl.clients, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}
