package api

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter holds one token bucket per API key hash. Buckets are created
// lazily and never expire; acceptable at prototype scale.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	rps     rate.Limit
	burst   int
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = int(rps) * 2
	}
	return &RateLimiter{buckets: map[string]*rate.Limiter{}, rps: rate.Limit(rps), burst: burst}
}

// Allow reports whether the key may make a request now.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	b, ok := rl.buckets[key]
	if !ok {
		b = rate.NewLimiter(rl.rps, rl.burst)
		rl.buckets[key] = b
	}
	rl.mu.Unlock()
	return b.Allow()
}
