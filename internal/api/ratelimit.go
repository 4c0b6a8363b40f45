// ratelimit.go - Per-caller rate limiting for state-changing requests
package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
	"k8s.io/utils/clock"

	"github.com/HamzaZF/shieldpool/internal/pool"
)

// bucketIdleTTL is the minimum time a bucket must sit unused before it is evicted.
const bucketIdleTTL = 10 * time.Minute

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// CallerRateLimiter keeps one token bucket per authenticated caller. Buckets left unused long
// enough to have refilled are evicted, so the map only holds recently active callers.
type CallerRateLimiter struct {
	mu        sync.Mutex
	clock     clock.PassiveClock
	buckets   map[pool.Address]*bucket
	limit     rate.Limit
	burst     int
	idle      time.Duration
	nextSweep time.Time
}

// NewCallerRateLimiter allows each caller perSecond requests with bursts of burst. A
// non-positive perSecond disables limiting.
func NewCallerRateLimiter(perSecond float64, burst int) *CallerRateLimiter {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	idle := bucketIdleTTL
	if limit != rate.Inf {
		if refill := time.Duration(float64(burst) / float64(limit) * float64(time.Second)); refill > idle {
			idle = refill
		}
	}
	return &CallerRateLimiter{
		clock:   clock.RealClock{},
		buckets: make(map[pool.Address]*bucket),
		limit:   limit,
		burst:   burst,
		idle:    idle,
	}
}

// Allow checks if a request from caller is allowed.
func (l *CallerRateLimiter) Allow(caller pool.Address) bool {
	if l.limit == rate.Inf {
		return true
	}
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(now)
	b, ok := l.buckets[caller]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[caller] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

// Reset gives caller a full bucket again.
func (l *CallerRateLimiter) Reset(caller pool.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, caller)
}

func (l *CallerRateLimiter) sweep(now time.Time) {
	if now.Before(l.nextSweep) {
		return
	}
	for caller, b := range l.buckets {
		if now.Sub(b.seen) >= l.idle {
			delete(l.buckets, caller)
		}
	}
	l.nextSweep = now.Add(l.idle)
}
