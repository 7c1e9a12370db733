package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/hrygo/rentflow/internal/clock"
)

// DefaultIdleTTL is how long a key's bucket survives without requests.
const DefaultIdleTTL = 10 * time.Minute

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per key. Buckets idle for longer than the
// idle TTL are evicted, so the map stays bounded by the keys active in that window.
type RateLimiter struct {
	mu        sync.Mutex
	limits    map[string]*bucket
	rate      rate.Limit
	burst     int
	idleTTL   time.Duration
	clock     clock.Clock
	lastSweep time.Time
}

// NewRateLimiter creates a limiter allowing r events per second per key with the given burst.
func NewRateLimiter(r rate.Limit, burst int) *RateLimiter {
	return &RateLimiter{
		limits:  make(map[string]*bucket),
		rate:    r,
		burst:   burst,
		idleTTL: DefaultIdleTTL,
		clock:   clock.Default(),
	}
}

// WithIdleTTL overrides the idle TTL and the clock measuring it.
func (rl *RateLimiter) WithIdleTTL(ttl time.Duration, clk clock.Clock) *RateLimiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.idleTTL = ttl
	if clk != nil {
		rl.clock = clk
	}
	return rl
}

// Len returns the number of tracked keys.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limits)
}

// getLimiter gets or creates a limiter for the given key.
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	rl.evictIdle(now)

	if b, ok := rl.limits[key]; ok {
		b.lastSeen = now
		return b.limiter
	}
	limiter := rate.NewLimiter(rl.rate, rl.burst)
	rl.limits[key] = &bucket{limiter: limiter, lastSeen: now}
	return limiter
}

// evictIdle drops idle buckets, at most once per idle TTL. Callers hold rl.mu.
func (rl *RateLimiter) evictIdle(now time.Time) {
	if rl.idleTTL <= 0 || now.Sub(rl.lastSweep) < rl.idleTTL {
		return
	}
	rl.lastSweep = now
	for key, b := range rl.limits {
		if now.Sub(b.lastSeen) >= rl.idleTTL {
			delete(rl.limits, key)
		}
	}
}

// Allow checks if a request is allowed for the given key.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.getLimiter(key).Allow()
}

// Wait waits for a request to be allowed.
// Returns error if the context is cancelled or rate limit exceeded.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	return rl.getLimiter(key).Wait(ctx)
}

// Middleware rejects requests over the client IP's budget with 429.
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !rl.Allow(c.RealIP()) {
				return c.JSON(http.StatusTooManyRequests, map[string]string{
					"code":    "RATE_LIMITED",
					"message": "too many requests",
				})
			}
			return next(c)
		}
	}
}
