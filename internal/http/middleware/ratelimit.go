package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleEviction = 10 * time.Minute

// RateLimiter keeps one token bucket per key (client IP or session id).
type RateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*keyedLimiter
	limit     rate.Limit
	burst     int
	now       func() time.Time
	lastSweep time.Time
}

type keyedLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewRateLimiter allows perSecond requests per key with the given burst.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*keyedLimiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		now:      time.Now,
	}
}

// Allow spends one token from key's bucket.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.evictIdle(now)
	kl, ok := rl.limiters[key]
	if !ok {
		kl = &keyedLimiter{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[key] = kl
	}
	kl.seen = now
	return kl.lim.AllowN(now, 1)
}

// evictIdle drops limiters untouched for a while. Caller holds mu.
func (rl *RateLimiter) evictIdle(now time.Time) {
	if now.Sub(rl.lastSweep) < limiterIdleEviction/2 {
		return
	}
	rl.lastSweep = now
	cutoff := now.Add(-limiterIdleEviction)
	for key, kl := range rl.limiters {
		if kl.seen.Before(cutoff) {
			delete(rl.limiters, key)
		}
	}
}

// ClientIP keys requests by the address chi's RealIP middleware resolved.
func ClientIP(r *http.Request) string {
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

// RateLimit rejects requests over the limit with 429. A non-positive rate disables it.
func RateLimit(limiter *RateLimiter, key func(*http.Request) string) func(http.Handler) http.Handler {
	if key == nil {
		key = ClientIP
	}
	return func(next http.Handler) http.Handler {
		if limiter == nil || limiter.limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(key(r)) {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
