package middleware

import (
	"net/http"
	"sync"
	"time"
)

const (
	limiterSweepInterval = 5 * time.Minute
	limiterStaleAfter    = 10 * time.Minute
)

// RateLimiter throttles callers per client IP with a token bucket: each
// caller gets burst tokens, refilled at rate tokens per second.
type RateLimiter struct {
	mu      sync.Mutex
	callers map[string]*callerState
	rate    float64
	burst   float64
}

type callerState struct {
	tokens   float64
	lastSeen time.Time
}

// NewRateLimiter creates a per-IP rate limiter.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		callers: make(map[string]*callerState),
		rate:    rate,
		burst:   float64(burst),
	}
	go rl.sweep()
	return rl
}

// Allow takes one token for ip, reporting whether the caller is still
// within its budget.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	c, ok := rl.callers[ip]
	if !ok {
		c = &callerState{tokens: rl.burst, lastSeen: now}
		rl.callers[ip] = c
	}

	refilled := c.tokens + now.Sub(c.lastSeen).Seconds()*rl.rate
	if refilled > rl.burst {
		refilled = rl.burst
	}
	c.lastSeen = now

	if refilled < 1 {
		c.tokens = refilled
		return false
	}
	c.tokens = refilled - 1
	return true
}

// sweep drops callers idle long enough that their bucket is full again.
func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-limiterStaleAfter)
		rl.mu.Lock()
		for ip, c := range rl.callers {
			if c.lastSeen.Before(cutoff) {
				delete(rl.callers, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// RateLimit rejects callers over the configured rate with 429.
func RateLimit(rate float64, burst int) func(http.Handler) http.Handler {
	limiter := NewRateLimiter(rate, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientIP(r)) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP prefers the X-Real-Ip header the router's RealIP middleware sets.
func clientIP(r *http.Request) string {
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
