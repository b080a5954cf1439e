package httpmiddleware

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures the per-key token bucket rate limiter.
type RateLimitConfig struct {
	// Max is the bucket capacity: the number of requests allowed in a burst
	// and, together with Window, the sustained rate (Max per Window).
	Max int
	// Window is the time it takes an empty bucket to refill completely.
	Window time.Duration
	// KeyFunc extracts the rate limit key from a request.
	// If nil, the client IP address is used.
	KeyFunc func(*http.Request) string
}

// bucket tracks a single client's remaining tokens.
type bucket struct {
	tokens   float64
	lastSeen time.Time
}

type rateLimiter struct {
	cfg     RateLimitConfig
	rate    float64 // tokens per second
	mu      sync.Mutex
	buckets map[string]*bucket
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = clientIP
	}
	return &rateLimiter{
		cfg:     cfg,
		rate:    float64(cfg.Max) / cfg.Window.Seconds(),
		buckets: make(map[string]*bucket),
	}
}

// allow takes one token from the key's bucket if available. It returns the
// remaining whole tokens, the time at which the bucket is full again, and
// whether the request is allowed.
func (rl *rateLimiter) allow(key string, now time.Time) (remaining int, resetAt time.Time, allowed bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(rl.cfg.Max), lastSeen: now}
		rl.buckets[key] = b
	} else {
		b.tokens += now.Sub(b.lastSeen).Seconds() * rl.rate
		if b.tokens > float64(rl.cfg.Max) {
			b.tokens = float64(rl.cfg.Max)
		}
		b.lastSeen = now
	}

	refillSecs := (float64(rl.cfg.Max) - b.tokens) / rl.rate
	resetAt = now.Add(time.Duration(refillSecs * float64(time.Second)))

	if b.tokens < 1 {
		return 0, resetAt, false
	}
	b.tokens--
	return int(b.tokens), resetAt, true
}

// cleanup evicts buckets idle long enough to have fully refilled.
func (rl *rateLimiter) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) >= rl.cfg.Window {
			delete(rl.buckets, key)
		}
	}
}

// RateLimit returns a middleware enforcing a per-key token bucket limit.
// Exceeding it yields 429 Too Many Requests with a JSON body; every response
// carries X-RateLimit-Limit, X-RateLimit-Remaining, and X-RateLimit-Reset.
//
// This variant does not start a background cleanup goroutine. Use
// RateLimitWithCleanup for automatic eviction of idle entries.
func RateLimit(cfg RateLimitConfig) Middleware {
	return rateLimitMiddleware(newRateLimiter(cfg))
}

// RateLimitWithCleanup is like RateLimit but also evicts idle entries every
// two windows in a background goroutine that stops when ctx is cancelled.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	rl := newRateLimiter(cfg)
	go func() {
		ticker := time.NewTicker(2 * cfg.Window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				rl.cleanup(now)
			}
		}
	}()
	return rateLimitMiddleware(rl)
}

func rateLimitMiddleware(rl *rateLimiter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			remaining, resetAt, allowed := rl.allow(rl.cfg.KeyFunc(r), time.Now())

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.cfg.Max))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

			if !allowed {
				retryAfter := time.Until(resetAt)
				if retryAfter < 0 {
					retryAfter = 0
				}
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"code":    "rate_limited",
					"message": "rate limit exceeded",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the client IP from the request, preferring
// X-Forwarded-For, then X-Real-IP, then RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
