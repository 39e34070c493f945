package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RealIP extracts the client's address, preferring CF-Connecting-IP, then the
// first hop of X-Forwarded-For, and falling back to RemoteAddr.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ByIP keys rate limits on the route pattern and client address so each
// endpoint gets its own budget.
func ByIP(r *http.Request) string {
	return r.Pattern + "|" + RealIP(r)
}

type window struct {
	count   int
	resetAt time.Time
}

// RateLimiter is a fixed-window counter keyed by arbitrary strings.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow counts a hit for key and reports whether it is within limit for the
// current window, along with the time the window resets.
func (rl *RateLimiter) Allow(key string, limit int, period time.Duration) (bool, time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(period)}
		rl.windows[key] = w
	}
	w.count++
	return w.count <= limit, w.resetAt
}

// Cleanup drops windows that have already reset and returns how many it removed.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for key, w := range rl.windows {
		if !now.Before(w.resetAt) {
			delete(rl.windows, key)
			removed++
		}
	}
	return removed
}

// RateLimit rejects requests over limit per period with 429 and a Retry-After
// header.
func RateLimit(limiter *RateLimiter, keyFunc func(*http.Request) string, limit int, period time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, resetAt := limiter.Allow(keyFunc(r), limit, period)
			if !ok {
				secs := int(time.Until(resetAt).Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				writeJSONError(w, http.StatusTooManyRequests, "rate_limited")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
