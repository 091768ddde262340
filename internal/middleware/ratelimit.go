package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"

	"golang.org/x/time/rate"

	"github.com/conneroisu/modserve/internal/errors"
)

// RateLimiterRegistry manages one token bucket per client key.
//
// Limiters are never evicted, so the registry grows with every distinct
// client for the life of the process. That is fine for a development
// server on a local network; a long-lived deployment needs expiry on top.
type RateLimiterRegistry struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiterRegistry creates a new RateLimiterRegistry.
func NewRateLimiterRegistry() *RateLimiterRegistry {
	return &RateLimiterRegistry{
		limiters: make(map[string]*rate.Limiter),
	}
}

// GetOrCreate retrieves an existing rate limiter or creates a new one
// allowing rps requests per second with a burst of twice that.
func (r *RateLimiterRegistry) GetOrCreate(key string, rps int) *rate.Limiter {
	r.mu.RLock()
	limiter, exists := r.limiters[key]
	r.mu.RUnlock()

	if exists {
		return limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if limiter, exists := r.limiters[key]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rate.Limit(rps), 2*rps)
	r.limiters[key] = limiter

	return limiter
}

// Len returns the number of tracked clients.
func (r *RateLimiterRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.limiters)
}

// RateLimit rejects requests beyond rps per client IP with 429 and a
// structured error body.
func RateLimit(registry *RateLimiterRegistry, rps int, onLimited func()) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if registry.GetOrCreate(clientIP(r), rps).Allow() {
				next.ServeHTTP(w, r)
				return
			}

			if onLimited != nil {
				onLimited()
			}

			appErr := errors.New("too many requests", errors.CodeRateLimited, http.StatusTooManyRequests,
				"limit is "+strconv.Itoa(rps)+" requests per second")
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(appErr.Status)
			_ = json.NewEncoder(w).Encode(appErr)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
