// Package middleware provides the HTTP middleware stack wrapped around the
// request dispatch pipeline: request ids and access logging, CORS, metrics,
// and per-client rate limiting.
package middleware

import (
	"net/http"
	"time"

	"github.com/conneroisu/modserve/internal/logging"
)

// Middleware represents a single middleware function
type Middleware func(http.Handler) http.Handler

// Chain is an ordered middleware stack. The first middleware added is the
// outermost wrapper: requests flow through middlewares in insertion order.
type Chain struct {
	middlewares []Middleware
}

// NewChain creates a chain from middlewares, outermost first.
func NewChain(middlewares ...Middleware) *Chain {
	c := &Chain{middlewares: make([]Middleware, 0, len(middlewares))}
	for _, m := range middlewares {
		c.Add(m)
	}

	return c
}

// Add appends a middleware inside the ones already added. Nil is ignored.
func (c *Chain) Add(m Middleware) {
	if m == nil {
		return
	}
	c.middlewares = append(c.middlewares, m)
}

// Len returns the number of middlewares in the chain.
func (c *Chain) Len() int {
	return len(c.middlewares)
}

// Apply wraps handler with every middleware in the chain.
func (c *Chain) Apply(handler http.Handler) http.Handler {
	wrapped := handler
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		wrapped = c.middlewares[i](wrapped)
	}

	return wrapped
}

// RequestRecorder receives one observation per completed request.
type RequestRecorder interface {
	RecordRequest(method string, status int, d time.Duration)
}

// Dependencies configures the default stack.
type Dependencies struct {
	Logger         logging.Logger
	Recorder       RequestRecorder
	Environment    string
	AllowedOrigins []string
	// RateLimit is requests per second per client IP; zero disables it.
	RateLimit int
	// OnRateLimited is called for each rejected request.
	OnRateLimited func()
}

// NewDefaultChain builds the standard stack, outermost first: request id
// and access log, CORS, rate limiting.
func NewDefaultChain(deps Dependencies) *Chain {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	chain := NewChain(
		RequestLogger(logger, deps.Recorder),
		CORS(deps.Environment, deps.AllowedOrigins),
	)
	if deps.RateLimit > 0 {
		chain.Add(RateLimit(NewRateLimiterRegistry(), deps.RateLimit, deps.OnRateLimited))
	}

	return chain
}

// CORS sets cross-origin headers. Allowed origins are echoed back; any
// other origin gets a wildcard in development and nothing otherwise.
func CORS(environment string, allowedOrigins []string) Middleware {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" && allowed[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			} else if environment == "" || environment == "development" {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			}

			w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, If-Modified-Since")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
