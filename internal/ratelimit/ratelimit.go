// Package ratelimit provides a per-exchange token bucket for order
// submission, adapted from the teacher's infrastructure/ratelimit
// (an HTTP-client rate limiter wrapping golang.org/x/time/rate) retargeted
// from HTTP requests to order placements: one token per order by default,
// deterministic refill, exhaustion surfaces as a rejection rather than a
// blocking wait (spec §4.H: "never as blocking").
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config controls one exchange identity's bucket.
type Config struct {
	RatePerSecond float64
	Burst         int
}

// DefaultConfig matches spec §4.E step 10: 10 tokens/s, burst 10.
func DefaultConfig() Config {
	return Config{RatePerSecond: 10, Burst: 10}
}

// Limiter is a single exchange's order-submission token bucket.
type Limiter struct {
	mu      sync.RWMutex
	limiter *rate.Limiter
	cfg     Config
}

// New creates a Limiter for one exchange identity.
func New(cfg Config) *Limiter {
	if cfg.RatePerSecond <= 0 {
		cfg = DefaultConfig()
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		cfg:     cfg,
	}
}

// Allow consumes one token (cost uniform unless the policy specifies
// otherwise, spec §4.H) and reports whether a token was available.
func (l *Limiter) Allow() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limiter.Allow()
}

// AllowN consumes n tokens atomically.
func (l *Limiter) AllowN(n int) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limiter.AllowN(time.Now(), n)
}

// Reset restores the bucket to its configured rate/burst, discarding any
// accumulated debt or credit.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiter = rate.NewLimiter(rate.Limit(l.cfg.RatePerSecond), l.cfg.Burst)
}

// Registry holds one Limiter per exchange identity, created lazily.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
	cfg      Config
}

// NewRegistry creates a Registry where every new exchange identity gets a
// Limiter built from cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{limiters: make(map[string]*Limiter), cfg: cfg}
}

// For returns the Limiter for exchange, creating it on first use.
func (r *Registry) For(exchange string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.limiters[exchange]
	if !ok {
		l = New(r.cfg)
		r.limiters[exchange] = l
	}
	return l
}
