// Package ratelimit throttles outbound LLM calls per repository so one busy
// repository cannot starve the rest.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
)

// Pool manages per-key token-bucket limiters. A zero or negative rate for a
// key disables limiting for it, so misconfiguration fails open.
type Pool struct {
	limiters map[string]*rate.Limiter
	rates    map[string]int
	mu       sync.Mutex
	logger   *slog.Logger
}

// NewPool creates an empty limiter pool.
func NewPool(logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		limiters: make(map[string]*rate.Limiter),
		rates:    make(map[string]int),
		logger:   logger,
	}
}

// getOrCreate returns the limiter for key, creating it at requestsPerMinute.
// A key keeps its original rate; later callers asking for a different rate
// get the existing limiter with a warning.
func (p *Pool) getOrCreate(key string, requestsPerMinute int) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if limiter, ok := p.limiters[key]; ok {
		if existing := p.rates[key]; existing != requestsPerMinute {
			p.logger.Warn("rate limiter exists with different rate, keeping existing",
				"key", key, "existing_rpm", existing, "requested_rpm", requestsPerMinute)
		}
		return limiter
	}

	rps := float64(requestsPerMinute) / 60.0
	burst := requestsPerMinute / 5
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	p.limiters[key] = limiter
	p.rates[key] = requestsPerMinute

	p.logger.Debug("created rate limiter", "key", key, "rpm", requestsPerMinute, "burst", burst)
	return limiter
}

// Wait blocks until the key's limiter admits one request or the context is
// cancelled. requestsPerMinute <= 0 admits immediately.
func (p *Pool) Wait(ctx context.Context, key string, requestsPerMinute int) error {
	if requestsPerMinute <= 0 {
		return nil
	}
	return p.getOrCreate(key, requestsPerMinute).Wait(ctx)
}

// Allow reports whether one request for key is admissible right now without
// blocking. requestsPerMinute <= 0 always admits.
func (p *Pool) Allow(key string, requestsPerMinute int) bool {
	if requestsPerMinute <= 0 {
		return true
	}
	return p.getOrCreate(key, requestsPerMinute).Allow()
}
