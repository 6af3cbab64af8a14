// ratelimit.go implements token-bucket rate limiting for the Polymarket CLOB API.
//
// Polymarket enforces per-category rate limits measured in requests per 10-second
// windows. This file provides a smooth token-bucket implementation that refills
// continuously (rather than in 10s bursts) to avoid hitting hard limits.
//
// Bucket sizing comes from config.RateLimitConfig (internal/config) rather
// than being baked in here, since a different API key tier or a venue other
// than Polymarket's published defaults can warrant different limits without
// a rebuild.
package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/favored-labs/predictmm/internal/config"
)

// TokenBucket implements a token-bucket rate limiter with continuous refill.
// Callers block in Wait() until a token is available or the context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64   // current available tokens (fractional allowed)
	capacity float64   // maximum burst size
	rate     float64   // tokens refilled per second
	lastTime time.Time // last time tokens were calculated
}

// NewTokenBucket creates a rate limiter with the given capacity and refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		// Calculate wait time for next token
		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			// retry
		}
	}
}

// RateLimiter groups token buckets by Polymarket API endpoint category.
// Each trading operation must call the appropriate bucket's Wait() before
// making the HTTP request.
type RateLimiter struct {
	Order  *TokenBucket // POST /orders — placing new orders
	Cancel *TokenBucket // DELETE /orders, /cancel-all, /cancel-market-orders
	Book   *TokenBucket // GET /book — order book reads
}

// NewRateLimiter creates rate limiters sized from cfg. Capacities are the
// burst allowance, rates are the steady-state refill per second.
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		Order:  NewTokenBucket(cfg.OrderBurst, cfg.OrderRate),
		Cancel: NewTokenBucket(cfg.CancelBurst, cfg.CancelRate),
		Book:   NewTokenBucket(cfg.BookBurst, cfg.BookRate),
	}
}
