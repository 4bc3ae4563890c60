// Package rpc implements the RPC envelope (C9) and the two bounded
// resources every handler shares: the per-kind token bucket (C5) and the
// correlation-id dedup cache (C6).
package rpc

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// TokenBucket is a classic leaky bucket: capacity C, refill rate r
// tokens/second, driven by a mockable monotonic clock (§4.5).
type TokenBucket struct {
	mu       sync.Mutex
	clock    clock.Clock
	capacity float64
	rate     float64 // tokens per second
	tokens   float64
	lastFill time.Time
}

// NewTokenBucket creates a full bucket of the given capacity and refill
// rate.
func NewTokenBucket(clk clock.Clock, capacity, ratePerSecond float64) *TokenBucket {
	if clk == nil {
		clk = clock.New()
	}
	return &TokenBucket{
		clock:    clk,
		capacity: capacity,
		rate:     ratePerSecond,
		tokens:   capacity,
		lastFill: clk.Now(),
	}
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	elapsed := now.Sub(b.lastFill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastFill = now
}

// TryTake returns true iff >= 1 token was available, after refilling to
// the current time first.
func (b *TokenBucket) TryTake() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// RetryAfterMs returns the milliseconds until the next token is available.
func (b *TokenBucket) RetryAfterMs() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	if b.tokens >= 1 || b.rate <= 0 {
		return 0
	}
	deficit := 1 - b.tokens
	seconds := deficit / b.rate
	return int64(seconds * 1000)
}
