// ratelimit.go - Per-client rate limiting for the pool daemon
package main

import (
	"sync"
	"time"
)

// RateLimiter is a token bucket: burst capacity maxTokens, refilled at
// refillRate tokens per refillPeriod.
type RateLimiter struct {
	mu           sync.Mutex
	tokens       int
	maxTokens    int
	refillRate   int
	refillPeriod time.Duration
	lastRefill   time.Time
	lastUsed     time.Time
}

// NewRateLimiter creates a full bucket
func NewRateLimiter(maxTokens, refillRate int, refillPeriod time.Duration) *RateLimiter {
	now := time.Now()
	return &RateLimiter{
		tokens:       maxTokens,
		maxTokens:    maxTokens,
		refillRate:   refillRate,
		refillPeriod: refillPeriod,
		lastRefill:   now,
		lastUsed:     now,
	}
}

// Allow consumes a token if one is available
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rl.lastUsed = now

	if elapsed := now.Sub(rl.lastRefill); elapsed >= rl.refillPeriod {
		refills := int(elapsed / rl.refillPeriod)
		rl.tokens += refills * rl.refillRate
		if rl.tokens > rl.maxTokens {
			rl.tokens = rl.maxTokens
		}
		rl.lastRefill = rl.lastRefill.Add(time.Duration(refills) * rl.refillPeriod)
	}

	if rl.tokens > 0 {
		rl.tokens--
		return true
	}
	return false
}

// Tokens returns the tokens currently available
func (rl *RateLimiter) Tokens() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.tokens
}

func (rl *RateLimiter) idleSince(cutoff time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.lastUsed.Before(cutoff)
}

// ClientRateLimiter keeps one bucket per client address. Buckets idle for
// longer than the prune window are dropped so the map stays bounded.
type ClientRateLimiter struct {
	mu           sync.Mutex
	limiters     map[string]*RateLimiter
	maxTokens    int
	refillRate   int
	refillPeriod time.Duration
	pruneWindow  time.Duration
	lastPrune    time.Time
}

// NewClientRateLimiter creates a per-client limiter factory
func NewClientRateLimiter(maxTokens, refillRate int, refillPeriod time.Duration) *ClientRateLimiter {
	return &ClientRateLimiter{
		limiters:     make(map[string]*RateLimiter),
		maxTokens:    maxTokens,
		refillRate:   refillRate,
		refillPeriod: refillPeriod,
		pruneWindow:  10 * time.Minute,
		lastPrune:    time.Now(),
	}
}

// Allow checks the bucket for clientID, creating one on first sight
func (crl *ClientRateLimiter) Allow(clientID string) bool {
	crl.mu.Lock()
	limiter, exists := crl.limiters[clientID]
	if !exists {
		limiter = NewRateLimiter(crl.maxTokens, crl.refillRate, crl.refillPeriod)
		crl.limiters[clientID] = limiter
	}
	crl.maybePrune()
	crl.mu.Unlock()

	return limiter.Allow()
}

// Tokens reports the tokens left for clientID, full bucket if unseen
func (crl *ClientRateLimiter) Tokens(clientID string) int {
	crl.mu.Lock()
	limiter, exists := crl.limiters[clientID]
	crl.mu.Unlock()

	if !exists {
		return crl.maxTokens
	}
	return limiter.Tokens()
}

// maybePrune drops idle buckets; caller holds crl.mu.
func (crl *ClientRateLimiter) maybePrune() {
	now := time.Now()
	if now.Sub(crl.lastPrune) < crl.pruneWindow {
		return
	}
	cutoff := now.Add(-crl.pruneWindow)
	for id, limiter := range crl.limiters {
		if limiter.idleSince(cutoff) {
			delete(crl.limiters, id)
		}
	}
	crl.lastPrune = now
}
