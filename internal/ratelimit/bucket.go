// Package ratelimit implements gateway admission control: in-process token
// buckets for per-instance QPS and tokens-per-minute limits, plus an
// optional Redis-backed sliding window limiter shared across replicas.
package ratelimit

import (
	"sync"
	"time"
)

// Decline reasons reported by RateLimiter.Allow.
const (
	ReasonQPS = "qps_limit"
	ReasonTPM = "tpm_limit"
)

// TokenBucket is a classic token bucket: it holds up to capacity tokens
// and refills continuously at refillRate tokens per second.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	refillRate float64
	tokens     float64
	lastRefill time.Time

	now func() time.Time // injectable for tests
}

// NewTokenBucket returns a full bucket.
func NewTokenBucket(capacity, refillRate float64) *TokenBucket {
	b := &TokenBucket{
		capacity:   capacity,
		refillRate: refillRate,
		tokens:     capacity,
		now:        time.Now,
	}
	b.lastRefill = b.now()
	return b
}

// Consume takes n tokens if available. Returns false, consuming nothing,
// when the bucket holds fewer than n tokens.
func (b *TokenBucket) Consume(n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}

// Available returns the current token count after refill.
func (b *TokenBucket) Available() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens
}

func (b *TokenBucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = min(b.capacity, b.tokens+elapsed*b.refillRate)
	}
	b.lastRefill = now
}

// has reports whether n tokens are available without consuming them.
func (b *TokenBucket) has(n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens >= n
}

// take removes n tokens unconditionally. Callers must have checked has
// first; take never drives the count below zero.
func (b *TokenBucket) take(n float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	b.tokens = max(0, b.tokens-n)
}

// RateLimiter gates requests on two budgets: a queries-per-second bucket
// (cost 1 per request) and a tokens-per-minute bucket (cost = estimated
// token count). A limit of zero or less disables that bucket.
type RateLimiter struct {
	mu  sync.Mutex
	qps *TokenBucket
	tpm *TokenBucket
}

// Stats is a point-in-time snapshot of remaining budget.
type Stats struct {
	QPSRemaining float64 `json:"qps_remaining"`
	TPMRemaining float64 `json:"tpm_remaining"`
}

// New builds a RateLimiter. maxQPS refills at maxQPS tokens/sec; maxTPM
// refills at maxTPM/60 tokens/sec.
func New(maxQPS, maxTPM int) *RateLimiter {
	l := &RateLimiter{}
	if maxQPS > 0 {
		l.qps = NewTokenBucket(float64(maxQPS), float64(maxQPS))
	}
	if maxTPM > 0 {
		l.tpm = NewTokenBucket(float64(maxTPM), float64(maxTPM)/60)
	}
	return l
}

// Allow decides admission for a request estimated at estimatedTokens
// tokens. The QPS budget is checked before the TPM budget. When either
// budget declines, neither bucket loses tokens.
func (l *RateLimiter) Allow(estimatedTokens int) (bool, string) {
	if l == nil {
		return true, ""
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.qps != nil && !l.qps.has(1) {
		return false, ReasonQPS
	}
	if l.tpm != nil && !l.tpm.has(float64(estimatedTokens)) {
		return false, ReasonTPM
	}

	if l.qps != nil {
		l.qps.take(1)
	}
	if l.tpm != nil {
		l.tpm.take(float64(estimatedTokens))
	}
	return true, ""
}

// Stats reports remaining tokens in both buckets. Disabled buckets
// report -1.
func (l *RateLimiter) Stats() Stats {
	s := Stats{QPSRemaining: -1, TPMRemaining: -1}
	if l == nil {
		return s
	}
	if l.qps != nil {
		s.QPSRemaining = l.qps.Available()
	}
	if l.tpm != nil {
		s.TPMRemaining = l.tpm.Available()
	}
	return s
}
