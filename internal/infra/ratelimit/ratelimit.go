// Package ratelimit implements C6: a per-principal token bucket with
// tiered refill rates. The bucket boundary semantics (refill-then-admit,
// exact 1.0 threshold) are hand-rolled rather than built on
// golang.org/x/time/rate, whose Limiter only exposes an approximate
// Allow/Wait API — see the repository's grounding ledger for why that
// doesn't satisfy the exact-boundary invariants tested here.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"github.com/nova-gateway/gateway/internal/domain"
)

// Limiter holds one independently-locked bucket per principal. There is no
// global rate-limit lock.
type Limiter struct {
	baseCapacity float64
	windowS      float64
	multipliers  domain.TierMultipliers

	mu      sync.Mutex
	buckets map[string]*bucketState
}

type bucketState struct {
	mu         sync.Mutex
	tokens     float64
	lastUpdate time.Time
	capacity   float64
	refillRate float64
}

// New constructs a Limiter. baseCapacity tokens refill over windowS seconds
// for a free-tier principal; other tiers scale by their multiplier.
func New(baseCapacity, windowS float64, multipliers domain.TierMultipliers) *Limiter {
	return &Limiter{
		baseCapacity: baseCapacity,
		windowS:      windowS,
		multipliers:  multipliers,
		buckets:      make(map[string]*bucketState),
	}
}

// Admit refills the principal's bucket, then admits if at least one token
// is available, decrementing it. Buckets are created lazily on first use.
func (l *Limiter) Admit(username string, tier domain.Tier) (ok bool, remaining float64, retryAfterS int) {
	b := l.bucketFor(username, tier)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastUpdate).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.lastUpdate = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true, b.tokens, 0
	}
	// A rejected request reports whole tokens left, which is always 0 here.
	return false, math.Floor(b.tokens), int(l.windowS)
}

func (l *Limiter) bucketFor(username string, tier domain.Tier) *bucketState {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[username]
	if ok {
		return b
	}

	capacity := l.baseCapacity * tier.Multiplier(l.multipliers)
	b = &bucketState{
		tokens:     capacity,
		lastUpdate: time.Now(),
		capacity:   capacity,
		refillRate: capacity / l.windowS,
	}
	l.buckets[username] = b
	return b
}
