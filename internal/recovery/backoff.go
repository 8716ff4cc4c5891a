package recovery

import (
	rand "math/rand/v2"
	"time"
)

// Backoff produces capped, jittered, exponentially growing delays for
// reconnect attempts. It is not safe for concurrent use; each runner owns one.
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64

	rng  *rand.Rand
	prev time.Duration
}

// NewBackoff returns a Backoff. A non-zero seed makes the jitter deterministic.
func NewBackoff(base, maxDelay time.Duration, seed int64) *Backoff {
	b := &Backoff{Base: base, Max: maxDelay, Multiplier: 2}
	if seed != 0 {
		s1 := uint64(seed)
		b.rng = rand.New(rand.NewPCG(s1, s1^0x9e3779b97f4a7c15)) //nolint:gosec // non-crypto jitter
	}
	return b
}

// Next returns the delay before the next attempt.
//
//	next = min(max, base + rand[0, prev*multiplier-base))
func (b *Backoff) Next() time.Duration {
	base := b.Base
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	mult := b.Multiplier
	if mult < 1.0 {
		mult = 1.0
	}
	if b.Max > 0 && b.Max < base {
		b.prev = b.Max
		return b.Max
	}
	if b.prev <= 0 {
		b.prev = base
		return base
	}

	spread := time.Duration(float64(b.prev)*mult) - base
	if spread <= 0 {
		spread = base
	}
	var jitter int64
	if b.rng != nil {
		jitter = b.rng.Int64N(int64(spread))
	} else {
		jitter = rand.Int64N(int64(spread)) //nolint:gosec // non-crypto jitter
	}

	next := base + time.Duration(jitter)
	if b.Max > 0 && next > b.Max {
		next = b.Max
	}
	b.prev = next
	return next
}

// Reset starts the sequence over after a successful attempt.
func (b *Backoff) Reset() {
	b.prev = 0
}
