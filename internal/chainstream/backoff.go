package chainstream

import (
	"math"
	"math/rand"
	"time"
)

// Policy describes bounded exponential backoff with full jitter for source
// reconnection. MaxAttempts 0 means retry forever; the stall alarm covers
// liveness instead.
type Policy struct {
	Base        time.Duration
	Cap         time.Duration
	Factor      float64
	MaxAttempts int
}

// DefaultPolicy mirrors the configuration defaults.
func DefaultPolicy() Policy {
	return Policy{Base: 200 * time.Millisecond, Cap: 30 * time.Second, Factor: 2.0}
}

// Delay computes the sleep before the given 1-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	factor := p.Factor
	if factor <= 1 {
		factor = 2.0
	}
	d := time.Duration(float64(base) * math.Pow(factor, float64(attempt-1)))
	if p.Cap > 0 && d > p.Cap {
		d = p.Cap
	}
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d)))
}

// Exhausted reports whether the attempt budget is spent.
func (p Policy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}
