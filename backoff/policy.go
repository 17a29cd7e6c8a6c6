// Package backoff implements the delay policy applied to failing probes.
//
// The policy is a pure function of the consecutive-failure count and its
// own configuration: the same inputs always produce the same delay (jitter
// excepted, and the jitter source is injectable). This makes it replayable
// in tests without any scheduler involvement.
package backoff

import (
	"errors"
	"math"
	"math/rand"
	"time"
)

// Policy computes the delay before a probe's next firing.
//
// With a consecutive-failure count n:
//
//	n == 0:  delay = Base
//	n >= 1:  delay = min(Base * 2^(n-1), Cap)
//
// When Jitter is non-zero the delay is drawn uniformly from
// [delay*(1-Jitter), delay*(1+Jitter)].
type Policy struct {
	// Base is the probe's configured interval, used as-is after a success.
	Base time.Duration

	// Cap bounds the exponential growth. Zero means no cap beyond overflow
	// protection.
	Cap time.Duration

	// Jitter is the jitter fraction in [0, 1). Zero disables jitter.
	Jitter float64

	// Rand returns a value in [0, 1). Nil falls back to math/rand; tests
	// inject a deterministic source.
	Rand func() float64
}

// New validates the parameters and returns a Policy.
//
// Base must be positive, Cap non-negative, and Jitter within [0, 1).
func New(base, cap time.Duration, jitter float64) (Policy, error) {
	if base <= 0 {
		return Policy{}, errors.New("backoff: base interval must be positive")
	}
	if cap < 0 {
		return Policy{}, errors.New("backoff: cap must not be negative")
	}
	if jitter < 0 || jitter >= 1 {
		return Policy{}, errors.New("backoff: jitter fraction must be in [0, 1)")
	}
	return Policy{Base: base, Cap: cap, Jitter: jitter}, nil
}

// Next returns the delay to apply after a firing that left the probe with
// failures consecutive failures. failures == 0 means the firing succeeded.
func (p Policy) Next(failures int) time.Duration {
	d := p.Base
	if failures >= 1 {
		// Check overflow before shifting: a wrapped value can land positive,
		// which would slip past the cap comparison below.
		shift := failures - 1
		if shift >= 63 || p.Base > math.MaxInt64>>shift {
			d = math.MaxInt64
		} else {
			d = p.Base << shift
		}
		if p.Cap > 0 && d > p.Cap {
			d = p.Cap
		}
	}
	return p.jittered(d)
}

// jittered spreads d uniformly over [d*(1-j), d*(1+j)].
func (p Policy) jittered(d time.Duration) time.Duration {
	if p.Jitter == 0 {
		return d
	}
	rnd := p.Rand
	if rnd == nil {
		rnd = rand.Float64
	}
	span := 2 * p.Jitter * float64(d)
	lo := float64(d) * (1 - p.Jitter)
	out := time.Duration(lo + rnd()*span)
	if out <= 0 {
		out = 1
	}
	return out
}
