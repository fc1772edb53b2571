// Package backoff provides retry delay strategies. Strategies are stateless
// and safe for concurrent use.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Strategy computes the delay before retry attempt n (1-indexed). Attempt 1
// is the first retry after the initial failure.
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Constant returns the same delay for every attempt.
type Constant struct {
	Interval time.Duration
}

func NewConstant(interval time.Duration) Constant {
	return Constant{Interval: interval}
}

func (c Constant) Delay(int) time.Duration {
	return c.Interval
}

// Exponential doubles the delay each attempt: Base * 2^(attempt-1), capped
// at Max when Max > 0.
type Exponential struct {
	Base time.Duration
	Max  time.Duration
}

func NewExponential(base, max time.Duration) Exponential {
	return Exponential{Base: base, Max: max}
}

func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(e.Base) * math.Pow(2, float64(attempt-1)))
	if d < e.Base { // overflow
		d = e.Max
	}
	if e.Max > 0 && d > e.Max {
		d = e.Max
	}
	return d
}

// Jitter wraps another strategy and spreads its delay over [d/2, d) to keep
// retry storms from synchronizing.
type Jitter struct {
	Inner Strategy
}

func WithJitter(inner Strategy) Jitter {
	return Jitter{Inner: inner}
}

func (j Jitter) Delay(attempt int) time.Duration {
	d := j.Inner.Delay(attempt)
	if d <= 1 {
		return d
	}
	return d/2 + time.Duration(rand.Int63n(int64(d/2)))
}
