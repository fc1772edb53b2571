package queue

import (
	"time"

	"pg-job-queue/internal/backoff"
)

// RetryDecision is the outcome of the retry policy for one failed attempt.
type RetryDecision struct {
	// DeadLetter means the job exhausted its attempt budget and moves to
	// failed_jobs.
	DeadLetter bool
	// Delay is how far to push available_at before the next attempt.
	Delay time.Duration
}

// RetryPolicy decides, from the attempt count alone, whether a failed job is
// rescheduled or dead-lettered. It never inspects the error that caused the
// failure, which keeps backoff strategies swappable and the policy trivially
// testable.
type RetryPolicy struct {
	// MaxAttempts is the total execution budget per job. A job is retried
	// MaxAttempts-1 times before dead-lettering.
	MaxAttempts int
	Backoff     backoff.Strategy
}

// DefaultRetryPolicy matches the documented defaults: 3 attempts, exponential
// backoff starting at one minute and capped at one hour.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     backoff.NewExponential(time.Minute, time.Hour),
	}
}

// Decide evaluates a failure given the attempt count after the increment.
func (p RetryPolicy) Decide(attempts int) RetryDecision {
	max := p.MaxAttempts
	if max <= 0 {
		max = 3
	}
	if attempts >= max {
		return RetryDecision{DeadLetter: true}
	}
	strategy := p.Backoff
	if strategy == nil {
		strategy = backoff.NewExponential(time.Minute, time.Hour)
	}
	return RetryDecision{Delay: strategy.Delay(attempts)}
}
