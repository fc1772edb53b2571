package queue

import (
	"testing"
	"time"

	"pg-job-queue/internal/backoff"
)

func TestRetryPolicyDecide(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, Backoff: backoff.NewExponential(time.Minute, time.Hour)}

	d := p.Decide(1)
	if d.DeadLetter || d.Delay != time.Minute {
		t.Fatalf("Decide(1) = %+v, want retry in 1m", d)
	}
	d = p.Decide(2)
	if d.DeadLetter || d.Delay != 2*time.Minute {
		t.Fatalf("Decide(2) = %+v, want retry in 2m", d)
	}
	d = p.Decide(3)
	if !d.DeadLetter {
		t.Fatalf("Decide(3) = %+v, want dead-letter at the attempt budget", d)
	}
	d = p.Decide(7)
	if !d.DeadLetter {
		t.Fatalf("Decide(7) = %+v, want dead-letter past the budget", d)
	}
}

func TestRetryPolicyDefaults(t *testing.T) {
	var p RetryPolicy

	d := p.Decide(1)
	if d.DeadLetter || d.Delay != time.Minute {
		t.Fatalf("zero policy Decide(1) = %+v, want 1m exponential default", d)
	}
	if !p.Decide(3).DeadLetter {
		t.Fatalf("zero policy should dead-letter at 3 attempts")
	}
}
