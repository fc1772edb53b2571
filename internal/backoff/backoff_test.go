package backoff

import (
	"testing"
	"time"
)

func TestConstant(t *testing.T) {
	c := NewConstant(5 * time.Second)
	for attempt := 1; attempt <= 10; attempt++ {
		if got := c.Delay(attempt); got != 5*time.Second {
			t.Fatalf("Delay(%d) = %v, want 5s", attempt, got)
		}
	}
}

func TestExponentialDoubles(t *testing.T) {
	e := NewExponential(time.Minute, time.Hour)
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{4, 8 * time.Minute},
	}
	for _, c := range cases {
		if got := e.Delay(c.attempt); got != c.want {
			t.Fatalf("Delay(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestExponentialCap(t *testing.T) {
	e := NewExponential(time.Minute, time.Hour)
	if got := e.Delay(20); got != time.Hour {
		t.Fatalf("Delay(20) = %v, want cap 1h", got)
	}
	// Attempt numbers below 1 are clamped, not rejected.
	if got := e.Delay(0); got != time.Minute {
		t.Fatalf("Delay(0) = %v, want base", got)
	}
}

func TestJitterBounds(t *testing.T) {
	j := WithJitter(NewExponential(time.Second, 8*time.Second))
	for attempt := 1; attempt <= 4; attempt++ {
		base := NewExponential(time.Second, 8*time.Second).Delay(attempt)
		for i := 0; i < 50; i++ {
			d := j.Delay(attempt)
			if d < base/2 || d >= base {
				t.Fatalf("jittered Delay(%d) = %v out of [%v, %v)", attempt, d, base/2, base)
			}
		}
	}
}
