package backoff_test

import (
	"testing"
	"time"

	"github.com/sitewright/automation/backoff"
)

func TestConstant(t *testing.T) {
	c := backoff.NewConstant(5 * time.Second)
	for _, attempt := range []int{1, 2, 10} {
		if got := c.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want 5s", attempt, got)
		}
	}
}

func TestExponential(t *testing.T) {
	e := backoff.NewExponential(1*time.Second, 30*time.Second)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{10, 30 * time.Second}, // capped
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponentialNoCap(t *testing.T) {
	e := backoff.NewExponential(1*time.Second, 0)
	if got := e.Delay(6); got != 32*time.Second {
		t.Errorf("Delay(6) = %v, want 32s", got)
	}
}

func TestExponentialWithJitterBounds(t *testing.T) {
	j := backoff.NewExponentialWithJitter(1*time.Second, 10*time.Second)

	for attempt := 1; attempt <= 8; attempt++ {
		ceiling := 1 * time.Second << (attempt - 1)
		if ceiling > 10*time.Second {
			ceiling = 10 * time.Second
		}
		for i := 0; i < 20; i++ {
			got := j.Delay(attempt)
			if got < 0 || got > ceiling {
				t.Fatalf("Delay(%d) = %v, outside [0, %v]", attempt, got, ceiling)
			}
		}
	}
}

func TestDefaultStrategy(t *testing.T) {
	s := backoff.DefaultStrategy()
	if got := s.Delay(1); got > 1*time.Second {
		t.Errorf("Delay(1) = %v, want <= 1s", got)
	}
	if got := s.Delay(20); got > 1*time.Minute {
		t.Errorf("Delay(20) = %v, want <= 1m", got)
	}
}
