package backoff

import (
	"testing"
	"time"
)

func TestConstant(t *testing.T) {
	c := NewConstant(5 * time.Second)
	for _, attempt := range []int{1, 2, 10} {
		if got := c.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want 5s", attempt, got)
		}
	}
}

func TestExponential(t *testing.T) {
	e := NewExponential(time.Second, time.Minute)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{6, 32 * time.Second},
		{7, time.Minute},  // capped
		{20, time.Minute}, // still capped
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponentialWithJitterBounds(t *testing.T) {
	e := NewExponentialWithJitter(time.Second, time.Minute, time.Second)

	for attempt := 1; attempt <= 8; attempt++ {
		base := NewExponential(time.Second, time.Minute).Delay(attempt)
		for range 50 {
			got := e.Delay(attempt)
			if got < base || got >= base+time.Second {
				t.Fatalf("Delay(%d) = %v, want in [%v, %v)", attempt, got, base, base+time.Second)
			}
		}
	}
}

func TestExponentialWithJitterZeroJitter(t *testing.T) {
	e := NewExponentialWithJitter(time.Second, 0, 0)
	if got := e.Delay(3); got != 4*time.Second {
		t.Errorf("Delay(3) = %v, want 4s", got)
	}
}

func TestDefaultStrategy(t *testing.T) {
	s := DefaultStrategy()
	if d := s.Delay(1); d < time.Second || d >= 2*time.Second {
		t.Errorf("default Delay(1) = %v, want in [1s, 2s)", d)
	}
}
