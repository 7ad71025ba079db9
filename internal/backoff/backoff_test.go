package backoff

import (
	"testing"
	"time"
)

func TestConstant(t *testing.T) {
	s := NewConstant(2 * time.Second)
	for _, attempt := range []int{1, 2, 10} {
		if d := s.Delay(attempt); d != 2*time.Second {
			t.Errorf("Delay(%d) = %v, want 2s", attempt, d)
		}
	}
}

func TestExponential_GrowsAndCaps(t *testing.T) {
	s := NewExponential(2, 10*time.Second)

	if d := s.Delay(1); d != 2*time.Second {
		t.Errorf("Delay(1) = %v, want 2s", d)
	}
	if d := s.Delay(3); d != 8*time.Second {
		t.Errorf("Delay(3) = %v, want 8s", d)
	}
	if d := s.Delay(10); d != 10*time.Second {
		t.Errorf("Delay(10) = %v, want the 10s cap", d)
	}
}

func TestFullJitter_StaysWithinBase(t *testing.T) {
	s := &FullJitter{Inner: NewConstant(time.Second)}
	for i := 0; i < 100; i++ {
		if d := s.Delay(1); d < 0 || d > time.Second {
			t.Fatalf("Delay = %v, want within [0, 1s]", d)
		}
	}
}
