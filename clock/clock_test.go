package clock

import (
	"testing"
	"time"
)

func TestSystemIsMonotonic(t *testing.T) {
	c := New()

	prev := c.Now()
	for i := 0; i < 1000; i++ {
		now := c.Now()
		if now.Before(prev) {
			t.Fatalf("clock went backwards: %v < %v", now, prev)
		}
		prev = now
	}
}

func TestFakeAdvance(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFake(start)

	if !c.Now().Equal(start) {
		t.Fatalf("expected %v, got %v", start, c.Now())
	}

	c.Advance(1500 * time.Millisecond)
	if got := c.Now().Sub(start); got != 1500*time.Millisecond {
		t.Errorf("expected 1.5s elapsed, got %v", got)
	}

	c.Advance(-time.Hour)
	if got := c.Now().Sub(start); got != 1500*time.Millisecond {
		t.Errorf("negative advance moved the clock: %v", got)
	}
}
