package timer

import (
	"testing"
	"time"
)

func TestManual(t *testing.T) {
	c := NewManual(1500)
	if got := c.NowMicros(); got != 1500 {
		t.Errorf("NowMicros() = %d, want 1500", got)
	}
	c.Advance(2 * time.Second)
	if got := c.NowMicros(); got != 2_001_500 {
		t.Errorf("NowMicros() = %d, want 2001500", got)
	}
	if got := Millis(c); got != 2001 {
		t.Errorf("Millis() = %d, want 2001", got)
	}
}

func TestMonotonicNeverGoesBack(t *testing.T) {
	c := NewMonotonic()
	prev := c.NowMicros()
	for i := 0; i < 100; i++ {
		now := c.NowMicros()
		if now < prev {
			t.Fatalf("NowMicros() went back from %d to %d", prev, now)
		}
		prev = now
	}
}
