package outbox

import (
	"testing"
	"time"
)

func TestBackoffBaseDelay(t *testing.T) {
	b := DefaultBackoff()
	cases := map[int]time.Duration{
		0:  10 * time.Second,
		1:  10 * time.Second,
		2:  20 * time.Second,
		3:  40 * time.Second,
		4:  80 * time.Second,
		5:  160 * time.Second,
		6:  300 * time.Second,
		50: 300 * time.Second,
	}
	for attempt, want := range cases {
		if got := b.BaseDelay(attempt); got != want {
			t.Fatalf("attempt %d: expected %v, got %v", attempt, want, got)
		}
	}
}

func TestBackoffMonotonicAndBounded(t *testing.T) {
	b := DefaultBackoff()
	prev := time.Duration(0)
	for attempt := 1; attempt <= 64; attempt++ {
		base := b.BaseDelay(attempt)
		if base < prev {
			t.Fatalf("attempt %d: base %v decreased from %v", attempt, base, prev)
		}
		prev = base

		for i := 0; i < 20; i++ {
			d := b.Delay(attempt)
			if d < base {
				t.Fatalf("attempt %d: jitter subtracted (%v < %v)", attempt, d, base)
			}
			if d > base+base/10 {
				t.Fatalf("attempt %d: jitter above 10%% (%v)", attempt, d)
			}
			if d > 330*time.Second {
				t.Fatalf("attempt %d: delay %v above cap plus jitter", attempt, d)
			}
		}
	}
}

func TestBackoffJitterSource(t *testing.T) {
	b := DefaultBackoff()
	b.Rand = func() float64 { return 0.99 }
	if got, want := b.Delay(1), 10*time.Second+990*time.Millisecond; got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}

	b.Jitter = 0
	if got := b.Delay(3); got != 40*time.Second {
		t.Fatalf("expected no jitter, got %v", got)
	}
}
