package outbox

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	// DefaultBackoffBase is the delay after the first failed attempt.
	DefaultBackoffBase = 10 * time.Second
	// DefaultBackoffCap bounds the base delay.
	DefaultBackoffCap = 300 * time.Second
	// DefaultBackoffJitter is the maximum jitter, as a fraction of the base delay.
	DefaultBackoffJitter = 0.10
)

// RetryPolicy decides how long a failed event waits before it is due again.
type RetryPolicy interface {
	RetryDelay(ctx context.Context, event Event, err error) time.Duration
}

// RetryPolicyFunc adapts a function to RetryPolicy.
type RetryPolicyFunc func(ctx context.Context, event Event, err error) time.Duration

// RetryDelay implements RetryPolicy.
func (fn RetryPolicyFunc) RetryDelay(ctx context.Context, event Event, err error) time.Duration {
	return fn(ctx, event, err)
}

// Backoff is exponential backoff with additive jitter.
// Jitter is only ever added on top of the base delay.
type Backoff struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter float64
	// Rand returns a value in [0, 1). Defaults to math/rand/v2.
	Rand func() float64
}

// DefaultBackoff returns 10s doubling per attempt, capped at 300s, plus up to 10% jitter.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:   DefaultBackoffBase,
		Cap:    DefaultBackoffCap,
		Jitter: DefaultBackoffJitter,
	}
}

// BaseDelay returns min(Base * 2^(attempt-1), Cap) without jitter.
func (b Backoff) BaseDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := b.Base
	for i := 1; i < attempt; i++ {
		if delay >= b.Cap {
			break
		}
		delay *= 2
	}
	if delay > b.Cap {
		delay = b.Cap
	}

	return delay
}

// Delay returns the base delay for attempt plus a random jitter in [0, Jitter*base).
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.BaseDelay(attempt)
	if b.Jitter <= 0 {
		return base
	}

	rnd := b.Rand
	if rnd == nil {
		rnd = rand.Float64
	}

	return base + time.Duration(float64(base)*b.Jitter*rnd())
}

// RetryDelay implements RetryPolicy using the attempts already made.
func (b Backoff) RetryDelay(_ context.Context, event Event, _ error) time.Duration {
	return b.Delay(event.Attempts)
}
