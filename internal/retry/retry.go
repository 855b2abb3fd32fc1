// Package retry computes backoff delays and retries idempotent calls.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"xdao.co/channels/internal/clock"
)

// Policy bounds a retry loop. MaxAttempts counts the first call; values
// below 1 mean a single attempt.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// None performs exactly one attempt.
var None = Policy{MaxAttempts: 1}

// Delay returns the wait before attempt (1-based). Attempt 1 waits
// InitialDelay; each later attempt multiplies it, capped at MaxDelay.
// With Jitter the delay is scaled by a factor in [0.5, 1.5).
func (p Policy) Delay(attempt int, rng *rand.Rand) time.Duration {
	if p.InitialDelay <= 0 {
		return 0
	}
	delay := float64(p.InitialDelay)
	if attempt > 1 {
		mult := p.Multiplier
		if mult < 1.0 {
			mult = 1.0
		}
		delay *= math.Pow(mult, float64(attempt-1))
	}
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter {
		f := 0.5
		if rng != nil {
			f += rng.Float64()
		}
		delay *= f
	}
	return time.Duration(delay)
}

// Do calls fn until it succeeds, returns an error retryable rejects, the
// attempts run out, or ctx ends. The last error is returned.
func Do(ctx context.Context, clk clock.Clock, p Policy, retryable func(error) bool, fn func(context.Context) error) error {
	clk = clock.OrReal(clk)
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var rng *rand.Rand
	if p.Jitter {
		rng = rand.New(rand.NewSource(clk.Now().UnixNano()))
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == attempts || retryable == nil || !retryable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-clk.After(p.Delay(attempt, rng)):
		}
	}
	return err
}
