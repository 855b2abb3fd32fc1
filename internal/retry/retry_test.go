package retry

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelay(t *testing.T) {
	p := Policy{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, p.Delay(1, nil))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2, nil))
	assert.Equal(t, 800*time.Millisecond, p.Delay(4, nil))
	assert.Equal(t, time.Second, p.Delay(10, nil))

	p.Multiplier = 0.5
	assert.Equal(t, 100*time.Millisecond, p.Delay(3, nil), "multiplier below 1 is clamped")

	assert.Zero(t, Policy{}.Delay(3, nil))
}

func TestDelayJitterBounds(t *testing.T) {
	p := Policy{InitialDelay: time.Second, Jitter: true}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		d := p.Delay(1, rng)
		require.GreaterOrEqual(t, d, 500*time.Millisecond)
		require.Less(t, d, 1500*time.Millisecond)
	}
	assert.Equal(t, 500*time.Millisecond, p.Delay(1, nil))
}

var errTransient = errors.New("transient")

func TestDoRetriesRetryable(t *testing.T) {
	calls := 0
	err := Do(context.Background(), nil, Policy{MaxAttempts: 3}, func(err error) bool {
		return errors.Is(err, errTransient)
	}, func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanent(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	err := Do(context.Background(), nil, Policy{MaxAttempts: 5}, func(err error) bool {
		return errors.Is(err, errTransient)
	}, func(context.Context) error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDoSingleAttemptByDefault(t *testing.T) {
	calls := 0
	err := Do(context.Background(), nil, Policy{}, func(error) bool { return true }, func(context.Context) error {
		calls++
		return errTransient
	})
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, calls)
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, nil, Policy{MaxAttempts: 10, InitialDelay: time.Hour}, func(error) bool { return true }, func(context.Context) error {
		calls++
		cancel()
		return errTransient
	})
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, calls)
}
