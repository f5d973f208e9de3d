package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func TestDoSucceedsAfterRetries(t *testing.T) {
	calls := 0
	var seen []int
	err := Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	}, Policy{
		Name:      "test_success",
		Attempts:  5,
		Backoff:   Constant(time.Millisecond),
		OnAttempt: func(i int, _ error) { seen = append(seen, i) },
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{0, 1}, seen)
}

func TestDoExhausts(t *testing.T) {
	calls := 0
	var last error
	err := Do(context.Background(), func() error {
		calls++
		return errFlaky
	}, Policy{
		Name:      "test_exhaust",
		Attempts:  3,
		OnExhaust: func(err error) { last = err },
	})
	require.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, last, errFlaky)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		return permanent
	}, Policy{
		Attempts:  5,
		Retryable: func(err error) bool { return !errors.Is(err, permanent) },
	})
	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, func() error {
		calls++
		cancel()
		return errFlaky
	}, Policy{Attempts: 5, Backoff: Constant(time.Hour)})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestExpoJitterBounds(t *testing.T) {
	b := ExpoJitter{Base: 100 * time.Millisecond, Max: time.Second}
	assert.Equal(t, 100*time.Millisecond, b.Next(0))
	assert.Equal(t, 400*time.Millisecond, b.Next(2))
	assert.Equal(t, time.Second, b.Next(10))
	assert.Equal(t, 100*time.Millisecond, b.Next(-1))

	j := ExpoJitter{Base: 100 * time.Millisecond, Jitter: 0.5}
	for range 50 {
		d := j.Next(0)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}
