package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SmitUplenchwar2687/pacer/pkg/clock"
)

func TestPublicLimiter(t *testing.T) {
	vc := clock.NewVirtualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	var events []Event
	lim, err := New(2, 1,
		WithClock(vc),
		WithHardLimit("per-minute", 2, Minute),
		WithObserver(ObserverFunc(func(ev Event) { events = append(events, ev) })),
	)
	require.NoError(t, err)
	require.NoError(t, lim.Acquire(context.Background(), 2))

	vc.Advance(5 * time.Second)
	ok, err := lim.TryAcquire(1)
	assert.False(t, ok)
	require.ErrorIs(t, err, ErrHardLimitExceeded)

	e, isLimit := AsExceeded(err)
	require.True(t, isLimit)
	assert.Equal(t, "per-minute", e.Name)
	assert.Equal(t, 55*time.Second, e.ResetIn)

	require.Len(t, events, 2)
	assert.Equal(t, OutcomeGranted, events[0].Outcome)
	assert.Equal(t, OutcomeHardLimit, events[1].Outcome)
}

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod("day")
	require.NoError(t, err)
	assert.Equal(t, Day, p)

	_, err = ParsePeriod("week")
	assert.Error(t, err)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(0, 1)
	assert.ErrorIs(t, err, ErrInvalidCapacity)
}
