package bucket

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SmitUplenchwar2687/pacer/internal/clock"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newBucket(t *testing.T, capacity int, rate float64) (*TokenBucket, *clock.VirtualClock) {
	t.Helper()
	vc := clock.NewVirtualClock(epoch)
	tb, err := New(capacity, rate, vc)
	require.NoError(t, err)
	return tb, vc
}

// waitPending blocks until the virtual clock has at least n waiters.
func waitPending(t *testing.T, vc *clock.VirtualClock, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return vc.Pending() >= n }, 2*time.Second, time.Millisecond)
}

func consumeAsync(ctx context.Context, tb *TokenBucket, n int) <-chan error {
	done := make(chan error, 1)
	go func() { done <- tb.Consume(ctx, n) }()
	return done
}

func requireDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Consume did not return")
		return nil
	}
}

func requireBlocked(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		t.Fatalf("Consume returned early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestNew_RejectsInvalidConfiguration(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		rate     float64
		want     error
	}{
		{"zero capacity", 0, 1, ErrInvalidCapacity},
		{"negative capacity", -3, 1, ErrInvalidCapacity},
		{"zero rate", 5, 0, ErrInvalidRefillRate},
		{"negative rate", 5, -1, ErrInvalidRefillRate},
		{"nan rate", 5, math.NaN(), ErrInvalidRefillRate},
		{"infinite rate", 5, math.Inf(1), ErrInvalidRefillRate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tb, err := New(tt.capacity, tt.rate, nil)
			assert.Nil(t, tb)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestTokenBucket_StartsFull(t *testing.T) {
	tb, _ := newBucket(t, 5, 1)

	assert.Equal(t, 5, tb.Tokens())
	for i := 0; i < 5; i++ {
		assert.True(t, tb.TryConsume(1), "consume %d", i+1)
	}
	assert.False(t, tb.TryConsume(1))
	assert.Equal(t, 0, tb.Tokens())
}

func TestTokenBucket_TryConsumeIsAllOrNothing(t *testing.T) {
	tb, _ := newBucket(t, 5, 1)
	require.True(t, tb.TryConsume(3))

	assert.False(t, tb.TryConsume(3))
	assert.Equal(t, 2, tb.Tokens(), "failed consume must not take tokens")
	assert.True(t, tb.TryConsume(2))
}

func TestTokenBucket_TakeZeroIsGranted(t *testing.T) {
	tb, _ := newBucket(t, 1, 1)
	require.True(t, tb.TryConsume(1))

	a := tb.Take(0)
	assert.True(t, a.Granted)
	assert.Equal(t, 0, tb.Tokens())
}

func TestTokenBucket_FractionalRefillCarriesRemainder(t *testing.T) {
	tb, vc := newBucket(t, 2, 0.5)
	require.True(t, tb.TryConsume(2))

	vc.Advance(time.Second)
	s := tb.Snapshot()
	assert.Equal(t, 0, s.Tokens)
	assert.InDelta(t, 0.5, s.Remainder, 1e-9)

	vc.Advance(time.Second)
	s = tb.Snapshot()
	assert.Equal(t, 1, s.Tokens)
	assert.InDelta(t, 0, s.Remainder, 1e-9)
}

func TestTokenBucket_ManySmallRefillsDoNotLoseTokens(t *testing.T) {
	tb, vc := newBucket(t, 10, 0.1)
	for tb.TryConsume(1) {
	}

	// 100 refills of 100ms at 0.1 tokens/s add up to exactly one token.
	for i := 0; i < 100; i++ {
		vc.Advance(100 * time.Millisecond)
		tb.Tokens()
	}
	vc.Advance(time.Millisecond)
	assert.Equal(t, 1, tb.Tokens())
}

func TestTokenBucket_RefillCappedAtCapacity(t *testing.T) {
	tb, vc := newBucket(t, 10, 2)
	require.True(t, tb.TryConsume(10))

	vc.Advance(5 * time.Second)
	assert.Equal(t, 10, tb.Tokens(), "capacity/refill_rate seconds refills the bucket")

	vc.Advance(time.Hour)
	assert.Equal(t, 10, tb.Tokens())
	s := tb.Snapshot()
	assert.GreaterOrEqual(t, s.Remainder, 0.0)
	assert.Less(t, s.Remainder, 1.0)
}

func TestTokenBucket_BackoffEmptiesAndPauses(t *testing.T) {
	tb, vc := newBucket(t, 5, 1)

	tb.BackoffFor(10 * time.Second)
	assert.Equal(t, 0, tb.Tokens())
	assert.Equal(t, StateBackoff, tb.State())
	assert.False(t, tb.TryConsume(1))

	// Tokens would have refilled by now, but the pause holds.
	vc.Advance(9 * time.Second)
	assert.False(t, tb.TryConsume(1))
	assert.Equal(t, 0, tb.Tokens())

	// The bucket restarts empty at the end of the pause.
	vc.Advance(time.Second)
	assert.Equal(t, StateActive, tb.State())
	assert.Equal(t, 0, tb.Tokens())

	vc.Advance(time.Second)
	assert.True(t, tb.TryConsume(1))
}

func TestTokenBucket_OverlappingBackoffKeepsLaterDeadline(t *testing.T) {
	tb, vc := newBucket(t, 5, 1)

	first := tb.BackoffFor(10 * time.Second)
	assert.Equal(t, epoch.Add(10*time.Second), first)

	second := tb.BackoffFor(5 * time.Second)
	assert.Equal(t, first, second, "a shorter backoff never shrinks the deadline")

	vc.Advance(3 * time.Second)
	third := tb.BackoffFor(20 * time.Second)
	assert.Equal(t, epoch.Add(23*time.Second), third)

	vc.Advance(19 * time.Second)
	assert.False(t, tb.TryConsume(1))
	assert.Equal(t, time.Second, tb.Snapshot().BackoffRemaining)
}

func TestTokenBucket_ZeroBackoffStillEmpties(t *testing.T) {
	tb, vc := newBucket(t, 5, 1)

	tb.BackoffFor(0)
	assert.Equal(t, StateActive, tb.State())
	assert.Equal(t, 0, tb.Tokens())

	vc.Advance(time.Second)
	assert.Equal(t, 1, tb.Tokens())
}

func TestTokenBucket_TimeUntilAvailable(t *testing.T) {
	tb, vc := newBucket(t, 4, 2)

	assert.Equal(t, time.Duration(0), tb.TimeUntilAvailable(4))
	require.True(t, tb.TryConsume(4))
	assert.Equal(t, 500*time.Millisecond, tb.TimeUntilAvailable(1))
	assert.Equal(t, 2*time.Second, tb.TimeUntilAvailable(4))

	vc.Advance(250 * time.Millisecond)
	assert.Equal(t, 250*time.Millisecond, tb.TimeUntilAvailable(1))

	tb.BackoffFor(3 * time.Second)
	assert.Equal(t, 3*time.Second+time.Second, tb.TimeUntilAvailable(2))
	assert.Equal(t, time.Duration(0), tb.TimeUntilAvailable(0))
}

func TestTokenBucket_ConsumeWaitsForRefill(t *testing.T) {
	tb, vc := newBucket(t, 1, 1)
	require.True(t, tb.TryConsume(1))

	done := consumeAsync(context.Background(), tb, 1)
	waitPending(t, vc, 1)
	requireBlocked(t, done)

	vc.Advance(time.Second)
	require.NoError(t, requireDone(t, done))
	assert.Equal(t, 0, tb.Tokens())
}

func TestTokenBucket_ConsumeRecomputesAfterBackoff(t *testing.T) {
	tb, vc := newBucket(t, 1, 1)
	require.True(t, tb.TryConsume(1))

	done := consumeAsync(context.Background(), tb, 1)
	waitPending(t, vc, 1) // sleeping until the next token at +1s

	tb.BackoffFor(30 * time.Second)
	waitPending(t, vc, 2) // woke and re-armed for the backoff deadline

	// The stale one-second deadline passes without releasing the waiter.
	vc.Advance(time.Second)
	requireBlocked(t, done)

	vc.Advance(29 * time.Second)
	requireBlocked(t, done) // pause over, bucket empty

	waitPending(t, vc, 1)
	vc.Advance(time.Second)
	require.NoError(t, requireDone(t, done))
}

func TestTokenBucket_ConsumeCancellationTakesNothing(t *testing.T) {
	tb, vc := newBucket(t, 2, 1)
	require.True(t, tb.TryConsume(2))

	ctx, cancel := context.WithCancel(context.Background())
	done := consumeAsync(ctx, tb, 2)
	waitPending(t, vc, 1)

	cancel()
	assert.ErrorIs(t, requireDone(t, done), context.Canceled)

	vc.Advance(2 * time.Second)
	assert.Equal(t, 2, tb.Tokens())
}

func TestTokenBucket_ConsumeRejectsMoreThanCapacity(t *testing.T) {
	tb, _ := newBucket(t, 2, 1)
	assert.ErrorIs(t, tb.Consume(context.Background(), 3), ErrExceedsCapacity)
}

func TestTokenBucket_ConsumeWithRealClock(t *testing.T) {
	tb, err := New(1, 50, nil)
	require.NoError(t, err)
	require.True(t, tb.TryConsume(1))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	require.NoError(t, tb.Consume(ctx, 1))
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestTokenBucket_ConcurrentTryConsumeNeverOverdraws(t *testing.T) {
	tb, _ := newBucket(t, 50, 1)

	var granted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if tb.TryConsume(n) {
				granted.Add(int64(n))
			}
		}(1 + i%3)
	}
	wg.Wait()

	assert.LessOrEqual(t, granted.Load(), int64(50))
	assert.Equal(t, int64(50)-granted.Load(), int64(tb.Tokens()))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "backoff", StateBackoff.String())
}
