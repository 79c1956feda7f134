// Package bucket implements a continuously refilling token bucket that can be
// forced into a backoff pause by an external signal, typically a remote
// "retry after N seconds" hint.
//
// Tokens accrue at a real-valued rate. Whole tokens are credited and the
// fractional part is carried in a remainder, so slow rates such as 0.1
// tokens/s never lose accrual to rounding. While a backoff is active the
// bucket yields nothing, regardless of how much time has elapsed; once the
// pause lapses the bucket resumes refilling from empty.
//
// Callers that need to wait use Take and Await (or Consume, which loops over
// them). A waiter sleeps until its computed deadline or until BackoffFor
// broadcasts a wake, and then always re-derives its wait from fresh state.
package bucket

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/SmitUplenchwar2687/pacer/internal/clock"
)

var (
	// ErrInvalidCapacity is returned by New for a non-positive capacity.
	ErrInvalidCapacity = errors.New("bucket: capacity must be positive")

	// ErrInvalidRefillRate is returned by New for a non-positive or non-finite rate.
	ErrInvalidRefillRate = errors.New("bucket: refill rate must be positive and finite")

	// ErrExceedsCapacity is returned when a caller waits for more tokens than
	// the bucket can ever hold.
	ErrExceedsCapacity = errors.New("bucket: requested tokens exceed capacity")
)

// State is the backoff state of a bucket.
type State int

const (
	StateActive State = iota
	StateBackoff
)

func (s State) String() string {
	if s == StateBackoff {
		return "backoff"
	}
	return "active"
}

// TokenBucket is safe for concurrent use.
type TokenBucket struct {
	clock      clock.Clock
	capacity   int
	refillRate float64 // tokens per second

	mu         sync.Mutex
	tokens     int
	remainder  float64 // fractional token carried between refills, in [0,1)
	lastRefill time.Time
	pauseUntil time.Time     // zero when no backoff was ever requested
	wake       chan struct{} // closed and replaced by BackoffFor
}

// Attempt is the outcome of a non-blocking Take.
type Attempt struct {
	Granted bool
	// Wait is how long until the attempt could succeed: the remaining backoff
	// when paused, otherwise the time for the missing tokens to accrue.
	Wait time.Duration
	// Wake is closed by the next BackoffFor.
	Wake <-chan struct{}
}

// Snapshot is a point-in-time view of the bucket.
type Snapshot struct {
	Capacity         int           `json:"capacity"`
	Tokens           int           `json:"tokens"`
	Remainder        float64       `json:"remainder"`
	RefillRate       float64       `json:"refill_rate"`
	State            string        `json:"state"`
	PausedUntil      time.Time     `json:"paused_until,omitempty"`
	BackoffRemaining time.Duration `json:"backoff_remaining"`
}

// New creates a full bucket. A nil clock means the wall clock.
func New(capacity int, refillRate float64, c clock.Clock) (*TokenBucket, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	if !(refillRate > 0) || math.IsInf(refillRate, 0) {
		return nil, ErrInvalidRefillRate
	}

	c = clock.OrReal(c)
	return &TokenBucket{
		clock:      c,
		capacity:   capacity,
		refillRate: refillRate,
		tokens:     capacity,
		lastRefill: c.Now(),
		wake:       make(chan struct{}),
	}, nil
}

// Capacity returns the maximum number of tokens the bucket holds.
func (tb *TokenBucket) Capacity() int { return tb.capacity }

// RefillRate returns the refill rate in tokens per second.
func (tb *TokenBucket) RefillRate() float64 { return tb.refillRate }

// TryConsume takes n tokens if they are available right now.
func (tb *TokenBucket) TryConsume(n int) bool {
	return tb.Take(n).Granted
}

// Take attempts to consume n tokens without blocking. A non-positive n is
// always granted and consumes nothing.
func (tb *TokenBucket) Take(n int) Attempt {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if n <= 0 {
		return Attempt{Granted: true}
	}

	now := tb.clock.Now()
	tb.refillLocked(now)

	if tb.pausedLocked(now) {
		return Attempt{Wait: tb.pauseUntil.Sub(now), Wake: tb.wake}
	}
	if tb.tokens >= n {
		tb.tokens -= n
		return Attempt{Granted: true}
	}
	return Attempt{Wait: tb.accrualLocked(n), Wake: tb.wake}
}

// Await suspends until a's deadline passes, a backoff wakes all waiters, or
// ctx is done. It consumes nothing; the caller must Take again.
func (tb *TokenBucket) Await(ctx context.Context, a Attempt) error {
	if a.Granted {
		return nil
	}
	select {
	case <-tb.clock.After(a.Wait):
	case <-a.Wake:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Consume blocks until n tokens are taken or ctx is done. A cancelled call
// has consumed nothing.
func (tb *TokenBucket) Consume(ctx context.Context, n int) error {
	if n > tb.capacity {
		return ErrExceedsCapacity
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		a := tb.Take(n)
		if a.Granted {
			return nil
		}
		if err := tb.Await(ctx, a); err != nil {
			return err
		}
	}
}

// BackoffFor pauses the bucket for at least d and empties it. An existing
// later deadline is kept. Every suspended waiter is woken so it recomputes
// its wait against the new deadline. Returns the effective deadline.
func (tb *TokenBucket) BackoffFor(d time.Duration) time.Time {
	if d < 0 {
		d = 0
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.clock.Now()
	if until := now.Add(d); until.After(tb.pauseUntil) {
		tb.pauseUntil = until
	}
	tb.tokens = 0
	tb.remainder = 0
	tb.lastRefill = now

	close(tb.wake)
	tb.wake = make(chan struct{})

	return tb.pauseUntil
}

// Tokens refills and returns the tokens available now. Zero during backoff.
func (tb *TokenBucket) Tokens() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.clock.Now()
	tb.refillLocked(now)
	if tb.pausedLocked(now) {
		return 0
	}
	return tb.tokens
}

// TimeUntilAvailable estimates how long until n tokens could be taken,
// ignoring any other consumer.
func (tb *TokenBucket) TimeUntilAvailable(n int) time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if n <= 0 {
		return 0
	}

	now := tb.clock.Now()
	tb.refillLocked(now)

	if tb.pausedLocked(now) {
		// The bucket restarts empty when the pause ends.
		return tb.pauseUntil.Sub(now) + secondsToDuration(float64(n)/tb.refillRate)
	}
	if tb.tokens >= n {
		return 0
	}
	return tb.accrualLocked(n)
}

// State reports whether the bucket is currently in backoff.
func (tb *TokenBucket) State() State {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.clock.Now()
	tb.refillLocked(now)
	if tb.pausedLocked(now) {
		return StateBackoff
	}
	return StateActive
}

// Snapshot refills and returns the current state.
func (tb *TokenBucket) Snapshot() Snapshot {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.clock.Now()
	tb.refillLocked(now)

	s := Snapshot{
		Capacity:   tb.capacity,
		Tokens:     tb.tokens,
		Remainder:  tb.remainder,
		RefillRate: tb.refillRate,
		State:      StateActive.String(),
	}
	if tb.pausedLocked(now) {
		s.Tokens = 0
		s.State = StateBackoff.String()
		s.PausedUntil = tb.pauseUntil
		s.BackoffRemaining = tb.pauseUntil.Sub(now)
	}
	return s
}

// refillLocked credits tokens for the time elapsed since the last refill.
// Time spent in backoff accrues nothing. Must be called with tb.mu held.
func (tb *TokenBucket) refillLocked(now time.Time) {
	if !tb.pauseUntil.IsZero() {
		if now.Before(tb.pauseUntil) {
			return
		}
		if tb.lastRefill.Before(tb.pauseUntil) {
			tb.lastRefill = tb.pauseUntil
		}
		tb.pauseUntil = time.Time{}
	}

	elapsed := now.Sub(tb.lastRefill)
	if elapsed <= 0 {
		return
	}

	raw := elapsed.Seconds()*tb.refillRate + tb.remainder
	whole := math.Floor(raw)
	tb.remainder = raw - whole

	if room := float64(tb.capacity - tb.tokens); whole >= room {
		tb.tokens = tb.capacity
	} else {
		tb.tokens += int(whole)
	}
	tb.lastRefill = now
}

func (tb *TokenBucket) pausedLocked(now time.Time) bool {
	return !tb.pauseUntil.IsZero() && now.Before(tb.pauseUntil)
}

// accrualLocked is the time for the bucket to reach n tokens from its
// current level. Must be called with tb.mu held and tokens < n.
func (tb *TokenBucket) accrualLocked(n int) time.Duration {
	deficit := float64(n-tb.tokens) - tb.remainder
	return secondsToDuration(deficit / tb.refillRate)
}

// secondsToDuration rounds up to the next nanosecond and saturates, so a
// waiter never wakes before the token it is waiting for has accrued.
func secondsToDuration(secs float64) time.Duration {
	ns := math.Ceil(secs * float64(time.Second))
	if ns >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	if ns < 1 {
		return 1
	}
	return time.Duration(ns)
}
