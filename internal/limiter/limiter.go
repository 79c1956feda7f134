// Package limiter composes a token bucket with named hard limits into the
// RateLimiter that outbound API clients acquire from before every request.
//
// The bucket smooths request rate and honours server-driven backoff. Hard
// limits cap the absolute number of calls per rolling period. A call is
// charged against the hard limits only when the bucket grants it, so a
// cancelled or rejected acquisition leaves every counter untouched.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/SmitUplenchwar2687/pacer/internal/bucket"
	"github.com/SmitUplenchwar2687/pacer/internal/clock"
	"github.com/SmitUplenchwar2687/pacer/internal/quota"
	"github.com/SmitUplenchwar2687/pacer/internal/retryafter"
)

var (
	// ErrInvalidTokens is returned for a negative token count.
	ErrInvalidTokens = errors.New("limiter: token count must not be negative")

	ErrInvalidCapacity   = bucket.ErrInvalidCapacity
	ErrInvalidRefillRate = bucket.ErrInvalidRefillRate
	ErrExceedsCapacity   = bucket.ErrExceedsCapacity
	ErrHardLimitExceeded = quota.ErrHardLimitExceeded
	ErrInvalidLimit      = quota.ErrInvalidLimit
)

// Status is a point-in-time view of the limiter.
type Status struct {
	Bucket     bucket.Snapshot         `json:"bucket"`
	HardLimits map[string]quota.Status `json:"hard_limits"`
}

// RateLimiter is safe for concurrent use.
type RateLimiter struct {
	clock    clock.Clock
	bucket   *bucket.TokenBucket
	limits   *quota.Registry
	logger   *slog.Logger
	observer Observer

	// waitLog samples "waiting" logs; a saturated limiter can have many
	// goroutines looping through the wait path.
	waitLog rate.Sometimes
}

// New creates a limiter whose bucket starts full.
func New(capacity int, refillRate float64, opts ...Option) (*RateLimiter, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	c := clock.OrReal(o.clock)
	if o.observer == nil {
		o.observer = noopObserver{}
	}

	b, err := bucket.New(capacity, refillRate, c)
	if err != nil {
		return nil, err
	}

	l := &RateLimiter{
		clock:    c,
		bucket:   b,
		limits:   quota.NewRegistry(c),
		logger:   o.logger,
		observer: o.observer,
		waitLog:  rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}
	for _, hl := range o.limits {
		if err := l.limits.Add(hl.Name, hl.MaxCalls, hl.Period); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// AddHardLimit installs or replaces a hard limit. Replacing resets its
// counter and starts a new window now.
func (l *RateLimiter) AddHardLimit(name string, maxCalls int, period quota.Period) error {
	if err := l.limits.Add(name, maxCalls, period); err != nil {
		return err
	}
	l.logger.Info("hard limit set", "limit", name, "max_calls", maxCalls, "period", period.String())
	return nil
}

// RemoveHardLimit removes a hard limit and reports whether it existed.
func (l *RateLimiter) RemoveHardLimit(name string) bool {
	ok := l.limits.Remove(name)
	if ok {
		l.logger.Info("hard limit removed", "limit", name)
	}
	return ok
}

// Acquire blocks until n tokens are granted by the bucket and permitted by
// every hard limit, or until ctx is done.
//
// Hard limits are checked before any waiting and again on every wake, so a
// limit exhausted while this call sleeps fails it promptly. The error is a
// *quota.ExceededError for a hard limit and ctx.Err() on cancellation.
func (l *RateLimiter) Acquire(ctx context.Context, n int) error {
	if n == 0 {
		return nil
	}
	start := l.clock.Now()
	if err := l.validate(KindAcquire, n, start); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			l.canceled(n, start)
			return err
		}

		a, err := l.admit(n)
		if err != nil {
			l.rejected(KindAcquire, n, start, err)
			return err
		}
		if a.Granted {
			l.emit(Event{Kind: KindAcquire, Tokens: n, Outcome: OutcomeGranted, Waited: l.clock.Since(start)})
			return nil
		}

		l.waitLog.Do(func() {
			l.logger.Debug("waiting for tokens", "tokens", n, "wait", a.Wait)
		})
		if err := l.bucket.Await(ctx, a); err != nil {
			l.canceled(n, start)
			return err
		}
	}
}

// TryAcquire takes n tokens without blocking. It returns false with a nil
// error when the bucket is empty or paused, and a *quota.ExceededError when
// a hard limit would be violated.
func (l *RateLimiter) TryAcquire(n int) (bool, error) {
	if n == 0 {
		return true, nil
	}
	now := l.clock.Now()
	if err := l.validate(KindTryAcquire, n, now); err != nil {
		return false, err
	}

	a, err := l.admit(n)
	switch {
	case err != nil:
		l.rejected(KindTryAcquire, n, now, err)
		return false, err
	case a.Granted:
		l.emit(Event{Kind: KindTryAcquire, Tokens: n, Outcome: OutcomeGranted})
		return true, nil
	default:
		l.emit(Event{Kind: KindTryAcquire, Tokens: n, Outcome: OutcomeExhausted})
		return false, nil
	}
}

// BackoffFor pauses the bucket for at least d and empties it. Suspended
// acquirers wake and wait for the new deadline.
func (l *RateLimiter) BackoffFor(d time.Duration) {
	until := l.bucket.BackoffFor(d)
	l.logger.Info("backing off", "requested", d, "until", until)
	l.emit(Event{Kind: KindBackoff, Backoff: d})
}

// BackoffRetryAfter parses a Retry-After header value, applies it as a
// backoff and returns the duration used.
func (l *RateLimiter) BackoffRetryAfter(value string) time.Duration {
	d := retryafter.ParseAt(value, l.clock.Now())
	l.BackoffFor(d)
	return d
}

// Capacity returns the bucket capacity.
func (l *RateLimiter) Capacity() int { return l.bucket.Capacity() }

// RefillRate returns the bucket refill rate in tokens per second.
func (l *RateLimiter) RefillRate() float64 { return l.bucket.RefillRate() }

// AvailableTokens returns the tokens available now; zero during backoff.
func (l *RateLimiter) AvailableTokens() int { return l.bucket.Tokens() }

// TimeUntilAvailable estimates how long until n tokens could be taken. Hard
// limits are not considered.
func (l *RateLimiter) TimeUntilAvailable(n int) time.Duration {
	return l.bucket.TimeUntilAvailable(n)
}

// HardLimitStatus returns a read-only snapshot of every hard limit.
func (l *RateLimiter) HardLimitStatus() map[string]quota.Status {
	return l.limits.Status()
}

func (l *RateLimiter) Status() Status {
	return Status{
		Bucket:     l.bucket.Snapshot(),
		HardLimits: l.limits.Status(),
	}
}

// validate rejects malformed requests. Hard limits are checked before the
// capacity guard, so a call violating both reports the hard limit.
func (l *RateLimiter) validate(kind Kind, n int, start time.Time) error {
	if n < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidTokens, n)
	}
	if err := l.limits.CheckAll(n); err != nil {
		l.rejected(kind, n, start, err)
		return err
	}
	if c := l.bucket.Capacity(); n > c {
		return fmt.Errorf("%w: %d > %d", ErrExceedsCapacity, n, c)
	}
	return nil
}

// admit takes n tokens from the bucket under the registry lock, charging the
// hard limits only if the bucket granted them.
func (l *RateLimiter) admit(n int) (bucket.Attempt, error) {
	var a bucket.Attempt
	_, err := l.limits.Admit(n, func() bool {
		a = l.bucket.Take(n)
		return a.Granted
	})
	return a, err
}

func (l *RateLimiter) rejected(kind Kind, n int, start time.Time, err error) {
	ev := Event{Kind: kind, Tokens: n, Outcome: OutcomeHardLimit}
	if kind == KindAcquire {
		ev.Waited = l.clock.Since(start)
	}
	if e, ok := quota.AsExceeded(err); ok {
		ev.Limit = e.Name
		l.logger.Debug("hard limit rejected call",
			"limit", e.Name, "current", e.Current, "max", e.Max, "reset_in", e.ResetIn)
	}
	l.emit(ev)
}

func (l *RateLimiter) canceled(n int, start time.Time) {
	l.emit(Event{Kind: KindAcquire, Tokens: n, Outcome: OutcomeCanceled, Waited: l.clock.Since(start)})
}

func (l *RateLimiter) emit(ev Event) {
	ev.Time = l.clock.Now()
	l.observer.Observe(ev)
}
