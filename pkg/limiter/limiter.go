// Package limiter is the public face of pacer's rate limiter: a token bucket
// with server-driven backoff, composed with named hard limits.
package limiter

import (
	internallimiter "github.com/SmitUplenchwar2687/pacer/internal/limiter"
	"github.com/SmitUplenchwar2687/pacer/internal/quota"
)

// RateLimiter is safe for concurrent use.
type RateLimiter = internallimiter.RateLimiter

// Option configures a RateLimiter.
type Option = internallimiter.Option

// HardLimit is a named cap on calls per period.
type HardLimit = internallimiter.HardLimit

// Status is a point-in-time view of a limiter.
type Status = internallimiter.Status

// Event describes one completed limiter operation.
type Event = internallimiter.Event

// Observer receives limiter events.
type Observer = internallimiter.Observer

// ObserverFunc adapts a function to Observer.
type ObserverFunc = internallimiter.ObserverFunc

type (
	Kind    = internallimiter.Kind
	Outcome = internallimiter.Outcome
)

const (
	KindAcquire    = internallimiter.KindAcquire
	KindTryAcquire = internallimiter.KindTryAcquire
	KindBackoff    = internallimiter.KindBackoff

	OutcomeGranted   = internallimiter.OutcomeGranted
	OutcomeExhausted = internallimiter.OutcomeExhausted
	OutcomeHardLimit = internallimiter.OutcomeHardLimit
	OutcomeCanceled  = internallimiter.OutcomeCanceled
)

// Period is the window length of a hard limit.
type Period = quota.Period

const (
	Minute = quota.Minute
	Hour   = quota.Hour
	Day    = quota.Day
	Month  = quota.Month
	Year   = quota.Year
)

// ExceededError names the hard limit that rejected a call.
type ExceededError = quota.ExceededError

var (
	ErrInvalidTokens     = internallimiter.ErrInvalidTokens
	ErrInvalidCapacity   = internallimiter.ErrInvalidCapacity
	ErrInvalidRefillRate = internallimiter.ErrInvalidRefillRate
	ErrExceedsCapacity   = internallimiter.ErrExceedsCapacity
	ErrHardLimitExceeded = internallimiter.ErrHardLimitExceeded
	ErrInvalidLimit      = internallimiter.ErrInvalidLimit
)

// New creates a limiter whose bucket starts full.
func New(capacity int, refillRate float64, opts ...Option) (*RateLimiter, error) {
	return internallimiter.New(capacity, refillRate, opts...)
}

var (
	WithClock      = internallimiter.WithClock
	WithLogger     = internallimiter.WithLogger
	WithObserver   = internallimiter.WithObserver
	WithHardLimit  = internallimiter.WithHardLimit
	WithHardLimits = internallimiter.WithHardLimits
	Observers      = internallimiter.Observers
)

// ParsePeriod parses minute, hour, day, month or year.
func ParsePeriod(s string) (Period, error) {
	return quota.ParsePeriod(s)
}

// AsExceeded extracts an ExceededError from err.
func AsExceeded(err error) (*ExceededError, bool) {
	return quota.AsExceeded(err)
}
