package limiter

import (
	"io"
	"log/slog"

	"github.com/SmitUplenchwar2687/pacer/internal/clock"
	"github.com/SmitUplenchwar2687/pacer/internal/quota"
)

// Option configures a RateLimiter.
type Option func(*options)

type options struct {
	clock    clock.Clock
	logger   *slog.Logger
	observer Observer
	limits   []HardLimit
}

// HardLimit declares a hard limit to install at construction.
type HardLimit struct {
	Name     string       `json:"name" yaml:"name"`
	MaxCalls int          `json:"max_calls" yaml:"max_calls"`
	Period   quota.Period `json:"period" yaml:"period"`
}

// WithClock sets the time source. Defaults to the wall clock.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithLogger sets the structured logger. Defaults to a discarding logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver registers an observer for limiter events. Repeated calls
// accumulate observers.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if o.observer == nil {
			o.observer = obs
			return
		}
		o.observer = Observers(o.observer, obs)
	}
}

// WithHardLimit installs a hard limit at construction.
func WithHardLimit(name string, maxCalls int, period quota.Period) Option {
	return func(o *options) {
		o.limits = append(o.limits, HardLimit{Name: name, MaxCalls: maxCalls, Period: period})
	}
}

// WithHardLimits installs several hard limits at construction.
func WithHardLimits(limits ...HardLimit) Option {
	return func(o *options) {
		o.limits = append(o.limits, limits...)
	}
}

func defaultOptions() options {
	return options{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}
