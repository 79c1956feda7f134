// Package clock exposes the time sources a pacer limiter can run on.
//
// Pass a VirtualClock to limiter.WithClock to drive refills, window rolls and
// backoff expiry by hand.
package clock

import (
	"time"

	internalclock "github.com/SmitUplenchwar2687/pacer/internal/clock"
)

// Clock is the time source read by buckets, hard limits and waiters.
type Clock = internalclock.Clock

// VirtualClock only moves on Advance or Set. Waiters suspended on it wake
// when the clock passes their deadline.
type VirtualClock = internalclock.VirtualClock

// Real returns the wall clock. It is what a limiter uses without WithClock.
func Real() Clock { return internalclock.NewRealClock() }

// NewVirtualClock returns a VirtualClock reading start.
func NewVirtualClock(start time.Time) *VirtualClock {
	return internalclock.NewVirtualClock(start)
}
