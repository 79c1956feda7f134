package replay

import (
	"slices"
	"time"

	"github.com/SmitUplenchwar2687/pacer/internal/limiter"
	"github.com/SmitUplenchwar2687/pacer/internal/recorder"
)

// Filter selects which recorded events are replayed.
type Filter struct {
	Kinds  []limiter.Kind // only these kinds (empty = all)
	After  time.Time      // only events started after this time (zero = no limit)
	Before time.Time      // only events started before this time (zero = no limit)
}

// Match returns true if the record passes the filter.
func (f *Filter) Match(r recorder.Record) bool {
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, r.Kind) {
		return false
	}
	start := startTime(r)
	if !f.After.IsZero() && !start.After(f.After) {
		return false
	}
	if !f.Before.IsZero() && !start.Before(f.Before) {
		return false
	}
	return true
}

// startTime is when the recorded operation began. Blocking acquisitions are
// recorded when they finish, after waiting.
func startTime(r recorder.Record) time.Time {
	return r.Time.Add(-r.Waited)
}

// Earliest returns the earliest start time in records, or the zero time
// when there are none. A replay clock starts here so hard limit windows line
// up with the trace.
func Earliest(records []recorder.Record) time.Time {
	var first time.Time
	for _, r := range records {
		if s := startTime(r); first.IsZero() || s.Before(first) {
			first = s
		}
	}
	return first
}
