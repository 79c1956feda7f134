// Package replay re-runs a recorded limiter trace against a fresh limiter on
// virtual time. Replaying a production trace under a different capacity,
// refill rate or set of hard limits shows how that configuration would have
// treated the same traffic.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/SmitUplenchwar2687/pacer/internal/clock"
	"github.com/SmitUplenchwar2687/pacer/internal/limiter"
	"github.com/SmitUplenchwar2687/pacer/internal/quota"
	"github.com/SmitUplenchwar2687/pacer/internal/recorder"
)

// Replayer replays recorded events through a limiter. The limiter must use
// the replayer's virtual clock.
type Replayer struct {
	records []recorder.Record
	limiter *limiter.RateLimiter
	clock   *clock.VirtualClock
	filter  Filter
	speed   float64 // 1.0 = real-time, 10.0 = 10x, 0 = instant
}

// Result is the replayed outcome of one record.
type Result struct {
	Record  recorder.Record `json:"record"`
	Outcome limiter.Outcome `json:"outcome,omitempty"`
	Limit   string          `json:"limit,omitempty"`
	// Wait is how long an acquisition the bucket could not serve would have
	// had to block.
	Wait time.Duration `json:"wait,omitempty"`
	// Matched reports whether the replayed outcome equals the recorded one.
	Matched bool      `json:"matched"`
	Time    time.Time `json:"time"` // virtual time of the decision
}

// Summary aggregates replay statistics.
type Summary struct {
	TotalRecords int            `json:"total_records"`
	Filtered     int            `json:"filtered"`
	Replayed     int            `json:"replayed"`
	Granted      int            `json:"granted"`
	Exhausted    int            `json:"exhausted"`
	HardLimited  int            `json:"hard_limited"`
	Backoffs     int            `json:"backoffs"`
	Matched      int            `json:"matched"`
	TotalWait    time.Duration  `json:"total_wait"`
	PerLimit     map[string]int `json:"per_limit"` // hard limit rejections by limit name
	Duration     time.Duration  `json:"duration"`      // virtual time span
	WallDuration time.Duration  `json:"wall_duration"` // actual wall clock time
}

// New creates a replayer. A negative speed is treated as instant.
func New(lim *limiter.RateLimiter, vc *clock.VirtualClock, speed float64, filter Filter) *Replayer {
	return &Replayer{
		limiter: lim,
		clock:   vc,
		speed:   max(speed, 0),
		filter:  filter,
	}
}

// Load reads records from a JSON array.
func (r *Replayer) Load(reader io.Reader) error {
	records, err := recorder.LoadJSON(reader)
	if err != nil {
		return fmt.Errorf("loading records: %w", err)
	}
	r.records = records
	return nil
}

// LoadRecords sets the records directly.
func (r *Replayer) LoadRecords(records []recorder.Record) {
	r.records = append([]recorder.Record(nil), records...)
}

// Run replays the loaded records in start-time order, advancing the virtual
// clock by the gaps between them. Acquisitions are replayed without
// blocking: one the bucket cannot serve is reported as exhausted together
// with the wait it would have needed. cb, if non-nil, sees every result.
func (r *Replayer) Run(ctx context.Context, cb func(Result)) (*Summary, error) {
	if len(r.records) == 0 {
		return nil, errors.New("no records loaded")
	}

	sorted := append([]recorder.Record(nil), r.records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return startTime(sorted[i]).Before(startTime(sorted[j]))
	})

	var filtered []recorder.Record
	for _, rec := range sorted {
		if r.filter.Match(rec) {
			filtered = append(filtered, rec)
		}
	}

	summary := &Summary{
		TotalRecords: len(sorted),
		Filtered:     len(filtered),
		PerLimit:     make(map[string]int),
	}
	if len(filtered) == 0 {
		return summary, nil
	}

	wallStart := time.Now()
	for i, rec := range filtered {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		if i > 0 {
			if gap := startTime(rec).Sub(startTime(filtered[i-1])); gap > 0 {
				if err := r.pace(ctx, gap); err != nil {
					return summary, err
				}
				r.clock.Advance(gap)
			}
		}

		res, err := r.apply(rec)
		if err != nil {
			return summary, err
		}
		summary.add(res)
		if cb != nil {
			cb(res)
		}
	}

	summary.Duration = startTime(filtered[len(filtered)-1]).Sub(startTime(filtered[0]))
	summary.WallDuration = time.Since(wallStart)
	return summary, nil
}

// pace sleeps for gap scaled by speed so a replay can be watched live.
func (r *Replayer) pace(ctx context.Context, gap time.Duration) error {
	if r.speed == 0 {
		return nil
	}
	scaled := time.Duration(float64(gap) / r.speed)
	if scaled <= time.Millisecond {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(scaled):
		return nil
	}
}

func (r *Replayer) apply(rec recorder.Record) (Result, error) {
	res := Result{Record: rec}

	if rec.Kind == limiter.KindBackoff {
		r.limiter.BackoffFor(rec.Backoff)
		res.Matched = true
		res.Time = r.clock.Now()
		return res, nil
	}

	tokens := min(rec.Tokens, r.limiter.Capacity())
	ok, err := r.limiter.TryAcquire(tokens)
	switch {
	case err != nil:
		e, isLimit := quota.AsExceeded(err)
		if !isLimit {
			return res, fmt.Errorf("replaying record %s: %w", rec.ID, err)
		}
		res.Outcome = limiter.OutcomeHardLimit
		res.Limit = e.Name
	case ok:
		res.Outcome = limiter.OutcomeGranted
	default:
		res.Outcome = limiter.OutcomeExhausted
		res.Wait = r.limiter.TimeUntilAvailable(tokens)
	}

	res.Matched = matches(rec, res)
	res.Time = r.clock.Now()
	return res, nil
}

// matches compares a replayed outcome with the recorded one. A blocking
// acquisition that was granted after waiting matches an exhausted replay.
func matches(rec recorder.Record, res Result) bool {
	if rec.Outcome == res.Outcome {
		return rec.Outcome != limiter.OutcomeHardLimit || rec.Limit == res.Limit
	}
	return rec.Kind == limiter.KindAcquire && rec.Waited > 0 &&
		rec.Outcome == limiter.OutcomeGranted && res.Outcome == limiter.OutcomeExhausted
}

func (s *Summary) add(res Result) {
	s.Replayed++
	if res.Matched {
		s.Matched++
	}
	if res.Record.Kind == limiter.KindBackoff {
		s.Backoffs++
		return
	}
	switch res.Outcome {
	case limiter.OutcomeGranted:
		s.Granted++
	case limiter.OutcomeExhausted:
		s.Exhausted++
		s.TotalWait += res.Wait
	case limiter.OutcomeHardLimit:
		s.HardLimited++
		s.PerLimit[res.Limit]++
	}
}
