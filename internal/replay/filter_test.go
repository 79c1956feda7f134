package replay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/SmitUplenchwar2687/pacer/internal/limiter"
	"github.com/SmitUplenchwar2687/pacer/internal/recorder"
)

func TestFilter_Empty_MatchesAll(t *testing.T) {
	f := Filter{}
	assert.True(t, f.Match(try(0, limiter.OutcomeGranted)))
}

func TestFilter_Kinds(t *testing.T) {
	f := Filter{Kinds: []limiter.Kind{limiter.KindAcquire, limiter.KindBackoff}}

	assert.True(t, f.Match(recorder.Record{Event: limiter.Event{Kind: limiter.KindAcquire}}))
	assert.False(t, f.Match(recorder.Record{Event: limiter.Event{Kind: limiter.KindTryAcquire}}))
}

func TestFilter_TimeRangeUsesStartTime(t *testing.T) {
	f := Filter{After: epoch.Add(time.Second), Before: epoch.Add(10 * time.Second)}

	assert.False(t, f.Match(try(time.Second, limiter.OutcomeGranted)), "After is exclusive")
	assert.True(t, f.Match(try(5*time.Second, limiter.OutcomeGranted)))
	assert.False(t, f.Match(try(10*time.Second, limiter.OutcomeGranted)), "Before is exclusive")

	// Finished inside the range but started before it.
	waited := recorder.Record{Event: limiter.Event{
		Time: epoch.Add(3 * time.Second), Kind: limiter.KindAcquire, Waited: 3 * time.Second,
	}}
	assert.False(t, f.Match(waited))
}

func TestEarliest(t *testing.T) {
	assert.True(t, Earliest(nil).IsZero())

	records := []recorder.Record{
		{Event: limiter.Event{Time: epoch.Add(10 * time.Second)}},
		{Event: limiter.Event{Time: epoch.Add(8 * time.Second), Waited: 5 * time.Second}},
		{Event: limiter.Event{Time: epoch.Add(4 * time.Second)}},
	}
	assert.Equal(t, epoch.Add(3*time.Second), Earliest(records))
}
