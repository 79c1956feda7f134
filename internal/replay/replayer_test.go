package replay

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SmitUplenchwar2687/pacer/internal/clock"
	"github.com/SmitUplenchwar2687/pacer/internal/limiter"
	"github.com/SmitUplenchwar2687/pacer/internal/quota"
	"github.com/SmitUplenchwar2687/pacer/internal/recorder"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func try(at time.Duration, outcome limiter.Outcome) recorder.Record {
	return recorder.Record{
		ID:    at.String(),
		Event: limiter.Event{Time: epoch.Add(at), Kind: limiter.KindTryAcquire, Tokens: 1, Outcome: outcome},
	}
}

func burst(n int, at time.Duration) []recorder.Record {
	out := make([]recorder.Record, n)
	for i := range out {
		out[i] = try(at, limiter.OutcomeGranted)
	}
	return out
}

func newReplayer(t *testing.T, capacity int, rate float64, opts ...limiter.Option) *Replayer {
	t.Helper()
	vc := clock.NewVirtualClock(epoch)
	l, err := limiter.New(capacity, rate, append([]limiter.Option{limiter.WithClock(vc)}, opts...)...)
	require.NoError(t, err)
	return New(l, vc, 0, Filter{})
}

func TestReplayer_BasicReplay(t *testing.T) {
	r := newReplayer(t, 5, 1)
	r.LoadRecords(burst(10, 0))

	var results []Result
	summary, err := r.Run(context.Background(), func(res Result) {
		results = append(results, res)
	})
	require.NoError(t, err)

	assert.Equal(t, 10, summary.Replayed)
	assert.Equal(t, 5, summary.Granted)
	assert.Equal(t, 5, summary.Exhausted)
	assert.Equal(t, 5, summary.Matched)
	assert.Equal(t, 5*time.Second, summary.TotalWait)

	require.Len(t, results, 10)
	assert.Equal(t, limiter.OutcomeExhausted, results[9].Outcome)
	assert.Equal(t, time.Second, results[9].Wait)
}

func TestReplayer_AdvancesClock(t *testing.T) {
	r := newReplayer(t, 5, 1)
	r.LoadRecords(append(burst(5, 0), burst(5, 10*time.Second)...))

	summary, err := r.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 10, summary.Granted, "bucket refills between bursts")
	assert.Equal(t, 10*time.Second, summary.Duration)
	assert.Equal(t, epoch.Add(10*time.Second), r.clock.Now())
}

func TestReplayer_HardLimits(t *testing.T) {
	r := newReplayer(t, 10, 1, limiter.WithHardLimit("per-minute", 3, quota.Minute))
	r.LoadRecords(burst(5, 0))

	var last Result
	summary, err := r.Run(context.Background(), func(res Result) { last = res })
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Granted)
	assert.Equal(t, 2, summary.HardLimited)
	assert.Equal(t, 2, summary.PerLimit["per-minute"])
	assert.Equal(t, "per-minute", last.Limit)
	assert.False(t, last.Matched)
}

func TestReplayer_Backoff(t *testing.T) {
	r := newReplayer(t, 5, 1)
	r.LoadRecords([]recorder.Record{
		{ID: "b", Event: limiter.Event{Time: epoch, Kind: limiter.KindBackoff, Backoff: 30 * time.Second}},
		try(10*time.Second, limiter.OutcomeExhausted),
		try(31*time.Second, limiter.OutcomeGranted),
	})

	var results []Result
	summary, err := r.Run(context.Background(), func(res Result) { results = append(results, res) })
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Backoffs)
	assert.Equal(t, 1, summary.Exhausted)
	assert.Equal(t, 1, summary.Granted)
	assert.Equal(t, 3, summary.Matched)
	require.Len(t, results, 3)
	assert.Equal(t, 21*time.Second, results[1].Wait, "wait during backoff")
}

func TestReplayer_OrdersByStartTime(t *testing.T) {
	r := newReplayer(t, 1, 1)
	waited := recorder.Record{ID: "slow", Event: limiter.Event{
		Time: epoch.Add(5 * time.Second), Kind: limiter.KindAcquire, Tokens: 1,
		Outcome: limiter.OutcomeGranted, Waited: 5 * time.Second,
	}}
	r.LoadRecords([]recorder.Record{try(500*time.Millisecond, limiter.OutcomeExhausted), waited})

	var order []string
	var results []Result
	_, err := r.Run(context.Background(), func(res Result) {
		order = append(order, res.Record.ID)
		results = append(results, res)
	})
	require.NoError(t, err)

	require.Len(t, order, 2)
	assert.Equal(t, "slow", order[0], "the acquisition that started first replays first")
	assert.True(t, results[1].Matched, "exhausted try should match its recording")
}

func TestReplayer_WaitedAcquireMatchesExhausted(t *testing.T) {
	r := newReplayer(t, 1, 1)
	r.LoadRecords([]recorder.Record{
		try(0, limiter.OutcomeGranted),
		{ID: "w", Event: limiter.Event{
			Time: epoch.Add(time.Second), Kind: limiter.KindAcquire, Tokens: 1,
			Outcome: limiter.OutcomeGranted, Waited: time.Second,
		}},
	})

	summary, err := r.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Exhausted)
	assert.Equal(t, 2, summary.Matched)
}

func TestReplayer_FilterKinds(t *testing.T) {
	r := newReplayer(t, 5, 1)
	r.filter = Filter{Kinds: []limiter.Kind{limiter.KindBackoff}}
	r.LoadRecords(append(burst(3, 0),
		recorder.Record{ID: "b", Event: limiter.Event{Time: epoch, Kind: limiter.KindBackoff, Backoff: time.Second}}))

	summary, err := r.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.TotalRecords)
	assert.Equal(t, 1, summary.Filtered)
	assert.Equal(t, 1, summary.Backoffs)
}

func TestReplayer_FilterExcludesAll(t *testing.T) {
	r := newReplayer(t, 5, 1)
	r.filter = Filter{Before: epoch}
	r.LoadRecords(burst(3, time.Second))

	summary, err := r.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, summary.Filtered)
	assert.Zero(t, summary.Replayed)
}

func TestReplayer_Load_FromJSON(t *testing.T) {
	rec := recorder.New(nil)
	for _, r := range burst(3, 0) {
		_, err := rec.Record(r.Event)
		require.NoError(t, err)
	}
	var buf bytes.Buffer
	require.NoError(t, rec.ExportJSON(&buf))

	r := newReplayer(t, 2, 1)
	require.NoError(t, r.Load(&buf))
	summary, err := r.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Granted)
	assert.Equal(t, 1, summary.Exhausted)
}

func TestReplayer_Load_Invalid(t *testing.T) {
	r := newReplayer(t, 2, 1)
	assert.Error(t, r.Load(bytes.NewBufferString("{")))
}

func TestReplayer_EmptyRecords(t *testing.T) {
	r := newReplayer(t, 5, 1)
	_, err := r.Run(context.Background(), nil)
	assert.Error(t, err)
}

func TestReplayer_ContextCancellation(t *testing.T) {
	r := newReplayer(t, 5, 1)
	r.LoadRecords(burst(3, 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Run(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReplayer_SpeedPacesWallClock(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	l, err := limiter.New(5, 1, limiter.WithClock(vc))
	require.NoError(t, err)
	r := New(l, vc, 100, Filter{}) // 2s of trace at 100x = 20ms
	r.LoadRecords(append(burst(1, 0), burst(1, 2*time.Second)...))

	summary, err := r.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, summary.WallDuration, 20*time.Millisecond)
}
