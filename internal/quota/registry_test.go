package quota

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SmitUplenchwar2687/pacer/internal/clock"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newRegistry(t *testing.T) (*Registry, *clock.VirtualClock) {
	t.Helper()
	vc := clock.NewVirtualClock(epoch)
	return NewRegistry(vc), vc
}

func admit(r *Registry, n int) error {
	_, err := r.Admit(n, func() bool { return true })
	return err
}

func TestRegistry_AddValidates(t *testing.T) {
	r, _ := newRegistry(t)

	assert.ErrorIs(t, r.Add("", 1, Minute), ErrInvalidLimit)
	assert.ErrorIs(t, r.Add("x", 0, Minute), ErrInvalidLimit)
	assert.ErrorIs(t, r.Add("x", -1, Minute), ErrInvalidLimit)
	assert.ErrorIs(t, r.Add("x", 1, Period(0)), ErrInvalidLimit)
	assert.ErrorIs(t, r.Add("x", 1, Period(42)), ErrInvalidLimit)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_ThreePerMinute(t *testing.T) {
	r, vc := newRegistry(t)
	require.NoError(t, r.Add("per-minute", 3, Minute))

	for i := 0; i < 3; i++ {
		require.NoError(t, admit(r, 1), "call %d", i+1)
	}

	vc.Advance(20 * time.Second)
	err := admit(r, 1)
	e, ok := AsExceeded(err)
	require.True(t, ok, "want ExceededError, got %v", err)
	assert.ErrorIs(t, err, ErrHardLimitExceeded)
	assert.Equal(t, "per-minute", e.Name)
	assert.Equal(t, Minute, e.Period)
	assert.Equal(t, 3, e.Current)
	assert.Equal(t, 3, e.Max)
	assert.Equal(t, 40*time.Second, e.ResetIn)

	vc.Advance(40 * time.Second)
	require.NoError(t, admit(r, 1))
	assert.Equal(t, 1, r.Status()["per-minute"].Current)
}

func TestRegistry_RejectedCheckLeavesCountersUnchanged(t *testing.T) {
	r, _ := newRegistry(t)
	require.NoError(t, r.Add("a", 10, Hour))
	require.NoError(t, r.Add("b", 2, Hour))
	require.NoError(t, admit(r, 1))

	err := r.CheckAll(2)
	require.Error(t, err)
	e, _ := AsExceeded(err)
	assert.Equal(t, "b", e.Name)

	_, err = r.Admit(2, func() bool { return true })
	require.Error(t, err)

	st := r.Status()
	assert.Equal(t, 1, st["a"].Current)
	assert.Equal(t, 1, st["b"].Current)
}

func TestRegistry_AdmitDeclinedGrantCommitsNothing(t *testing.T) {
	r, _ := newRegistry(t)
	require.NoError(t, r.Add("a", 5, Day))

	called := false
	ok, err := r.Admit(1, func() bool { called = true; return false })
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, called)
	assert.Equal(t, 0, r.Status()["a"].Current)
}

func TestRegistry_AdmitSkipsGrantWhenOverLimit(t *testing.T) {
	r, _ := newRegistry(t)
	require.NoError(t, r.Add("a", 1, Day))
	require.NoError(t, admit(r, 1))

	called := false
	_, err := r.Admit(1, func() bool { called = true; return true })
	require.Error(t, err)
	assert.False(t, called, "grant must not run when a hard limit rejects")
}

func TestRegistry_FirstViolationInNameOrder(t *testing.T) {
	r, _ := newRegistry(t)
	require.NoError(t, r.Add("zulu", 1, Minute))
	require.NoError(t, r.Add("alpha", 1, Hour))
	require.NoError(t, r.Add("mike", 1, Day))
	require.NoError(t, admit(r, 1))

	for i := 0; i < 10; i++ {
		e, ok := AsExceeded(r.CheckAll(1))
		require.True(t, ok)
		assert.Equal(t, "alpha", e.Name)
	}
}

func TestRegistry_AllLimitsMustPermit(t *testing.T) {
	r, vc := newRegistry(t)
	require.NoError(t, r.Add("burst", 2, Minute))
	require.NoError(t, r.Add("daily", 3, Day))

	require.NoError(t, admit(r, 2))
	assert.Error(t, admit(r, 1)) // burst exhausted

	vc.Advance(time.Minute)
	require.NoError(t, admit(r, 1)) // burst rolled, daily at 3
	vc.Advance(time.Minute)

	e, ok := AsExceeded(admit(r, 1))
	require.True(t, ok)
	assert.Equal(t, "daily", e.Name)
	assert.Equal(t, 24*time.Hour-2*time.Minute, e.ResetIn)
}

func TestRegistry_AddReplacesAndResets(t *testing.T) {
	r, vc := newRegistry(t)
	require.NoError(t, r.Add("a", 2, Hour))
	require.NoError(t, admit(r, 2))

	vc.Advance(10 * time.Minute)
	require.NoError(t, r.Add("a", 5, Minute))

	st := r.Status()["a"]
	assert.Equal(t, 0, st.Current)
	assert.Equal(t, 5, st.Max)
	assert.Equal(t, Minute, st.Period)
	assert.Equal(t, time.Minute, st.ResetIn)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_RemoveUnconstrains(t *testing.T) {
	r, _ := newRegistry(t)
	require.NoError(t, r.Add("a", 1, Hour))
	require.NoError(t, admit(r, 1))
	require.Error(t, admit(r, 1))

	assert.True(t, r.Remove("a"))
	assert.False(t, r.Remove("a"))
	assert.NoError(t, admit(r, 100))
	assert.Empty(t, r.Status())
}

func TestRegistry_StatusIsReadOnly(t *testing.T) {
	r, vc := newRegistry(t)
	require.NoError(t, r.Add("a", 4, Minute))
	require.NoError(t, admit(r, 3))

	vc.Advance(15 * time.Second)
	st := r.Status()["a"]
	assert.Equal(t, Status{Name: "a", Max: 4, Current: 3, Remaining: 1, Period: Minute, ResetIn: 45 * time.Second}, st)

	// An elapsed window reads as empty without being rolled.
	vc.Advance(2 * time.Minute)
	st = r.Status()["a"]
	assert.Equal(t, 0, st.Current)
	assert.Equal(t, 4, st.Remaining)
	assert.Equal(t, time.Duration(0), st.ResetIn)

	// The next check rolls the window and starts it at that moment.
	require.NoError(t, r.CheckAll(1))
	assert.Equal(t, time.Minute, r.Status()["a"].ResetIn)
}

func TestRegistry_CommitAllWithoutLimitsIsNoop(t *testing.T) {
	r, _ := newRegistry(t)
	r.CommitAll(5)
	assert.NoError(t, r.CheckAll(1000))
}

func TestRegistry_ConcurrentAdmitNeverExceedsMax(t *testing.T) {
	r, _ := newRegistry(t)
	require.NoError(t, r.Add("a", 25, Hour))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = admit(r, 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, 25, r.Status()["a"].Current)
}
