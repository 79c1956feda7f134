package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SmitUplenchwar2687/pacer/internal/clock"
	"github.com/SmitUplenchwar2687/pacer/internal/limiter"
	"github.com/SmitUplenchwar2687/pacer/internal/quota"
)

func newSimLimiter(t *testing.T, capacity int, rate float64, opts ...limiter.Option) (*limiter.RateLimiter, *clock.VirtualClock) {
	t.Helper()
	vc := clock.NewVirtualClock(epoch)
	lim, err := limiter.New(capacity, rate, append([]limiter.Option{limiter.WithClock(vc)}, opts...)...)
	require.NoError(t, err)
	return lim, vc
}

func runSimulateJSON(t *testing.T, args ...string) SimulationResult {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs(append([]string{"simulate", "--json"}, args...))
	require.NoError(t, cmd.Execute())

	var result SimulationResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &result), out.String())
	return result
}

func TestRunSimulation_Basic(t *testing.T) {
	lim, vc := newSimLimiter(t, 5, 1)

	result := runSimulation(vc, lim, 10, 0, 0)

	require.Len(t, result.Batches, 1)
	assert.Equal(t, SimulationSummary{Total: 10, Granted: 5, Exhausted: 5}, result.Summary)

	last := result.Batches[0].Decisions[9]
	assert.Equal(t, limiter.OutcomeExhausted, last.Outcome)
	assert.Equal(t, time.Second, last.RetryIn)
}

func TestRunSimulation_WithFastForward(t *testing.T) {
	lim, vc := newSimLimiter(t, 5, 1)

	result := runSimulation(vc, lim, 8, 0, time.Minute)

	require.Len(t, result.Batches, 2)
	assert.Equal(t, "1m0s", result.FastForward)
	// Both batches: 5 granted, 3 exhausted.
	assert.Equal(t, 10, result.Summary.Granted)
	assert.Equal(t, 6, result.Summary.Exhausted)
}

func TestRunSimulation_HardLimitResetsAfterWindow(t *testing.T) {
	lim, vc := newSimLimiter(t, 10, 1, limiter.WithHardLimit("per-minute", 3, quota.Minute))

	result := runSimulation(vc, lim, 8, 0, time.Minute)

	assert.Equal(t, 6, result.Summary.Granted)
	assert.Equal(t, 10, result.Summary.HardLimited)
	assert.Zero(t, result.Summary.Exhausted)

	d := result.Batches[0].Decisions[3]
	assert.Equal(t, "per-minute", d.Limit)
	assert.Equal(t, time.Minute, d.RetryIn)
	assert.Equal(t, 3, result.HardLimits["per-minute"].Current)
}

func TestRunSimulation_Backoff(t *testing.T) {
	lim, vc := newSimLimiter(t, 5, 1)

	result := runSimulation(vc, lim, 5, 30*time.Second, 32*time.Second)

	assert.Equal(t, "30s", result.Backoff)
	// The bucket restarts empty after the pause and refills for 2s.
	assert.Equal(t, 7, result.Summary.Granted)
	assert.Equal(t, 3, result.Summary.Exhausted)
}

func TestNewSimulateCmd_JSON(t *testing.T) {
	result := runSimulateJSON(t, "--capacity", "3", "--requests", "5")

	assert.Equal(t, 3, result.Capacity)
	assert.Equal(t, 3, result.Summary.Granted)
	assert.Equal(t, 2, result.Summary.Exhausted)
}

func TestNewSimulateCmd_Text(t *testing.T) {
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"simulate", "--requests", "2", "--limit", "tiny:1:hour", "--fast-forward", "1h"})
	require.NoError(t, cmd.Execute())

	for _, want := range []string{"GRANTED", "HARD_LIMIT", "limit=tiny", "Fast-forwarded:  1h0m0s"} {
		assert.Contains(t, out.String(), want)
	}
}

func TestNewSimulateCmd_InvalidInput(t *testing.T) {
	for _, args := range [][]string{
		{"simulate", "--requests", "0"},
		{"simulate", "--capacity", "0"},
		{"simulate", "--limit", "nope"},
	} {
		cmd := NewRootCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs(args)
		assert.Error(t, cmd.Execute(), "%v", args)
	}
}

func TestNewSimulateCmd_LoadsConfigFile(t *testing.T) {
	content := `limiter:
  capacity: 2
  refill_rate: 0.5
  hard_limits:
    - name: per-minute
      max_calls: 1
      period: minute
`
	path := filepath.Join(t.TempDir(), "pacer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	result := runSimulateJSON(t, "--config", path, "--requests", "3")

	assert.Equal(t, 2, result.Capacity)
	assert.Equal(t, 1, result.Summary.Granted)
	assert.Equal(t, 2, result.Summary.HardLimited)
}
