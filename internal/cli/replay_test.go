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

	"github.com/SmitUplenchwar2687/pacer/internal/limiter"
	"github.com/SmitUplenchwar2687/pacer/internal/recorder"
	"github.com/SmitUplenchwar2687/pacer/internal/replay"
)

func writeReplayFixture(t *testing.T) string {
	t.Helper()

	rec := recorder.New(nil)
	events := []limiter.Event{
		{Time: epoch, Kind: limiter.KindAcquire, Tokens: 1, Outcome: limiter.OutcomeGranted},
		{Time: epoch, Kind: limiter.KindAcquire, Tokens: 1, Outcome: limiter.OutcomeGranted},
		{Time: epoch.Add(time.Second), Kind: limiter.KindTryAcquire, Tokens: 1, Outcome: limiter.OutcomeGranted},
		{Time: epoch.Add(2 * time.Second), Kind: limiter.KindBackoff, Backoff: 10 * time.Second},
		{Time: epoch.Add(3 * time.Second), Kind: limiter.KindTryAcquire, Tokens: 1, Outcome: limiter.OutcomeExhausted},
	}
	for _, ev := range events {
		_, err := rec.Record(ev)
		require.NoError(t, err)
	}

	path := filepath.Join(t.TempDir(), "events.json")
	require.NoError(t, rec.ExportFile(path))
	return path
}

func runReplayJSON(t *testing.T, args ...string) replay.Summary {
	t.Helper()

	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs(append([]string{"replay", "--json"}, args...))
	require.NoError(t, cmd.Execute())

	var body struct {
		Results []replay.Result `json:"results"`
		Summary replay.Summary  `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &body), out.String())
	assert.Len(t, body.Results, body.Summary.Replayed)
	return body.Summary
}

func TestNewReplayCmd_ReplaysTrace(t *testing.T) {
	path := writeReplayFixture(t)

	s := runReplayJSON(t, "--file", path, "--capacity", "2", "--refill-rate", "1")

	require.Equal(t, 5, s.TotalRecords)
	require.Equal(t, 5, s.Replayed)
	// Two tokens at t=0, one refilled by t=1s, then the backoff empties
	// the bucket until t=12s.
	assert.Equal(t, 3, s.Granted)
	assert.Equal(t, 1, s.Exhausted)
	assert.Equal(t, 1, s.Backoffs)
	assert.Equal(t, 5, s.Matched)
	assert.Equal(t, 3*time.Second, s.Duration)
}

func TestNewReplayCmd_HardLimitAndKindFilter(t *testing.T) {
	path := writeReplayFixture(t)

	s := runReplayJSON(t, "--file", path, "--capacity", "5", "--limit", "burst:1:minute", "--kind", "acquire")

	assert.Equal(t, 2, s.Filtered)
	assert.Equal(t, 1, s.Granted)
	assert.Equal(t, 1, s.HardLimited)
	assert.Equal(t, 1, s.PerLimit["burst"])
}

func TestNewReplayCmd_TextOutput(t *testing.T) {
	path := writeReplayFixture(t)

	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"replay", "--file", path, "--capacity", "2"})
	require.NoError(t, cmd.Execute())

	for _, want := range []string{"--- Replay Summary ---", "backoff 10s", "Matched:        5/5"} {
		assert.Contains(t, out.String(), want)
	}
}

func TestNewReplayCmd_LoadsConfigFile(t *testing.T) {
	path := writeReplayFixture(t)
	configPath := filepath.Join(t.TempDir(), "pacer.yaml")
	content := `limiter:
  capacity: 1
  refill_rate: 1
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	s := runReplayJSON(t, "--file", path, "--config", configPath)
	assert.Equal(t, 2, s.Granted)
	assert.Equal(t, 2, s.Exhausted)
}

func TestNewReplayCmd_Errors(t *testing.T) {
	path := writeReplayFixture(t)

	for _, args := range [][]string{
		{"replay"},
		{"replay", "--file", filepath.Join(t.TempDir(), "missing.json")},
		{"replay", "--file", path, "--kind", "bogus"},
	} {
		cmd := NewRootCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs(args)
		assert.Error(t, cmd.Execute(), "%v", args)
	}
}
