package cli

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/pacer/internal/config"
	"github.com/SmitUplenchwar2687/pacer/internal/limiter"
	"github.com/SmitUplenchwar2687/pacer/internal/recorder"
)

func newGenerateCmd() *cobra.Command {
	var (
		output   string
		count    int
		duration time.Duration
		pattern  string
		backoffs int
		seed     int64
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate sample traces and config",
		Long: `Generates sample data for testing and experimentation.

Use "generate trace" to create a synthetic event trace for "pacer replay".
Use "generate config" to create an example YAML config file.`,
	}

	traceCmd := &cobra.Command{
		Use:   "trace",
		Short: "Generate a synthetic event trace",
		Long: `Creates a trace of acquisitions in the format written by
"pacer serve --record".

Patterns:
  steady    Evenly distributed acquisitions
  burst     Concentrated bursts with quiet periods
  ramp      Gradually increasing acquisition rate`,
		Example: `  pacer generate trace --output trace.json --count 100
  pacer generate trace --output burst.json --count 200 --pattern burst --duration 10m --backoffs 2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count <= 0 {
				return fmt.Errorf("--count must be positive, got %d", count)
			}
			if duration <= 0 {
				return fmt.Errorf("--duration must be positive, got %s", duration)
			}
			if seed == 0 {
				seed = time.Now().UnixNano()
			}

			rng := rand.New(rand.NewSource(seed))
			start := time.Now().Truncate(time.Second)
			events, err := generateTrace(rng, start, count, duration, pattern, backoffs)
			if err != nil {
				return err
			}

			rec := recorder.New(nil)
			for _, ev := range events {
				if _, err := rec.Record(ev); err != nil {
					return err
				}
			}
			if err := rec.ExportFile(output); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Generated %d events to %s\n", rec.Len(), output)
			fmt.Fprintf(out, "  Duration: %s\n", duration)
			fmt.Fprintf(out, "  Pattern:  %s\n", pattern)
			return nil
		},
	}

	traceCmd.Flags().StringVar(&output, "output", "trace.json", "output file path")
	traceCmd.Flags().IntVar(&count, "count", 100, "number of acquisitions to generate")
	traceCmd.Flags().DurationVar(&duration, "duration", 5*time.Minute, "time span of the trace")
	traceCmd.Flags().StringVar(&pattern, "pattern", "steady", "trace pattern (steady, burst, ramp)")
	traceCmd.Flags().IntVar(&backoffs, "backoffs", 0, "number of 30s server backoffs spread over the trace")
	traceCmd.Flags().Int64Var(&seed, "seed", 0, "random seed (0 = time based)")

	var configOutput string
	configCmd := &cobra.Command{
		Use:     "config",
		Short:   "Generate an example YAML config file",
		Example: `  pacer generate config --output pacer.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteExample(configOutput); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated example config at %s\n", configOutput)
			return nil
		},
	}
	configCmd.Flags().StringVar(&configOutput, "output", "pacer.yaml", "output file path")

	cmd.AddCommand(traceCmd, configCmd)
	return cmd
}

const generatedBackoff = 30 * time.Second

func generateTrace(rng *rand.Rand, start time.Time, count int, dur time.Duration, pattern string, backoffs int) ([]limiter.Event, error) {
	var offsets []time.Duration
	switch pattern {
	case "steady":
		offsets = steadyOffsets(count, dur)
	case "burst":
		offsets = burstOffsets(rng, count, dur)
	case "ramp":
		offsets = rampOffsets(count, dur)
	default:
		return nil, fmt.Errorf("unknown pattern %q, must be one of: steady, burst, ramp", pattern)
	}

	events := make([]limiter.Event, 0, count+backoffs)
	for _, off := range offsets {
		events = append(events, limiter.Event{
			Time:    start.Add(off),
			Kind:    limiter.KindAcquire,
			Tokens:  1,
			Outcome: limiter.OutcomeGranted,
		})
	}
	for i := 1; i <= backoffs; i++ {
		events = append(events, limiter.Event{
			Time:    start.Add(dur * time.Duration(i) / time.Duration(backoffs+1)),
			Kind:    limiter.KindBackoff,
			Backoff: generatedBackoff,
		})
	}
	return events, nil
}

func steadyOffsets(count int, dur time.Duration) []time.Duration {
	interval := dur / time.Duration(count)
	out := make([]time.Duration, count)
	for i := range out {
		out[i] = time.Duration(i) * interval
	}
	return out
}

func burstOffsets(rng *rand.Rand, count int, dur time.Duration) []time.Duration {
	const numBursts = 4
	out := make([]time.Duration, 0, count)
	burstSize := count / numBursts
	burstGap := dur / numBursts

	for b := 0; b < numBursts; b++ {
		burstStart := time.Duration(b) * burstGap
		for i := 0; i < burstSize; i++ {
			// Acquisitions within a burst land in the same second.
			out = append(out, burstStart+time.Duration(rng.Intn(1000))*time.Millisecond)
		}
	}
	for len(out) < count {
		out = append(out, time.Duration(rng.Int63n(int64(dur))))
	}
	return out
}

// rampOffsets places acquisition i at (i/count)^2 of the span, so they
// crowd toward the end.
func rampOffsets(count int, dur time.Duration) []time.Duration {
	out := make([]time.Duration, count)
	for i := range out {
		frac := float64(i) / float64(count)
		out[i] = time.Duration(frac * frac * float64(dur))
	}
	return out
}
