package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/pacer/internal/clock"
	"github.com/SmitUplenchwar2687/pacer/internal/config"
	"github.com/SmitUplenchwar2687/pacer/internal/limiter"
	"github.com/SmitUplenchwar2687/pacer/internal/quota"
)

func newSimulateCmd() *cobra.Command {
	var (
		configPath  string
		requests    int
		fastForward time.Duration
		backoff     time.Duration
		outputJSON  bool
		lo          limiterOptions
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a limiter scenario on a virtual clock",
		Long: `Runs acquisitions against a virtual clock, so behavior over hours or
days can be checked in seconds.

The simulation sends a batch of non-blocking acquisitions, optionally
applies a server backoff, fast-forwards the clock, then sends a second
batch to show how tokens and hard limits recover.`,
		Example: `  pacer simulate --requests 20 --capacity 10 --refill-rate 1
  pacer simulate --limit per-minute:5:minute --requests 8 --fast-forward 1m
  pacer simulate --backoff 30s --fast-forward 45s --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if requests <= 0 {
				return fmt.Errorf("--requests must be positive, got %d", requests)
			}
			if configPath != "" {
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				lo.applyConfigIfUnset(cmd, cfg.Limiter)
			}

			vc := clock.NewVirtualClock(time.Now().Truncate(time.Second))
			lim, err := lo.build(vc)
			if err != nil {
				return err
			}

			result := runSimulation(vc, lim, requests, backoff, fastForward)

			if outputJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}

			printSimulation(cmd.OutOrStdout(), &result)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
	cmd.Flags().IntVar(&requests, "requests", 15, "number of acquisitions per batch")
	cmd.Flags().DurationVar(&fastForward, "fast-forward", 0, "time to fast-forward between batches")
	cmd.Flags().DurationVar(&backoff, "backoff", 0, "server backoff applied after the first batch")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output results as JSON")
	lo.addFlags(cmd)

	return cmd
}

// SimulationResult captures the full output of a simulation.
type SimulationResult struct {
	Capacity    int                     `json:"capacity"`
	RefillRate  float64                 `json:"refill_rate"`
	Backoff     string                  `json:"backoff,omitempty"`
	FastForward string                  `json:"fast_forward,omitempty"`
	Batches     []BatchResult           `json:"batches"`
	Summary     SimulationSummary       `json:"summary"`
	HardLimits  map[string]quota.Status `json:"hard_limits,omitempty"`
}

// BatchResult captures one batch of acquisitions.
type BatchResult struct {
	Label     string     `json:"label"`
	Time      string     `json:"time"`
	Decisions []Decision `json:"decisions"`
}

// Decision is the outcome of one acquisition.
type Decision struct {
	Outcome   limiter.Outcome `json:"outcome"`
	Limit     string          `json:"limit,omitempty"`
	Available int             `json:"available"`
	RetryIn   time.Duration   `json:"retry_in,omitempty"`
}

// SimulationSummary counts outcomes across all batches.
type SimulationSummary struct {
	Total       int `json:"total"`
	Granted     int `json:"granted"`
	Exhausted   int `json:"exhausted"`
	HardLimited int `json:"hard_limited"`
}

func runSimulation(vc *clock.VirtualClock, lim *limiter.RateLimiter, requests int, backoff, fastForward time.Duration) SimulationResult {
	result := SimulationResult{
		Capacity:   lim.Capacity(),
		RefillRate: lim.RefillRate(),
	}

	result.Batches = append(result.Batches, runBatch(vc, lim, "Initial requests", requests, &result.Summary))

	if backoff > 0 {
		lim.BackoffFor(backoff)
		result.Backoff = backoff.String()
	}

	if fastForward > 0 {
		vc.Advance(fastForward)
		result.FastForward = fastForward.String()
		label := fmt.Sprintf("After fast-forward %s", fastForward)
		result.Batches = append(result.Batches, runBatch(vc, lim, label, requests, &result.Summary))
	}

	result.HardLimits = lim.HardLimitStatus()
	return result
}

func runBatch(vc *clock.VirtualClock, lim *limiter.RateLimiter, label string, requests int, sum *SimulationSummary) BatchResult {
	batch := BatchResult{
		Label: label,
		Time:  vc.Now().Format(time.RFC3339),
	}
	for i := 0; i < requests; i++ {
		var d Decision
		ok, err := lim.TryAcquire(1)
		switch {
		case err != nil:
			d.Outcome = limiter.OutcomeHardLimit
			if e, isLimit := quota.AsExceeded(err); isLimit {
				d.Limit = e.Name
				d.RetryIn = e.ResetIn
			}
			sum.HardLimited++
		case ok:
			d.Outcome = limiter.OutcomeGranted
			sum.Granted++
		default:
			d.Outcome = limiter.OutcomeExhausted
			d.RetryIn = lim.TimeUntilAvailable(1)
			sum.Exhausted++
		}
		d.Available = lim.AvailableTokens()
		sum.Total++
		batch.Decisions = append(batch.Decisions, d)
	}
	return batch
}

func printSimulation(w io.Writer, r *SimulationResult) {
	fmt.Fprintln(w, "=== Pacer Simulation ===")
	fmt.Fprintf(w, "capacity=%d refill_rate=%g/s\n\n", r.Capacity, r.RefillRate)

	for _, batch := range r.Batches {
		fmt.Fprintf(w, "--- %s (at %s) ---\n", batch.Label, batch.Time)
		for i, d := range batch.Decisions {
			line := fmt.Sprintf("  #%03d [%-10s] available=%d", i+1, strings.ToUpper(string(d.Outcome)), d.Available)
			if d.Limit != "" {
				line += " limit=" + d.Limit
			}
			if d.RetryIn > 0 {
				line += " retry_in=" + d.RetryIn.String()
			}
			fmt.Fprintln(w, line)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "--- Summary ---")
	fmt.Fprintf(w, "  %d total, %d granted, %d exhausted, %d hard limited\n",
		r.Summary.Total, r.Summary.Granted, r.Summary.Exhausted, r.Summary.HardLimited)
	if r.Backoff != "" {
		fmt.Fprintf(w, "  Backoff applied: %s\n", r.Backoff)
	}
	if r.FastForward != "" {
		fmt.Fprintf(w, "  Fast-forwarded:  %s\n", r.FastForward)
	}
	for name, st := range r.HardLimits {
		fmt.Fprintf(w, "  limit %s: %d/%d this %s, resets in %s\n", name, st.Current, st.Max, st.Period, st.ResetIn)
	}
}
