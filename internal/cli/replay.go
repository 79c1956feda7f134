package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/pacer/internal/clock"
	"github.com/SmitUplenchwar2687/pacer/internal/config"
	"github.com/SmitUplenchwar2687/pacer/internal/limiter"
	"github.com/SmitUplenchwar2687/pacer/internal/recorder"
	"github.com/SmitUplenchwar2687/pacer/internal/replay"
)

func newReplayCmd() *cobra.Command {
	var (
		file       string
		configPath string
		speed      float64
		kinds      []string
		outputJSON bool
		lo         limiterOptions
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay recorded limiter events through a fresh limiter",
		Long: `Replays events recorded by "pacer serve --record" through a new limiter
on a virtual clock, so a different capacity, refill rate or set of hard
limits can be checked against real traffic.

Events are replayed in start order and the clock advances by the gaps
between them. Blocking acquisitions are replayed without blocking; one the
bucket cannot serve is reported as exhausted with the wait it needed.

Speed: 0 = instant, 1 = real-time, 10 = 10x, 100 = 100x`,
		Example: `  pacer replay --file events.json
  pacer replay --file events.json --capacity 5 --limit daily:1000:day
  pacer replay --file events.json --kind acquire --speed 100
  pacer replay --file events.json --config pacer.yaml --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			if configPath != "" {
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				lo.applyConfigIfUnset(cmd, cfg.Limiter)
			}

			filter := replay.Filter{}
			for _, k := range kinds {
				kind := limiter.Kind(strings.TrimSpace(k))
				switch kind {
				case limiter.KindAcquire, limiter.KindTryAcquire, limiter.KindBackoff:
					filter.Kinds = append(filter.Kinds, kind)
				default:
					return fmt.Errorf("unknown --kind %q, must be one of: acquire, try_acquire, backoff", k)
				}
			}

			records, err := recorder.LoadFile(file)
			if err != nil {
				return err
			}

			start := replay.Earliest(records)
			if start.IsZero() {
				start = time.Now().Truncate(time.Second)
			}
			vc := clock.NewVirtualClock(start)
			lim, err := lo.build(vc)
			if err != nil {
				return err
			}

			r := replay.New(lim, vc, speed, filter)
			r.LoadRecords(records)

			out := cmd.OutOrStdout()
			if !outputJSON {
				fmt.Fprintf(out, "Replaying %s at %gx speed...\n\n", file, speed)
			}

			var results []replay.Result
			summary, err := r.Run(cmd.Context(), func(res replay.Result) {
				if outputJSON {
					results = append(results, res)
					return
				}
				mark := " "
				if !res.Matched {
					mark = "*"
				}
				detail := ""
				switch {
				case res.Record.Kind == limiter.KindBackoff:
					detail = "backoff " + res.Record.Backoff.String()
				case res.Limit != "":
					detail = "limit " + res.Limit
				case res.Wait > 0:
					detail = "wait " + res.Wait.String()
				}
				fmt.Fprintf(out, " %s[%-10s] %s %-11s tokens=%d %s\n",
					mark,
					strings.ToUpper(string(res.Outcome)),
					res.Time.Format("15:04:05"),
					res.Record.Kind,
					res.Record.Tokens,
					detail)
			})
			if err != nil {
				return err
			}

			if outputJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"results": results,
					"summary": summary,
				})
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, "--- Replay Summary ---")
			fmt.Fprintf(out, "  Total records:  %d\n", summary.TotalRecords)
			fmt.Fprintf(out, "  Filtered:       %d\n", summary.Filtered)
			fmt.Fprintf(out, "  Replayed:       %d\n", summary.Replayed)
			fmt.Fprintf(out, "  Granted:        %d\n", summary.Granted)
			fmt.Fprintf(out, "  Exhausted:      %d (total wait %s)\n", summary.Exhausted, summary.TotalWait)
			fmt.Fprintf(out, "  Hard limited:   %d\n", summary.HardLimited)
			fmt.Fprintf(out, "  Backoffs:       %d\n", summary.Backoffs)
			fmt.Fprintf(out, "  Matched:        %d/%d\n", summary.Matched, summary.Replayed)
			fmt.Fprintf(out, "  Virtual time:   %s\n", summary.Duration)
			fmt.Fprintf(out, "  Wall time:      %s\n", summary.WallDuration.Round(time.Millisecond))

			for name, n := range summary.PerLimit {
				fmt.Fprintf(out, "    limit %s: %d rejected\n", name, n)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "path to recorded events JSON file (required)")
	cmd.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
	cmd.Flags().Float64Var(&speed, "speed", 0, "replay speed (0=instant, 1=real-time, 10=10x)")
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "only replay these event kinds (acquire, try_acquire, backoff)")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output results as JSON")
	lo.addFlags(cmd)

	return cmd
}
