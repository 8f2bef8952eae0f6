package cli

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/vnykmshr/goquota/internal/loadtest"
)

func newBenchCmd(opts *rootOptions) *cobra.Command {
	var (
		limit      limitFlags
		requests   int
		workers    int
		keys       []string
		count      int64
		timeout    time.Duration
		reset      bool
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Fire concurrent checks at the shared store and summarize them",
		Long: `Runs --requests checks from --workers concurrent workers, spreading them
round-robin over --keys, and reports admissions, denials, errors and
round-trip latency. Quota consumed by the run stays in the store unless
--reset is given.`,
		Example: `  goquota bench --requests 1000 --workers 16 --window 1m --max 100
  goquota bench --algorithm token_bucket --capacity 50 --rate 10 --keys a,b,c --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := limit.params()
			if err != nil {
				return err
			}

			e, err := openEnv(cmd, opts, false)
			if err != nil {
				return err
			}
			defer e.Close()

			rep, err := loadtest.Run(cmd.Context(), e.limiter, loadtest.Config{
				Workers:     workers,
				Requests:    requests,
				Keys:        keys,
				Params:      p,
				Count:       count,
				TaskTimeout: timeout,
			})
			if err != nil {
				return err
			}

			if reset {
				for key := range rep.Keys {
					if _, err := e.limiter.ResetLimit(cmd.Context(), key); err != nil {
						return err
					}
				}
			}

			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), rep)
			}
			printReport(cmd.OutOrStdout(), rep)
			return nil
		},
	}

	limit.register(cmd)
	cmd.Flags().IntVar(&requests, "requests", 100, "total checks to issue")
	cmd.Flags().IntVar(&workers, "workers", 8, "concurrent workers")
	cmd.Flags().StringSliceVar(&keys, "keys", []string{"bench"}, "comma-separated keys, used round-robin")
	cmd.Flags().Int64VarP(&count, "count", "n", 1, "units each check consumes")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-check timeout (0 uses the engine timeout)")
	cmd.Flags().BoolVar(&reset, "reset", false, "reset the keys after the run")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output the report as JSON")

	return cmd
}

func printReport(w io.Writer, r loadtest.Report) {
	fmt.Fprintln(w, "=== goquota bench ===")
	fmt.Fprintf(w, "requests:   %d in %s (%.0f/s)\n", r.Requests, r.Elapsed.Round(time.Millisecond), r.Throughput)
	fmt.Fprintf(w, "allowed:    %d\n", r.Allowed)
	fmt.Fprintf(w, "denied:     %d\n", r.Denied)
	if r.Degraded > 0 {
		fmt.Fprintf(w, "degraded:   %d\n", r.Degraded)
	}
	if r.Errors > 0 {
		fmt.Fprintf(w, "errors:     %d (first: %s)\n", r.Errors, r.FirstError)
	}
	fmt.Fprintf(w, "latency:    p50=%s p95=%s p99=%s max=%s\n", r.P50, r.P95, r.P99, r.Max)

	keys := make([]string, 0, len(r.Keys))
	for k := range r.Keys {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintln(w, "--- per key ---")
	for _, k := range keys {
		s := r.Keys[k]
		fmt.Fprintf(w, "  %s: %d total, %d allowed, %d denied, %d errors\n", k, s.Total, s.Allowed, s.Denied, s.Errors)
	}
}
