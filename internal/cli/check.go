package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	gqerrors "github.com/vnykmshr/goquota/pkg/common/errors"
	"github.com/vnykmshr/goquota/pkg/ratelimit/model"
)

// limitFlags are the algorithm parameters shared by check and bench.
type limitFlags struct {
	algorithm     string
	window        time.Duration
	maxRequests   int64
	capacity      int64
	rate          float64
	instance      string
	instanceCount int
	instanceLimit int64
}

func (f *limitFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.algorithm, "algorithm", string(model.SlidingWindow), "algorithm ("+algorithmNames()+")")
	cmd.Flags().DurationVar(&f.window, "window", time.Minute, "window size (window algorithms)")
	cmd.Flags().Int64Var(&f.maxRequests, "max", 0, "requests allowed per window (window algorithms)")
	cmd.Flags().Int64Var(&f.capacity, "capacity", 0, "bucket capacity (bucket algorithms)")
	cmd.Flags().Float64Var(&f.rate, "rate", 0, "refill or leak rate per second (bucket algorithms)")
	cmd.Flags().StringVar(&f.instance, "instance", "", "instance id (distributed; defaults to this process)")
	cmd.Flags().IntVar(&f.instanceCount, "instance-count", 0, "instances sharing the quota (distributed)")
	cmd.Flags().Int64Var(&f.instanceLimit, "instance-limit", 0, "explicit per-instance cap (distributed)")
}

func (f *limitFlags) params() (model.Params, error) {
	alg, err := model.ParseAlgorithm(f.algorithm)
	if err != nil {
		return model.Params{}, err
	}
	return model.Params{
		Algorithm:     alg,
		WindowSize:    f.window,
		MaxRequests:   f.maxRequests,
		Capacity:      f.capacity,
		Rate:          f.rate,
		InstanceCount: f.instanceCount,
		InstanceLimit: f.instanceLimit,
		InstanceID:    f.instance,
	}, nil
}

func newCheckCmd(opts *rootOptions) *cobra.Command {
	var (
		limit      limitFlags
		count      int64
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "check KEY",
		Short: "Evaluate one rate limit for a key",
		Long: `Evaluates a single algorithm for KEY and consumes quota on admission.
The command exits non-zero when the request is denied.`,
		Example: `  goquota check user:42 --window 1m --max 100
  goquota check user:42 --algorithm token_bucket --capacity 10 --rate 2
  goquota check api --algorithm distributed_sliding_window --window 1m --max 1000 --instance-count 4`,
		Args: cobra.ExactArgs(1),
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

			res, err := e.limiter.Evaluate(cmd.Context(), args[0], p, count)
			if err != nil {
				return err
			}
			return report(cmd.OutOrStdout(), res, outputJSON)
		},
	}

	limit.register(cmd)
	cmd.Flags().Int64VarP(&count, "count", "n", 1, "units to consume")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output the result as JSON")

	return cmd
}

func newRulesCmd(opts *rootOptions) *cobra.Command {
	var (
		set        string
		count      int64
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "rules [KEY]",
		Short: "Evaluate a configured rule set, or list rule sets",
		Example: `  goquota rules --config goquota.json
  goquota rules sender:alice --set sender --config goquota.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, opts, false)
			if err != nil {
				return err
			}
			defer e.Close()

			if len(args) == 0 {
				return listRules(cmd.OutOrStdout(), e)
			}
			if set == "" {
				return fmt.Errorf("--set is required when a key is given")
			}
			rules, err := e.cfg.ToRules(set)
			if err != nil {
				return err
			}
			res, err := e.limiter.RuleBasedLimit(cmd.Context(), args[0], rules, count)
			if err != nil {
				return err
			}
			return report(cmd.OutOrStdout(), res, outputJSON)
		},
	}

	cmd.Flags().StringVar(&set, "set", "", "rule set name from the config file")
	cmd.Flags().Int64VarP(&count, "count", "n", 1, "units to consume")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output the result as JSON")

	return cmd
}

func listRules(w io.Writer, e *env) error {
	names := e.cfg.RuleSetNames()
	if len(names) == 0 {
		fmt.Fprintln(w, "no rule sets configured")
		return nil
	}
	for _, name := range names {
		rules, err := e.cfg.ToRules(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s:\n", name)
		for _, r := range rules {
			state := ""
			if !r.Enabled {
				state = " (disabled)"
			}
			fmt.Fprintf(w, "  %d %s %s%s\n", r.Priority, r.Name, r.Params, state)
		}
	}
	return nil
}

// report prints res and turns a rejection into an error so the exit code
// reflects the decision.
func report(w io.Writer, res model.Result, asJSON bool) error {
	if asJSON {
		if err := writeJSON(w, res); err != nil {
			return err
		}
	} else {
		printResult(w, res)
	}
	if !res.Allowed {
		return fmt.Errorf("%s: %w", res.Key, gqerrors.ErrRateLimited)
	}
	return nil
}

func printResult(w io.Writer, res model.Result) {
	switch {
	case res.IsUnlimited():
		fmt.Fprintf(w, "%s: allowed\n", res.Key)
		return
	case res.IsDegraded():
		fmt.Fprintf(w, "%s: allowed (degraded: %s)\n", res.Key, res.Reason)
		return
	}

	verdict := "allowed"
	if !res.Allowed {
		verdict = "denied"
	}
	fmt.Fprintf(w, "%s: %s remaining=%d limit=%d reset=%s", res.Key, verdict,
		res.RemainingQuota, res.Limit, res.ResetTime.UTC().Format(time.RFC3339))
	if !res.Allowed {
		fmt.Fprintf(w, " retry_after=%s reason=%q", res.RetryAfter, res.Reason)
	}
	fmt.Fprintln(w)
}

func algorithmNames() string {
	algs := model.Algorithms()
	names := make([]string, len(algs))
	for i, a := range algs {
		names[i] = string(a)
	}
	return strings.Join(names, ", ")
}
