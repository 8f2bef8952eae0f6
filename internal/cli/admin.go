package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status KEY",
		Short: "Show the stored state for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, opts, false)
			if err != nil {
				return err
			}
			defer e.Close()

			status, err := e.limiter.GetLimitStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), status)
		},
	}
}

func newMetricsCmd(opts *rootOptions) *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "metrics KEY",
		Short: "Show request counters for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, opts, false)
			if err != nil {
				return err
			}
			defer e.Close()

			m, err := e.limiter.GetLimitMetrics(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), m)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "key:      %s\n", m.Key)
			fmt.Fprintf(w, "total:    %d\n", m.TotalRequests)
			fmt.Fprintf(w, "allowed:  %d\n", m.AllowedRequests)
			fmt.Fprintf(w, "denied:   %d (%.1f%%)\n", m.DeniedRequests, m.DenialRate()*100)
			if !m.LastRequest.IsZero() {
				fmt.Fprintf(w, "last:     %s\n", m.LastRequest.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	return cmd
}

func newResetCmd(opts *rootOptions) *cobra.Command {
	var set string

	cmd := &cobra.Command{
		Use:   "reset KEY",
		Short: "Delete all stored state for a key",
		Example: `  goquota reset user:42
  goquota reset sender:alice --set sender --config goquota.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, opts, false)
			if err != nil {
				return err
			}
			defer e.Close()

			var deleted int64
			if set != "" {
				rules, err := e.cfg.ToRules(set)
				if err != nil {
					return err
				}
				deleted, err = e.limiter.ResetRuleLimits(cmd.Context(), args[0], rules)
				if err != nil {
					return err
				}
			} else {
				deleted, err = e.limiter.ResetLimit(cmd.Context(), args[0])
				if err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: deleted %d keys\n", args[0], deleted)
			return nil
		},
	}

	cmd.Flags().StringVar(&set, "set", "", "reset the per-rule keys of this rule set instead")
	return cmd
}
