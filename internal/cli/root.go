// Package cli implements the goquota command.
package cli

import (
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

// NewRootCmd creates the root goquota command.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "goquota",
		Short: "Distributed rate limiting backed by Redis",
		Long: `goquota evaluates rate limits against a shared Redis so that every
instance of a service enforces the same quota.

Configuration is read from the --config JSON file, then from GOQUOTA_*
environment variables.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a JSON config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(
		newCheckCmd(opts),
		newRulesCmd(opts),
		newStatusCmd(opts),
		newMetricsCmd(opts),
		newResetCmd(opts),
		newBenchCmd(opts),
		newServeCmd(opts),
		newConfigCmd(opts),
	)

	return root
}
