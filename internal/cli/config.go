package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vnykmshr/goquota/internal/config"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or check configuration files",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "init PATH",
			Short: "Write an example config file",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := config.WriteExample(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Load and validate the configuration without connecting",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load(opts.configPath)
				if err != nil {
					return err
				}
				if _, err := cfg.AllRules(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ok: %d rule sets, %d scheduled resets\n",
					len(cfg.Rules), len(cfg.Maintenance.Resets))
				return nil
			},
		},
	)

	return cmd
}
