package main

import (
	"github.com/spf13/cobra"

	"paperflow/internal/daemonrun"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var opts daemonrun.Options
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"daemon"},
		Short:   "Run the daemon and its HTTP API in the foreground",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(commandCtx(cmd), cfg, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Bind, "bind", "", "Listen address (overrides paths.api_bind)")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "Log level (overrides logging.level)")
	cmd.Flags().BoolVar(&opts.Development, "dev", false, "Development logging with source locations")
	return cmd
}
