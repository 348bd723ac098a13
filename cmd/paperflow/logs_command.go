package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"paperflow/internal/logs"
)

const remoteFollowInterval = time.Second

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var task string
	var remote bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			runCtx := commandCtx(cmd)
			out := cmd.OutOrStdout()
			emit := func(line string) {
				if len(logs.Filter([]string{line}, task)) > 0 {
					fmt.Fprintln(out, line)
				}
			}

			if remote {
				client, err := ctx.daemonClient()
				if err != nil {
					return err
				}
				chunk, err := client.Logs(runCtx, -1, lines, task)
				if err != nil {
					return err
				}
				for _, line := range chunk.Lines {
					fmt.Fprintln(out, line)
				}
				for follow {
					select {
					case <-runCtx.Done():
						return nil
					case <-time.After(remoteFollowInterval):
					}
					chunk, err = client.Logs(runCtx, chunk.Offset, 0, task)
					if err != nil {
						return err
					}
					for _, line := range chunk.Lines {
						fmt.Fprintln(out, line)
					}
				}
				return nil
			}

			path := cfg.LogPath()
			chunk, err := logs.Last(path, lines)
			if err != nil {
				return err
			}
			for _, line := range chunk.Lines {
				emit(line)
			}
			if !follow {
				return nil
			}
			err = logs.Follow(runCtx, path, chunk.Offset, 0, emit)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines")
	cmd.Flags().StringVar(&task, "task", "", "Only lines mentioning this task id")
	cmd.Flags().BoolVar(&remote, "remote", false, "Read through the daemon API instead of the local file")
	return cmd
}
