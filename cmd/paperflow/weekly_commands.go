package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"paperflow/internal/api"
	"paperflow/internal/jobs"
	"paperflow/internal/weekly"
)

func newWeeklyCommand(ctx *commandContext) *cobra.Command {
	weeklyCmd := &cobra.Command{
		Use:   "weekly",
		Short: "Write and read weekly research reports",
	}
	weeklyCmd.AddCommand(newWeeklyCreateCommand(ctx))
	weeklyCmd.AddCommand(newWeeklyListCommand(ctx))
	weeklyCmd.AddCommand(newWeeklyShowCommand(ctx))
	return weeklyCmd
}

func newWeeklyCreateCommand(ctx *commandContext) *cobra.Command {
	var req weekly.Request
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Write a report covering a date range",
		Long: "Write a Markdown report for the papers read between --start and --end.\n" +
			"Without --task every analyzed task dated in the range is included.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req.TaskIDs = splitList(req.TaskIDs)
			return ctx.withServices(cmd, func(runCtx context.Context, svc *api.Services) error {
				if len(req.TaskIDs) == 0 {
					ids, err := analyzedInRange(svc, req.StartDate, req.EndDate)
					if err != nil {
						return err
					}
					req.TaskIDs = ids
				}
				report, err := svc.Weekly.Create(runCtx, req)
				if err != nil {
					return err
				}
				if handled, err := ctx.emit(cmd, report.Meta); handled {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Wrote report %s (%d papers)\n", report.Meta.ReportID, len(report.Meta.TaskIDs))
				fmt.Fprintln(out, report.Meta.MarkdownPath)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.StartDate, "start", "", "First day covered (YYYY-MM-DD)")
	cmd.Flags().StringVar(&req.EndDate, "end", "", "Last day covered (YYYY-MM-DD)")
	cmd.Flags().StringSliceVar(&req.TaskIDs, "task", nil, "Task ids to include (comma separated or repeated)")
	cmd.Flags().StringVar(&req.ExtraWork, "extra", "", "Other work done this week")
	cmd.Flags().StringVar(&req.Problems, "problems", "", "Problems encountered")
	cmd.Flags().StringVar(&req.NextPlan, "next", "", "Plan for next week")
	cmd.Flags().BoolVar(&req.UseAI, "ai", false, "Polish the report with the language model")
	return cmd
}

func newWeeklyListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List reports, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd, func(_ context.Context, svc *api.Services) error {
				items, err := svc.Weekly.List()
				if err != nil {
					return err
				}
				if handled, err := ctx.emit(cmd, items); handled {
					return err
				}
				out := cmd.OutOrStdout()
				if len(items) == 0 {
					fmt.Fprintln(out, "No reports")
					return nil
				}
				rows := make([][]string, 0, len(items))
				for _, item := range items {
					rows = append(rows, []string{item.ReportID, item.StartDate, item.EndDate, item.CreatedAt, yesNo(item.UseAI)})
				}
				fmt.Fprintln(out, renderTable([]string{"Report", "Start", "End", "Created", "AI"}, rows, nil))
				return nil
			})
		},
	}
}

func newWeeklyShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <report-id>",
		Short: "Print a report's Markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd, func(_ context.Context, svc *api.Services) error {
				report, err := svc.Weekly.Get(args[0])
				if err != nil {
					return err
				}
				if handled, err := ctx.emit(cmd, map[string]any{"meta": report.Meta, "markdown": report.Markdown}); handled {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), report.Markdown)
				return nil
			})
		},
	}
}

// analyzedInRange returns the analyzed tasks dated within [start, end].
// Unparseable dates are left for the report service to reject.
func analyzedInRange(svc *api.Services, start, end string) ([]string, error) {
	from, err := time.Parse(time.DateOnly, strings.TrimSpace(start))
	if err != nil {
		return nil, nil
	}
	to, err := time.Parse(time.DateOnly, strings.TrimSpace(end))
	if err != nil {
		return nil, nil
	}
	summaries, err := jobs.ListTasks(svc.Store, svc.Config.Paths.OutputDir, jobs.Filter{Start: from, End: to})
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, summary := range summaries {
		if summary.HasAnalysis {
			ids = append(ids, summary.ID)
		}
	}
	return ids, nil
}
