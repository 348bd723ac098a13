package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"paperflow/internal/api"
	"paperflow/internal/services"
	"paperflow/internal/stage"
	"paperflow/internal/tags"
	"paperflow/internal/taskindex"
	"paperflow/internal/workflow"
)

func newTaskCommand(ctx *commandContext) *cobra.Command {
	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect and manage document tasks",
	}

	taskCmd.AddCommand(newTaskNewCommand(ctx))
	taskCmd.AddCommand(newTaskStageCommand(ctx, "extract", "Extract (or re-extract) a task's document", workflow.Plan{Extract: true}))
	taskCmd.AddCommand(newTaskStageCommand(ctx, "translate", "Translate a task's extracted Markdown", workflow.Plan{Translate: true}))
	taskCmd.AddCommand(newTaskStageCommand(ctx, "analyze", "Analyze a task's extracted Markdown", workflow.Plan{Analyze: true}))
	taskCmd.AddCommand(newTaskShowCommand(ctx))
	taskCmd.AddCommand(newTaskListCommand(ctx))
	taskCmd.AddCommand(newTaskMarkdownCommand(ctx))
	taskCmd.AddCommand(newTaskDeleteCommand(ctx))
	taskCmd.AddCommand(newTaskTagsCommand(ctx))
	taskCmd.AddCommand(newTaskReindexCommand(ctx))

	return taskCmd
}

func newTaskNewCommand(ctx *commandContext) *cobra.Command {
	var hint string
	var queue bool
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create an empty task directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.TaskRequest{Hint: hint}
			if queue {
				return ctx.queueTask(cmd, req)
			}
			return ctx.withServices(cmd, func(runCtx context.Context, svc *api.Services) error {
				task, err := svc.SubmitTask(runCtx, req)
				if err != nil {
					return err
				}
				return ctx.printQueued(cmd, api.TaskResponse{JobID: task.ID})
			})
		},
	}
	cmd.Flags().StringVar(&hint, "hint", "", "Name hint for the task directory")
	cmd.Flags().BoolVar(&queue, "queue", false, "Create the task through the running daemon")
	return cmd
}

func newTaskStageCommand(ctx *commandContext, action, short string, plan workflow.Plan) *cobra.Command {
	var source string
	var language string
	var maxChars int
	var force bool
	var queue bool

	cmd := &cobra.Command{
		Use:   action + " <task-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			if queue {
				client, err := ctx.daemonClient()
				if err != nil {
					return err
				}
				resp, err := client.RunStage(commandCtx(cmd), id, action, api.StageRequest{
					Source:         source,
					TargetLanguage: language,
					MaxChars:       maxChars,
					Force:          force,
				})
				if err != nil {
					return err
				}
				return ctx.printQueued(cmd, resp)
			}
			return ctx.withServices(cmd, func(runCtx context.Context, svc *api.Services) error {
				task, err := svc.Workflow.OpenTask(id)
				if err != nil {
					return err
				}
				src := strings.TrimSpace(source)
				if plan.Extract && src == "" {
					src = svc.Store.Read(task.StatePath).String("pdf", "")
				}
				req := stage.Request{Task: task, Source: src, TargetLanguage: language, MaxChars: maxChars}
				runErr := svc.Workflow.Run(runCtx, req, plan)
				if detail, err := svc.DescribeTask(task.ID); err == nil {
					if perr := ctx.printTaskDetail(cmd, detail); perr != nil {
						return perr
					}
				}
				return runErr
			})
		},
	}
	if plan.Extract {
		cmd.Flags().StringVar(&source, "source", "", "Document to extract (defaults to the task's recorded source)")
	}
	if plan.Translate {
		cmd.Flags().StringVar(&language, "lang", "", "Target language")
		cmd.Flags().BoolVar(&force, "force", false, "Queue even if a translation is already running (with --queue)")
	}
	if plan.Analyze {
		cmd.Flags().IntVar(&maxChars, "max-chars", 0, "Character budget for the analysis input")
	}
	cmd.Flags().BoolVar(&queue, "queue", false, "Queue the stage on the running daemon instead of running here")
	return cmd
}

func newTaskShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd, func(_ context.Context, svc *api.Services) error {
				detail, err := svc.DescribeTask(args[0])
				if err != nil {
					return err
				}
				return ctx.printTaskDetail(cmd, detail)
			})
		},
	}
}

func newTaskListCommand(ctx *commandContext) *cobra.Command {
	var filter taskindex.Filter
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd, func(runCtx context.Context, svc *api.Services) error {
				items, err := svc.ListTasks(runCtx, filter)
				if err != nil {
					return err
				}
				if handled, err := ctx.emit(cmd, api.TaskListResponse{Items: items}); handled {
					return err
				}
				out := cmd.OutOrStdout()
				if len(items) == 0 {
					fmt.Fprintln(out, "No tasks")
					return nil
				}
				colorize := shouldColorize(out)
				rows := make([][]string, 0, len(items))
				for _, item := range items {
					rows = append(rows, []string{
						item.ID,
						colorState(item.State, colorize),
						ellipsis(item.Title, 48),
						item.Year,
						joinTags(item.Tags),
						translationLabel(item),
						yesNo(item.HasAnalysis),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "State", "Title", "Year", "Tags", "Translation", "Analysis"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filter.State, "state", "", "Only tasks in this state")
	cmd.Flags().StringVar(&filter.Tag, "tag", "", "Only tasks carrying this tag")
	cmd.Flags().StringVarP(&filter.Query, "query", "q", "", "Match title, authors, or id")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 0, "Maximum number of tasks")
	return cmd
}

func newTaskMarkdownCommand(ctx *commandContext) *cobra.Command {
	var translated bool
	cmd := &cobra.Command{
		Use:   "markdown <task-id>",
		Short: "Print a task's extracted or translated Markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd, func(_ context.Context, svc *api.Services) error {
				task, err := svc.Workflow.OpenTask(args[0])
				if err != nil {
					return err
				}
				path := task.OriginalPath
				if translated {
					path = task.TranslatedPath
				}
				data, err := os.ReadFile(path)
				if err != nil {
					return services.Wrap(services.ErrNotFound, "cli", "markdown", "Markdown not available", err)
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&translated, "translated", false, "Print the translation instead of the original")
	return cmd
}

func newTaskDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <task-id>",
		Aliases: []string{"rm"},
		Short:   "Delete a task directory",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd, func(runCtx context.Context, svc *api.Services) error {
				if err := svc.DeleteTask(runCtx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", strings.TrimSpace(args[0]))
				return nil
			})
		},
	}
}

func newTaskTagsCommand(ctx *commandContext) *cobra.Command {
	var add, remove string
	var set []string
	var replace bool
	cmd := &cobra.Command{
		Use:   "tags <task-id>",
		Short: "Add, remove, or replace a task's tags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := tags.Patch{Add: add, Remove: remove}
			if replace || cmd.Flags().Changed("set") {
				patch = tags.Patch{Replace: true, Tags: splitList(set)}
			}
			return ctx.withServices(cmd, func(runCtx context.Context, svc *api.Services) error {
				next, err := svc.UpdateTaskTags(runCtx, args[0], patch)
				if err != nil {
					return err
				}
				if handled, err := ctx.emit(cmd, api.TagsResponse{Tags: next}); handled {
					return err
				}
				if len(next) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No tags")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), joinTags(next))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&add, "add", "", "Tag to add")
	cmd.Flags().StringVar(&remove, "remove", "", "Tag to remove")
	cmd.Flags().StringSliceVar(&set, "set", nil, "Replace all tags (comma separated)")
	cmd.Flags().BoolVar(&replace, "clear", false, "Remove every tag (combine with --set to replace)")
	return cmd
}

func newTaskReindexCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the task index from the output directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd, func(runCtx context.Context, svc *api.Services) error {
				count, err := svc.Reindex(runCtx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d tasks\n", count)
				return nil
			})
		},
	}
}

func joinTags(values []string) string {
	return strings.Join(values, ", ")
}
