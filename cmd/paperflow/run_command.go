package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"paperflow/internal/api"
	"paperflow/internal/jobs"
	"paperflow/internal/language"
	"paperflow/internal/workflow"
)

type pipelineFlags struct {
	hint      string
	translate bool
	analyze   bool
	language  string
	maxChars  int
	queue     bool
}

func (f *pipelineFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.hint, "hint", "", "Name hint for the task directory (defaults to the source file name)")
	cmd.Flags().BoolVar(&f.translate, "translate", false, "Translate the extracted Markdown")
	cmd.Flags().BoolVar(&f.analyze, "analyze", false, "Produce a structured analysis")
	cmd.Flags().StringVar(&f.language, "lang", "", "Target language for translation")
	cmd.Flags().IntVar(&f.maxChars, "max-chars", 0, "Character budget for the analysis input")
	cmd.Flags().BoolVar(&f.queue, "queue", false, "Queue the task on the running daemon instead of running here")
}

func (f *pipelineFlags) request(src string) api.TaskRequest {
	return api.TaskRequest{
		Source:         src,
		Hint:           f.hint,
		Translate:      f.translate,
		Analyze:        f.analyze,
		TargetLanguage: f.language,
		MaxChars:       f.maxChars,
	}
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var flags pipelineFlags
	cmd := &cobra.Command{
		Use:   "run <source>",
		Short: "Extract a document and run the follow-up stages",
		Long: "Run the pipeline for a local PDF, an http(s) URL, or a gs:// object.\n" +
			"Without --translate or --analyze the stages configured under [workflow] run.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := flags.request(args[0])
			if flags.queue {
				return ctx.queueTask(cmd, req)
			}
			return ctx.withServices(cmd, func(runCtx context.Context, svc *api.Services) error {
				task, err := svc.RunTask(runCtx, req)
				if task.ID != "" {
					if detail, derr := svc.DescribeTask(task.ID); derr == nil {
						if perr := ctx.printTaskDetail(cmd, detail); perr != nil {
							return perr
						}
					}
				}
				if err != nil {
					if stageName, ok := workflow.FailedStage(err); ok {
						return fmt.Errorf("%s stage failed for %s: %w", stageName, task.ID, err)
					}
					return err
				}
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func (c *commandContext) queueTask(cmd *cobra.Command, req api.TaskRequest) error {
	client, err := c.daemonClient()
	if err != nil {
		return err
	}
	resp, err := client.SubmitTask(commandCtx(cmd), req)
	if err != nil {
		return err
	}
	return c.printQueued(cmd, resp)
}

func (c *commandContext) printQueued(cmd *cobra.Command, resp api.TaskResponse) error {
	if handled, err := c.emit(cmd, resp); handled {
		return err
	}
	if resp.Queued {
		fmt.Fprintf(cmd.OutOrStdout(), "Queued %s\n", resp.JobID)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", resp.JobID)
	return nil
}

func (c *commandContext) printTaskDetail(cmd *cobra.Command, detail api.TaskDetail) error {
	if handled, err := c.emit(cmd, detail); handled {
		return err
	}
	out := cmd.OutOrStdout()
	summary := detail.Summary
	colorize := shouldColorize(out)
	pairs := [][2]string{
		{"Task", summary.ID},
		{"State", colorState(summary.State, colorize)},
	}
	if summary.Error != "" {
		pairs = append(pairs, [2]string{"Error", summary.Error})
	}
	pairs = append(pairs,
		[2]string{"Title", summary.Title},
		[2]string{"Authors", summary.Authors},
		[2]string{"Year", summary.Year},
		[2]string{"Tags", joinTags(summary.Tags)},
		[2]string{"Translation", translationLabel(summary)},
		[2]string{"Analysis", yesNo(summary.HasAnalysis)},
		[2]string{"Directory", detail.Paths.Dir},
	)
	if detail.Paths.Original != "" {
		pairs = append(pairs, [2]string{"Markdown", detail.Paths.Original})
	}
	if detail.Paths.Translated != "" {
		pairs = append(pairs, [2]string{"Translated", detail.Paths.Translated})
	}
	if detail.Paths.Analysis != "" {
		pairs = append(pairs, [2]string{"Analysis file", detail.Paths.Analysis})
	}
	fmt.Fprintln(out, renderPairs(pairs))
	return nil
}

func translationLabel(summary jobs.Summary) string {
	switch {
	case summary.TranslateState != "" && summary.TranslateLanguage != "":
		return summary.TranslateState + " (" + language.DisplayName(summary.TranslateLanguage) + ")"
	case summary.TranslateState != "":
		return summary.TranslateState
	case summary.HasTranslation:
		return "yes"
	default:
		return "no"
	}
}
