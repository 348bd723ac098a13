package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"paperflow/internal/api"
	"paperflow/internal/draw"
	"paperflow/internal/services"
)

func newDrawCommand(ctx *commandContext) *cobra.Command {
	drawCmd := &cobra.Command{
		Use:   "draw",
		Short: "Generate and manage illustrations",
	}
	drawCmd.AddCommand(newDrawCreateCommand(ctx))
	drawCmd.AddCommand(newDrawListCommand(ctx))
	drawCmd.AddCommand(newDrawShowCommand(ctx))
	drawCmd.AddCommand(newDrawDeleteCommand(ctx))
	return drawCmd
}

func newDrawCreateCommand(ctx *commandContext) *cobra.Command {
	var req draw.Request
	cmd := &cobra.Command{
		Use:   "create <prompt>",
		Short: "Generate an image and wait for the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Prompt = strings.Join(args, " ")
			req.URLs = splitList(req.URLs)
			if !cmd.Flags().Changed("ai") {
				if cfg, err := ctx.ensureConfig(); err == nil {
					req.UseAI = cfg.Draw.UseAI
				}
			}
			return ctx.withServices(cmd, func(runCtx context.Context, svc *api.Services) error {
				id, err := svc.Draw.Create(runCtx, req)
				if err != nil {
					return err
				}
				svc.Runner.Wait()
				return ctx.printDrawing(cmd, svc, id)
			})
		},
	}
	cmd.Flags().StringVar(&req.PromptOverride, "prompt-override", "", "Send this prompt verbatim")
	cmd.Flags().StringVar(&req.Model, "model", "", "Image model")
	cmd.Flags().StringVar(&req.AspectRatio, "aspect", "", "Aspect ratio, for example 16:9")
	cmd.Flags().StringVar(&req.ImageSize, "size", "", "Image size: 1K, 2K, or 4K")
	cmd.Flags().StringSliceVar(&req.URLs, "ref", nil, "Reference image URLs")
	cmd.Flags().StringVar(&req.Host, "host", "", "Drawing service host override")
	cmd.Flags().BoolVar(&req.UseAI, "ai", false, "Polish the prompt with the language model first")
	return cmd
}

func (c *commandContext) printDrawing(cmd *cobra.Command, svc *api.Services, id string) error {
	rec, err := svc.Draw.Get(id)
	if err != nil {
		return err
	}
	if handled, err := c.emit(cmd, rec.Map()); handled {
		return err
	}
	out := cmd.OutOrStdout()
	request := rec.Object("request")
	prompt := rec.String("prompt_final", "")
	if prompt == "" {
		prompt = request.String("prompt", "")
	}
	pairs := [][2]string{
		{"Drawing", id},
		{"State", colorState(rec.String("state", ""), shouldColorize(out))},
		{"Progress", strconv.Itoa(rec.Int("progress", 0)) + "%"},
		{"Model", request.String("model", "")},
		{"Prompt", prompt},
	}
	if msg := rec.String("error", ""); msg != "" {
		pairs = append(pairs, [2]string{"Error", msg})
	}
	for i, file := range rec.Strings("files") {
		pairs = append(pairs, [2]string{fmt.Sprintf("File %d", i+1), file})
	}
	fmt.Fprintln(out, renderPairs(pairs))
	return nil
}

func newDrawListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List drawings, most recent first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd, func(_ context.Context, svc *api.Services) error {
				items, err := svc.Draw.List(limit)
				if err != nil {
					return err
				}
				if handled, err := ctx.emit(cmd, items); handled {
					return err
				}
				out := cmd.OutOrStdout()
				if len(items) == 0 {
					fmt.Fprintln(out, "No drawings")
					return nil
				}
				colorize := shouldColorize(out)
				rows := make([][]string, 0, len(items))
				for _, item := range items {
					rows = append(rows, []string{
						item.ID,
						colorState(item.State, colorize),
						strconv.Itoa(item.Progress) + "%",
						item.Model,
						ellipsis(item.Prompt, 40),
						strconv.Itoa(len(item.Files)),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "State", "Progress", "Model", "Prompt", "Files"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of drawings")
	return cmd
}

func newDrawShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <drawing-id>",
		Short: "Show one drawing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd, func(_ context.Context, svc *api.Services) error {
				return ctx.printDrawing(cmd, svc, args[0])
			})
		},
	}
}

func newDrawDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <drawing-id>",
		Aliases: []string{"rm"},
		Short:   "Delete a drawing and its files",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd, func(_ context.Context, svc *api.Services) error {
				deleted, err := svc.Draw.Delete(args[0])
				if err != nil {
					return err
				}
				if !deleted {
					return services.Wrap(services.ErrNotFound, "cli", "draw delete", "Drawing not found: "+args[0], nil)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	}
}
