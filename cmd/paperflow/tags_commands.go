package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"paperflow/internal/api"
	"paperflow/internal/tags"
)

func newTagsCommand(ctx *commandContext) *cobra.Command {
	tagsCmd := &cobra.Command{
		Use:   "tags",
		Short: "Manage the tag catalog",
	}
	tagsCmd.AddCommand(&cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tags with the tasks carrying them",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd, func(_ context.Context, svc *api.Services) error {
				usage, err := tags.List(svc.Store, svc.Config.Paths.OutputDir)
				if err != nil {
					return err
				}
				if handled, err := ctx.emit(cmd, usage); handled {
					return err
				}
				out := cmd.OutOrStdout()
				if len(usage) == 0 {
					fmt.Fprintln(out, "No tags")
					return nil
				}
				rows := make([][]string, 0, len(usage))
				for _, u := range usage {
					ids := make([]string, 0, len(u.Jobs))
					for _, ref := range u.Jobs {
						ids = append(ids, ref.JobID)
					}
					rows = append(rows, []string{u.Tag, strconv.Itoa(u.Count), ellipsis(strings.Join(ids, ", "), 60)})
				}
				fmt.Fprintln(out, renderTable([]string{"Tag", "Tasks", "Task IDs"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	})
	tagsCmd.AddCommand(newCatalogEditCommand(ctx, "add", "Add a tag to the catalog", (*tags.Catalog).Add))
	tagsCmd.AddCommand(newCatalogEditCommand(ctx, "remove", "Remove a tag from the catalog", (*tags.Catalog).Remove))
	return tagsCmd
}

func newCatalogEditCommand(ctx *commandContext, use, short string, edit func(*tags.Catalog, string) ([]string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <tag>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd, func(_ context.Context, svc *api.Services) error {
				next, err := edit(svc.Tags, args[0])
				if err != nil {
					return err
				}
				if handled, err := ctx.emit(cmd, api.TagsResponse{Tags: next}); handled {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Catalog: %s\n", joinTags(next))
				return nil
			})
		},
	}
}
