package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"paperflow/internal/api"
	"paperflow/internal/relationship"
)

func newGraphCommand(ctx *commandContext) *cobra.Command {
	graphCmd := &cobra.Command{
		Use:   "graph",
		Short: "Build and inspect the cross-paper relationship graph",
	}
	graphCmd.AddCommand(newGraphBuildCommand(ctx))
	graphCmd.AddCommand(newGraphShowCommand(ctx))
	return graphCmd
}

func newGraphBuildCommand(ctx *commandContext) *cobra.Command {
	var maxPapers int
	var force bool
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Relate the analyzed papers and store the graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd, func(runCtx context.Context, svc *api.Services) error {
				limit := maxPapers
				if limit <= 0 {
					limit = svc.Config.Relationship.MaxPapers
				}
				if _, err := svc.Relationship.Start(runCtx, limit, force); err != nil {
					return err
				}
				svc.Runner.Wait()
				status := svc.Relationship.Status()
				if status.String("state", "") == relationship.StateFailed {
					return fmt.Errorf("relationship graph build failed: %s", status.String("error", "unknown error"))
				}
				return ctx.printGraph(cmd, svc)
			})
		},
	}
	cmd.Flags().IntVar(&maxPapers, "max-papers", 0, "Maximum number of papers to relate")
	cmd.Flags().BoolVar(&force, "force", false, "Start even if a build is recorded as running")
	return cmd
}

func newGraphShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the last built graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd, func(_ context.Context, svc *api.Services) error {
				return ctx.printGraph(cmd, svc)
			})
		},
	}
}

func (c *commandContext) printGraph(cmd *cobra.Command, svc *api.Services) error {
	graph, ok, err := svc.Relationship.Graph()
	if err != nil {
		return err
	}
	payload := map[string]any{"status": svc.Relationship.Status().Map()}
	if ok {
		payload["graph"] = graph
	}
	if handled, err := c.emit(cmd, payload); handled {
		return err
	}
	out := cmd.OutOrStdout()
	if !ok {
		fmt.Fprintln(out, "No relationship graph yet; run `paperflow graph build`")
		return nil
	}
	fmt.Fprintf(out, "%d papers, %d relations, %d clusters (generated %s)\n",
		len(graph.Nodes), len(graph.Edges), len(graph.Clusters), graph.GeneratedAt)

	titles := make(map[string]string, len(graph.Nodes))
	for _, node := range graph.Nodes {
		titles[node.ID] = node.Title
	}
	label := func(id string) string {
		if title := titles[id]; title != "" {
			return ellipsis(title, 32)
		}
		return id
	}
	if len(graph.Edges) > 0 {
		rows := make([][]string, 0, len(graph.Edges))
		for _, edge := range graph.Edges {
			rows = append(rows, []string{label(edge.Source), label(edge.Target), edge.Type, strconv.Itoa(edge.Weight), ellipsis(edge.Reason, 40)})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"Source", "Target", "Type", "Weight", "Reason"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
		))
	}
	if len(graph.Clusters) > 0 {
		rows := make([][]string, 0, len(graph.Clusters))
		for _, cluster := range graph.Clusters {
			rows = append(rows, []string{cluster.Name, strconv.Itoa(len(cluster.NodeIDs)), strings.Join(cluster.Keywords, ", ")})
		}
		fmt.Fprintln(out, renderTable([]string{"Cluster", "Papers", "Keywords"}, rows, []columnAlignment{alignLeft, alignRight}))
	}
	if notes := strings.TrimSpace(graph.Notes); notes != "" {
		fmt.Fprintln(out, notes)
	}
	return nil
}
