package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"voice2action/internal/api"
	"voice2action/internal/durable"
	"voice2action/internal/tracker"
)

func newInstancesCommand(ctx *commandContext) *cobra.Command {
	instancesCmd := &cobra.Command{
		Use:   "instances",
		Short: "Inspect orchestration instances",
	}
	instancesCmd.AddCommand(newInstancesListCommand(ctx))
	instancesCmd.AddCommand(newInstancesShowCommand(ctx))
	return instancesCmd
}

func newInstancesListCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withTracker(cmd, func(runCtx context.Context, _ *tracker.Tracker, engine *durable.Engine) error {
				instances, err := engine.List(runCtx)
				if err != nil {
					return err
				}
				filter := strings.ToLower(strings.TrimSpace(statusFilter))
				if filter != "" {
					kept := instances[:0]
					for _, inst := range instances {
						if string(inst.Status) == filter {
							kept = append(kept, inst)
						}
					}
					instances = kept
				}
				view := api.FromInstances(instances)
				if jsonOutput {
					return writeJSON(cmd, view)
				}
				out := cmd.OutOrStdout()
				if len(view.Instances) == 0 {
					fmt.Fprintln(out, "No instances")
					return nil
				}
				rows := make([][]string, 0, len(view.Instances))
				for _, inst := range view.Instances {
					rows = append(rows, []string{inst.ID, inst.Name, inst.Status, inst.UpdatedAt, inst.FailedStage})
				}
				fmt.Fprintln(out, renderTable(leftColumns("ID", "Name", "Status", "Updated", "Failed stage"), rows))
				fmt.Fprintln(out, formatCounts(view.Counts))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&statusFilter, "status", "", "Only show instances with this status")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON")
	return cmd
}

func newInstancesShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one instance with its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withTracker(cmd, func(runCtx context.Context, _ *tracker.Tracker, engine *durable.Engine) error {
				inst, err := engine.Status(runCtx, args[0])
				if err != nil {
					return err
				}
				view := api.FromInstance(inst, true)
				if jsonOutput {
					return writeJSON(cmd, api.InstanceResponse{Instance: view})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "ID:      %s\n", view.ID)
				fmt.Fprintf(out, "Name:    %s\n", view.Name)
				fmt.Fprintf(out, "Status:  %s\n", view.Status)
				if view.ParentID != "" {
					fmt.Fprintf(out, "Parent:  %s\n", view.ParentID)
				}
				fmt.Fprintf(out, "Created: %s\n", view.CreatedAt)
				fmt.Fprintf(out, "Updated: %s\n", view.UpdatedAt)
				if view.Error != "" {
					fmt.Fprintf(out, "Error:   %s (stage %s)\n", view.Error, view.FailedStage)
				}
				for _, child := range view.Children {
					fmt.Fprintf(out, "Child:   %s\n", child)
				}
				if len(view.Output) > 0 {
					fmt.Fprintf(out, "Output:  %s\n", string(view.Output))
				}
				if len(view.Steps) == 0 {
					return nil
				}
				rows := make([][]string, 0, len(view.Steps))
				for _, step := range view.Steps {
					detail := step.ChildID
					if step.Error != "" {
						detail = step.ErrorKind + ": " + step.Error
					}
					rows = append(rows, []string{fmt.Sprint(step.Seq), step.Kind, step.Name, fmt.Sprint(step.Attempts), detail})
				}
				fmt.Fprintln(out, renderTable([]column{
					{Header: "#", Right: true},
					{Header: "Kind"},
					{Header: "Name"},
					{Header: "Attempts", Right: true},
					{Header: "Detail"},
				}, rows))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON")
	return cmd
}

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", key, counts[key]))
	}
	return "Counts: " + strings.Join(parts, " ")
}
