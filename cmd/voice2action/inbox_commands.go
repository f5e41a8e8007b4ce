package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"voice2action/internal/api"
	"voice2action/internal/durable"
	"voice2action/internal/pipeline"
	"voice2action/internal/tracker"
)

func newInboxCommand(ctx *commandContext) *cobra.Command {
	inboxCmd := &cobra.Command{
		Use:   "inbox",
		Short: "Inspect and repair inbox file markers",
	}
	inboxCmd.AddCommand(newInboxStatusCommand(ctx))
	inboxCmd.AddCommand(newInboxResetCommand(ctx))
	return inboxCmd
}

func newInboxStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "List tracked inbox files",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withTracker(cmd, func(runCtx context.Context, t *tracker.Tracker, _ *durable.Engine) error {
				states, err := t.List(runCtx)
				if err != nil {
					return err
				}
				view := api.FromFileStates(states)
				if jsonOutput {
					return writeJSON(cmd, view)
				}
				if len(view.Files) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No tracked files")
					return nil
				}
				rows := make([][]string, 0, len(view.Files))
				for _, f := range view.Files {
					rows = append(rows, []string{f.FileID, f.State, f.PendingAt, f.DownloadedAt})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(leftColumns("File", "State", "Pending", "Downloaded"), rows))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON")
	return cmd
}

func newInboxResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <file_id>",
		Short: "Clear a file's markers so the next poll picks it up again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fileID := args[0]
			return ctx.withTracker(cmd, func(runCtx context.Context, t *tracker.Tracker, engine *durable.Engine) error {
				if err := engine.Forget(runCtx, pipeline.FileInstanceID(fileID)); err != nil {
					return fmt.Errorf("forget file instance: %w", err)
				}
				removed, err := t.Reset(runCtx, fileID)
				if err != nil {
					return err
				}
				if !removed {
					fmt.Fprintf(cmd.OutOrStdout(), "%s had no markers\n", fileID)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset %s\n", fileID)
				return nil
			})
		},
	}
}
