package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"voice2action/internal/api"
	"voice2action/internal/config"
	"voice2action/internal/credentials"
	"voice2action/internal/preflight"
)

func newAuthCommand(ctx *commandContext) *cobra.Command {
	authCmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the Graph credential",
	}
	authCmd.AddCommand(newAuthURLCommand(ctx))
	authCmd.AddCommand(newAuthRedeemCommand(ctx))
	authCmd.AddCommand(newAuthStatusCommand(ctx))
	return authCmd
}

func newAuthURLCommand(ctx *commandContext) *cobra.Command {
	var redirectURI string
	cmd := &cobra.Command{
		Use:   "url",
		Short: "Print the consent URL for the delegated grant",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCredentials(cmd, func(_ context.Context, _ *config.Config, manager *credentials.Manager) error {
				link, err := manager.AuthorizationURL(strings.TrimSpace(redirectURI), uuid.NewString())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), link)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&redirectURI, "redirect-uri", "", "Override graph.redirect_uri")
	return cmd
}

func newAuthRedeemCommand(ctx *commandContext) *cobra.Command {
	var redirectURI string
	cmd := &cobra.Command{
		Use:   "redeem <code>",
		Short: "Exchange an authorization code and persist the token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCredentials(cmd, func(runCtx context.Context, _ *config.Config, manager *credentials.Manager) error {
				if err := manager.RedeemAuthorizationCode(runCtx, strings.TrimSpace(args[0]), strings.TrimSpace(redirectURI)); err != nil {
					return err
				}
				status, err := manager.Describe(runCtx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Token stored")
				writeAuthStatus(cmd, status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&redirectURI, "redirect-uri", "", "Redirect URI used for consent (defaults to graph.redirect_uri)")
	return cmd
}

func newAuthStatusCommand(ctx *commandContext) *cobra.Command {
	var probe bool
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the persisted credential state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCredentials(cmd, func(runCtx context.Context, cfg *config.Config, manager *credentials.Manager) error {
				status, err := manager.Describe(runCtx)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, api.FromAuthStatus(status))
				}
				writeAuthStatus(cmd, status)
				if !probe {
					return nil
				}
				result := preflight.CheckGraphDrive(runCtx, cfg.Graph.BaseURL, manager)
				if !writeCheckResults(cmd.OutOrStdout(), "Probe", []preflight.Result{result}) {
					return fmt.Errorf("graph probe failed")
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&probe, "probe", false, "Also fetch a token and read the drive root")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON")
	return cmd
}

func writeAuthStatus(cmd *cobra.Command, status credentials.Status) {
	colorize := shouldColorize(cmd.OutOrStdout())
	out := cmd.OutOrStdout()
	if !status.Present {
		fmt.Fprintln(out, renderStatusLine("Token", statusWarn, "none stored", colorize))
		return
	}
	kind := statusOK
	if status.NeedsRefresh {
		kind = statusWarn
	}
	fmt.Fprintln(out, renderStatusLine("Token", kind, "present", colorize))
	view := api.FromAuthStatus(status)
	if view.ExpiresAt != "" {
		fmt.Fprintln(out, renderStatusLine("Expires", statusInfo, fmt.Sprintf("%s (%ds)", view.ExpiresAt, view.RemainingSeconds), colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Refresh token", statusInfo, yesNo(status.HasRefreshToken), colorize))
	fmt.Fprintln(out, renderStatusLine("Needs refresh", statusInfo, yesNo(status.NeedsRefresh), colorize))
}
