package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"voice2action/internal/api"
	"voice2action/internal/pipeline"
	"voice2action/internal/schedule"
)

func newTickCommand(ctx *commandContext) *cobra.Command {
	var messageID string

	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Deliver one schedule tick to the running daemon",
		Long: "Build a tick payload from the current configuration and post it to the daemon's\n" +
			"schedule route. Reusing --message-id redelivers the same tick, which the daemon\n" +
			"acknowledges as a duplicate.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			base, err := ctx.apiBase()
			if err != nil {
				return err
			}
			payload, err := schedule.EncodePayload(pipeline.RunConfigFromConfig(cfg))
			if err != nil {
				return err
			}
			id := strings.TrimSpace(messageID)
			if id == "" {
				id = uuid.NewString()
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, base+"/schedule-voice2action", bytes.NewReader(payload))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set(api.HeaderMessageID, id)
			if token := strings.TrimSpace(cfg.API.Token); token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}

			resp, err := ctx.httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("post tick: %w", err)
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return fmt.Errorf("read tick response: %w", err)
			}

			var tick api.TickResponse
			if err := json.Unmarshal(body, &tick); err != nil {
				return fmt.Errorf("daemon returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Message:  %s\n", tick.MessageID)
			fmt.Fprintf(out, "Outcome:  %s (%s)\n", tick.Outcome, tick.Status)
			if tick.InstanceID != "" {
				fmt.Fprintf(out, "Instance: %s\n", tick.InstanceID)
			}
			if tick.Status != api.DeliverySuccess {
				if tick.Error != "" {
					return fmt.Errorf("tick %s: %s", strings.ToLower(tick.Status), tick.Error)
				}
				return fmt.Errorf("tick %s", strings.ToLower(tick.Status))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&messageID, "message-id", "", "Message id to deliver (defaults to a new uuid)")
	return cmd
}
