package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateInbox(); err != nil {
		return err
	}
	if err := c.validateGraph(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validatePublish(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateInbox() error {
	switch c.Inbox.Mode {
	case ModeLocal:
		if strings.TrimSpace(c.Inbox.LocalFolder) == "" {
			return errors.New("inbox.local_folder must be set when inbox.mode is local (or set LOCAL_VOICE_INBOX)")
		}
		if strings.TrimSpace(c.Inbox.LocalArchiveFolder) == "" {
			return errors.New("inbox.local_archive_folder must be set when inbox.mode is local (or set LOCAL_VOICE_ARCHIVE)")
		}
	case ModeRemote:
		if c.Inbox.RemoteFolder == "" {
			return errors.New("inbox.remote_folder must be set when inbox.mode is remote (or set ONEDRIVE_VOICE_INBOX)")
		}
		if c.Inbox.RemoteArchiveFolder == "" {
			return errors.New("inbox.remote_archive_folder must be set when inbox.mode is remote (or set ONEDRIVE_VOICE_ARCHIVE)")
		}
	default:
		return fmt.Errorf("inbox.mode: unsupported value %q (expected %q or %q)", c.Inbox.Mode, ModeRemote, ModeLocal)
	}
	return nil
}

func (c *Config) validateGraph() error {
	switch c.Graph.Grant {
	case GrantDelegated:
	case GrantClientCredentials:
		if c.Offline() {
			return nil
		}
		if c.Graph.ClientID == "" {
			return errors.New("graph.client_id must be set for the client_credentials grant (or set MS_GRAPH_CLIENT_ID)")
		}
		if c.Graph.ClientSecret == "" {
			return errors.New("graph.client_secret must be set for the client_credentials grant (or set MS_GRAPH_CLIENT_SECRET)")
		}
	default:
		return fmt.Errorf("graph.grant: unsupported value %q (expected %q or %q)", c.Graph.Grant, GrantDelegated, GrantClientCredentials)
	}
	if c.Graph.RefreshMarginSeconds < 0 {
		return errors.New("graph.refresh_margin_seconds must be >= 0")
	}
	if c.Graph.RequestTimeout <= 0 {
		return errors.New("graph.request_timeout must be positive (seconds)")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"schedule.poll_interval":           c.Schedule.PollInterval,
		"workflow.workers":                 c.Workflow.Workers,
		"workflow.step_max_attempts":       c.Workflow.StepMaxAttempts,
		"workflow.step_initial_backoff_ms": c.Workflow.StepInitialBackoffMS,
		"workflow.step_max_backoff_ms":     c.Workflow.StepMaxBackoffMS,
		"transcription.timeout_seconds":    c.Transcription.TimeoutSeconds,
	}); err != nil {
		return err
	}
	if c.Workflow.StepMaxBackoffMS < c.Workflow.StepInitialBackoffMS {
		return errors.New("workflow.step_max_backoff_ms must be >= workflow.step_initial_backoff_ms")
	}
	if c.Schedule.DedupRetentionHours < 0 {
		return errors.New("schedule.dedup_retention_hours must be >= 0")
	}
	return nil
}

func (c *Config) validatePublish() error {
	if strings.TrimSpace(c.Publish.WebhookURL) == "" {
		return nil
	}
	return ensurePositiveMap(map[string]int{
		"publish.relay_interval":  c.Publish.RelayInterval,
		"publish.timeout_seconds": c.Publish.TimeoutSeconds,
		"publish.max_attempts":    c.Publish.MaxAttempts,
	})
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
