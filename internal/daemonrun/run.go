// Package daemonrun hosts the daemon process runtime: logger setup, pid file,
// state store, preflight, and signal-driven shutdown.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"voice2action/internal/config"
	"voice2action/internal/daemon"
	"voice2action/internal/logging"
	"voice2action/internal/preflight"
	"voice2action/internal/statestore"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel      string
	Development   bool
	SkipPreflight bool
}

// Run starts the voice2action daemon and blocks until a signal arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("voice2action-%s.log", runID))
	level := cfg.Logging.Level
	if strings.TrimSpace(opts.LogLevel) != "" {
		level = opts.LogLevel
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update voice2action.log link: %v\n", err)
	}
	logConfigSnapshot(logger, cfg)

	pidPath := filepath.Join(cfg.Paths.StateDir, "voice2action.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := statestore.Open(signalCtx, cfg.State.DSN)
	if err != nil {
		logging.ErrorWithContext(logger, "open state store", "state_store_open_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check state.dsn"),
		)
		return err
	}

	d, err := daemon.New(cfg, store, logger)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if !opts.SkipPreflight {
		var creds preflight.CredentialDescriber
		if m := d.Credentials(); m != nil {
			creds = m
		}
		if failed := preflight.Failed(preflight.RunAll(signalCtx, cfg, creds)); len(failed) > 0 {
			for _, r := range failed {
				logging.ErrorWithContext(logger, "preflight check failed", "preflight_failed",
					logging.String("check", r.Name),
					logging.String("detail", r.Detail),
				)
			}
			return fmt.Errorf("%d preflight check(s) failed; see log for details", len(failed))
		}
	}

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check configuration and state store access"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("voice2action daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

// ensureCurrentLogPointer points voice2action.log at the current run's file.
func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "voice2action.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

// ReadPID returns the pid recorded by a running daemon.
func ReadPID(cfg *config.Config) (int, error) {
	data, err := os.ReadFile(filepath.Join(cfg.Paths.StateDir, "voice2action.pid"))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	scheme, _, _ := strings.Cut(cfg.State.DSN, "://")
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.String("inbox_mode", cfg.Inbox.Mode),
		logging.String("inbox_folder", cfg.InboxFolder()),
		logging.String("archive_folder", cfg.ArchiveFolder()),
		logging.String("download_dir", cfg.Paths.DownloadDir),
		logging.String("state_backend", scheme),
		logging.Int("poll_interval_seconds", cfg.Schedule.PollInterval),
		logging.Int("workers", cfg.Workflow.Workers),
		logging.Bool("graph_client_id_present", cfg.Graph.ClientID != ""),
		logging.Bool("graph_bootstrap_token_present", cfg.Graph.BootstrapToken != ""),
		logging.Bool("transcription_key_present", cfg.Transcription.APIKey != ""),
		logging.Bool("webhook_configured", cfg.Publish.WebhookURL != ""),
		logging.Bool("api_enabled", cfg.API.Enabled),
	)
}
