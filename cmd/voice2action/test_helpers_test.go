package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"voice2action/internal/config"
	"voice2action/internal/statestore"
	"voice2action/internal/testsupport"
)

var voiceEnv = []string{
	"OFFLINE_MODE", "ONEDRIVE_VOICE_INBOX", "ONEDRIVE_VOICE_ARCHIVE",
	"LOCAL_VOICE_INBOX", "LOCAL_VOICE_ARCHIVE", "LOCAL_VOICE_DOWNLOAD_FOLDER",
	"TRANSCRIPTION_TERMS_FILE", "ONEDRIVE_VOICE_POLL_INTERVAL",
	"MS_GRAPH_CLIENT_ID", "MS_GRAPH_CLIENT_SECRET", "MS_GRAPH_TOKEN_URL",
	"MS_GRAPH_TOKEN", "MS_GRAPH_AUTHORITY", "OPENAI_API_KEY",
	"VOICE2ACTION_STATE_DSN", "VOICE2ACTION_API_TOKEN",
}

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
}

func setupCLITestEnv(t *testing.T, mutate ...func(*config.Config)) *cliTestEnv {
	t.Helper()
	for _, key := range voiceEnv {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	t.Setenv("HOME", t.TempDir())

	cfg := testsupport.NewConfig(t)
	for _, fn := range mutate {
		fn(cfg)
	}
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)
	return &cliTestEnv{cfg: cfg, configPath: configPath}
}

// withStore opens the env's store for seeding and closes it before returning.
func (e *cliTestEnv) withStore(t *testing.T, fn func(context.Context, statestore.Store)) {
	t.Helper()
	store, err := statestore.Open(context.Background(), e.cfg.State.DSN)
	if err != nil {
		t.Fatalf("statestore.Open: %v", err)
	}
	defer store.Close()
	fn(context.Background(), store)
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content, err := cfg.Encode()
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
