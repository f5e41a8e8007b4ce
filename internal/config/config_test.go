package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"voice2action/internal/config"
)

func clearVoiceEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"OFFLINE_MODE", "ONEDRIVE_VOICE_INBOX", "ONEDRIVE_VOICE_ARCHIVE",
		"LOCAL_VOICE_INBOX", "LOCAL_VOICE_ARCHIVE", "LOCAL_VOICE_DOWNLOAD_FOLDER",
		"TRANSCRIPTION_TERMS_FILE", "ONEDRIVE_VOICE_POLL_INTERVAL",
		"MS_GRAPH_CLIENT_ID", "MS_GRAPH_CLIENT_SECRET", "MS_GRAPH_TOKEN_URL",
		"MS_GRAPH_TOKEN", "MS_GRAPH_AUTHORITY", "OPENAI_API_KEY", "VOICE2ACTION_STATE_DSN", "VOICE2ACTION_API_TOKEN",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaultRemoteConfigFromEnv(t *testing.T) {
	clearVoiceEnv(t)
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())
	t.Setenv("ONEDRIVE_VOICE_INBOX", "/Voice/Inbox/")
	t.Setenv("ONEDRIVE_VOICE_ARCHIVE", "Voice/Archive")
	t.Setenv("MS_GRAPH_CLIENT_ID", "client")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if cfg.Offline() {
		t.Fatal("expected remote mode by default")
	}
	if cfg.InboxFolder() != "Voice/Inbox" {
		t.Fatalf("expected trimmed inbox folder, got %q", cfg.InboxFolder())
	}
	if cfg.ArchiveFolder() != "Voice/Archive" {
		t.Fatalf("unexpected archive folder %q", cfg.ArchiveFolder())
	}
	wantState := filepath.Join(tempHome, ".local", "share", "voice2action")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.State.DSN != "sqlite://"+filepath.Join(wantState, "state.db") {
		t.Fatalf("unexpected default dsn %q", cfg.State.DSN)
	}
	if cfg.Graph.TokenURL != "https://login.microsoftonline.com/common/oauth2/v2.0/token" {
		t.Fatalf("unexpected token url %q", cfg.Graph.TokenURL)
	}
	if cfg.Graph.ClientID != "client" {
		t.Fatalf("expected client id from env, got %q", cfg.Graph.ClientID)
	}
	if cfg.Graph.RefreshMarginSeconds != 300 {
		t.Fatalf("unexpected refresh margin %d", cfg.Graph.RefreshMarginSeconds)
	}
	if cfg.Schedule.PollInterval != 30 || cfg.Schedule.InitialDelay != 30 {
		t.Fatalf("unexpected schedule %+v", cfg.Schedule)
	}
}

func TestLoadRemoteWithoutFoldersFails(t *testing.T) {
	clearVoiceEnv(t)
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	_, _, _, err := config.Load("")
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "inbox.remote_folder") {
		t.Fatalf("expected error to name the setting, got %v", err)
	}
}

func TestOfflineModeEnvSelectsLocalFolders(t *testing.T) {
	clearVoiceEnv(t)
	t.Setenv("HOME", t.TempDir())
	base := t.TempDir()
	t.Setenv("OFFLINE_MODE", "true")
	t.Setenv("LOCAL_VOICE_INBOX", filepath.Join(base, "in"))
	t.Setenv("LOCAL_VOICE_ARCHIVE", filepath.Join(base, "done"))
	t.Setenv("LOCAL_VOICE_DOWNLOAD_FOLDER", filepath.Join(base, "work"))
	t.Setenv("ONEDRIVE_VOICE_POLL_INTERVAL", "45")

	cfg, _, _, err := config.Load(filepath.Join(base, "missing.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !cfg.Offline() {
		t.Fatal("expected local mode")
	}
	if cfg.InboxFolder() != filepath.Join(base, "in") {
		t.Fatalf("unexpected inbox %q", cfg.InboxFolder())
	}
	if cfg.ArchiveFolder() != filepath.Join(base, "done") {
		t.Fatalf("unexpected archive %q", cfg.ArchiveFolder())
	}
	if cfg.Paths.DownloadDir != filepath.Join(base, "work") {
		t.Fatalf("unexpected download dir %q", cfg.Paths.DownloadDir)
	}
	if cfg.Schedule.PollInterval != 45 {
		t.Fatalf("expected poll interval override, got %d", cfg.Schedule.PollInterval)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.InboxFolder(), cfg.ArchiveFolder(), cfg.Paths.DownloadDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
	}
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	clearVoiceEnv(t)
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[inbox]
mode = "remote"
remote_folder = "Recordings"
remote_archive_folder = "Recordings/Done"

[graph]
grant = "client_credentials"
client_id = "id"
client_secret = "secret"
authority = "https://login.example.com/tenant/"

[state]
dsn = "memory://"

[logging]
format = "JSON"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("unexpected resolution: %q exists=%v", resolved, exists)
	}
	if cfg.Graph.TokenURL != "https://login.example.com/tenant/oauth2/v2.0/token" {
		t.Fatalf("unexpected token url %q", cfg.Graph.TokenURL)
	}
	if cfg.Graph.AuthorizeURL() != "https://login.example.com/tenant/oauth2/v2.0/authorize" {
		t.Fatalf("unexpected authorize url %q", cfg.Graph.AuthorizeURL())
	}
	if cfg.State.DSN != "memory://" {
		t.Fatalf("unexpected dsn %q", cfg.State.DSN)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected normalized format, got %q", cfg.Logging.Format)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"mode", func(c *config.Config) { c.Inbox.Mode = "ftp" }, "inbox.mode"},
		{"grant", func(c *config.Config) { c.Graph.Grant = "password" }, "graph.grant"},
		{"client credentials", func(c *config.Config) {
			c.Graph.Grant = config.GrantClientCredentials
			c.Graph.ClientSecret = ""
		}, "graph.client_secret"},
		{"margin", func(c *config.Config) { c.Graph.RefreshMarginSeconds = -1 }, "graph.refresh_margin_seconds"},
		{"workers", func(c *config.Config) { c.Workflow.Workers = 0 }, "workflow.workers"},
		{"backoff", func(c *config.Config) { c.Workflow.StepMaxBackoffMS = 10 }, "workflow.step_max_backoff_ms"},
		{"retention", func(c *config.Config) { c.Schedule.DedupRetentionHours = -2 }, "schedule.dedup_retention_hours"},
		{"log level", func(c *config.Config) { c.Logging.Level = "trace" }, "logging.level"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Inbox.RemoteFolder = "in"
			cfg.Inbox.RemoteArchiveFolder = "out"
			cfg.Graph.ClientID = "id"
			cfg.Graph.ClientSecret = "secret"
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in error, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var decoded config.Config
	if err := toml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("sample config is not valid TOML: %v", err)
	}
	if decoded.Inbox.RemoteFolder == "" {
		t.Fatal("expected sample to include a remote folder")
	}
	if decoded.Graph.RefreshMarginSeconds != 300 {
		t.Fatalf("unexpected sample margin %d", decoded.Graph.RefreshMarginSeconds)
	}
}
