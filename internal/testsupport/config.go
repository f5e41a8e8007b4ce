package testsupport

import (
	"path/filepath"
	"testing"

	"voice2action/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a local-mode config seeded with unique temp directories
// per test and a sqlite state store under the temp tree.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.DownloadDir = filepath.Join(base, "work")
	cfgVal.Inbox.Mode = config.ModeLocal
	cfgVal.Inbox.LocalFolder = filepath.Join(base, "inbox")
	cfgVal.Inbox.LocalArchiveFolder = filepath.Join(base, "archive")
	cfgVal.Inbox.WatchLocal = false
	cfgVal.State.DSN = "sqlite://" + filepath.Join(base, "state", "state.db")
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.Schedule.Enabled = false
	cfgVal.Workflow.StepInitialBackoffMS = 1
	cfgVal.Workflow.StepMaxBackoffMS = 5

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithRemoteInbox switches the config to remote mode against a Graph endpoint.
func WithRemoteInbox(baseURL, tokenURL, inbox, archive string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Inbox.Mode = config.ModeRemote
		b.cfg.Inbox.RemoteFolder = inbox
		b.cfg.Inbox.RemoteArchiveFolder = archive
		b.cfg.Graph.BaseURL = baseURL
		b.cfg.Graph.TokenURL = tokenURL
		b.cfg.Graph.ClientID = "test-client"
	}
}

// WithMemoryState swaps the sqlite store for an in-memory one.
func WithMemoryState() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.State.DSN = "memory://"
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
