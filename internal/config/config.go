package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Inbox modes.
const (
	ModeRemote = "remote"
	ModeLocal  = "local"
)

// Graph grant types.
const (
	GrantDelegated         = "delegated"
	GrantClientCredentials = "client_credentials"
)

// Paths contains local directory configuration.
type Paths struct {
	StateDir    string `toml:"state_dir"`
	LogDir      string `toml:"log_dir"`
	DownloadDir string `toml:"download_dir"`
}

// Inbox selects where recordings are picked up and archived.
type Inbox struct {
	Mode                string `toml:"mode"`
	RemoteFolder        string `toml:"remote_folder"`
	RemoteArchiveFolder string `toml:"remote_archive_folder"`
	LocalFolder         string `toml:"local_folder"`
	LocalArchiveFolder  string `toml:"local_archive_folder"`
	TermsFile           string `toml:"terms_file"`
	WatchLocal          bool   `toml:"watch_local"`
}

// Graph contains Microsoft Graph and OAuth2 settings for the remote drive.
type Graph struct {
	BaseURL              string   `toml:"base_url"`
	Authority            string   `toml:"authority"`
	TokenURL             string   `toml:"token_url"`
	ClientID             string   `toml:"client_id"`
	ClientSecret         string   `toml:"client_secret"`
	Scopes               []string `toml:"scopes"`
	RedirectURI          string   `toml:"redirect_uri"`
	Grant                string   `toml:"grant"`
	BootstrapToken       string   `toml:"bootstrap_token"`
	RefreshMarginSeconds int      `toml:"refresh_margin_seconds"`
	RequestTimeout       int      `toml:"request_timeout"`
}

// State selects the durable key-value backend.
type State struct {
	DSN string `toml:"dsn"`
}

// Schedule contains tick production settings.
type Schedule struct {
	Enabled             bool `toml:"enabled"`
	PollInterval        int  `toml:"poll_interval"`
	InitialDelay        int  `toml:"initial_delay"`
	DedupRetentionHours int  `toml:"dedup_retention_hours"`
}

// Workflow contains orchestration engine settings.
type Workflow struct {
	Workers              int  `toml:"workers"`
	StepMaxAttempts      int  `toml:"step_max_attempts"`
	StepInitialBackoffMS int  `toml:"step_initial_backoff_ms"`
	StepMaxBackoffMS     int  `toml:"step_max_backoff_ms"`
	ResumeOnStart        bool `toml:"resume_on_start"`
}

// Transcription contains speech-to-text endpoint settings.
type Transcription struct {
	URL            string `toml:"url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Publish contains intent delivery settings.
type Publish struct {
	WebhookURL     string `toml:"webhook_url"`
	Topic          string `toml:"topic"`
	RelayInterval  int    `toml:"relay_interval"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxAttempts    int    `toml:"max_attempts"`
}

// API contains the HTTP front end settings.
type API struct {
	Enabled bool   `toml:"enabled"`
	Bind    string `toml:"bind"`
	// Token, when set, is required as a bearer token on every route except
	// health and the browser consent pages.
	Token string `toml:"token"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for voice2action.
//
// Configuration sections by subsystem:
//   - Paths: state, log, and download directories
//   - Inbox: remote/local mode and folder names
//   - Graph: Microsoft Graph endpoint and OAuth2 credentials
//   - State: durable key-value store DSN
//   - Schedule: tick interval and dedup retention
//   - Workflow: orchestration workers and step retry policy
//   - Transcription: speech-to-text endpoint
//   - Publish: intent webhook relay
//   - API: HTTP trigger and consent endpoints
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Inbox         Inbox         `toml:"inbox"`
	Graph         Graph         `toml:"graph"`
	State         State         `toml:"state"`
	Schedule      Schedule      `toml:"schedule"`
	Workflow      Workflow      `toml:"workflow"`
	Transcription Transcription `toml:"transcription"`
	Publish       Publish       `toml:"publish"`
	API           API           `toml:"api"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/voice2action/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("voice2action.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// Offline reports whether the pipeline reads from the local filesystem inbox.
func (c *Config) Offline() bool {
	return c.Inbox.Mode == ModeLocal
}

// InboxFolder returns the inbox folder for the configured mode.
func (c *Config) InboxFolder() string {
	if c.Offline() {
		return c.Inbox.LocalFolder
	}
	return c.Inbox.RemoteFolder
}

// ArchiveFolder returns the archive folder for the configured mode.
func (c *Config) ArchiveFolder() string {
	if c.Offline() {
		return c.Inbox.LocalArchiveFolder
	}
	return c.Inbox.RemoteArchiveFolder
}

// StateDBPath returns the default sqlite database location.
func (c *Config) StateDBPath() string {
	return filepath.Join(c.Paths.StateDir, "state.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "voice2action.lock")
}

// EnsureDirectories creates required directories for daemon operation. Local
// inbox and archive folders are only created in local mode.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.StateDir, c.Paths.LogDir, c.Paths.DownloadDir}
	if c.Offline() {
		dirs = append(dirs, c.Inbox.LocalFolder, c.Inbox.LocalArchiveFolder)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the configuration as TOML.
func (c *Config) Encode() (string, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return string(data), nil
}
