package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	c.applyEnv()
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeInbox(); err != nil {
		return err
	}
	c.normalizeGraph()
	c.normalizeState()
	c.normalizeSchedule()
	c.normalizeLogging()
	return nil
}

// applyEnv honours the environment variables the original deployment used.
// Values already set in the file win, except OFFLINE_MODE which flips the mode.
func (c *Config) applyEnv() {
	if value, ok := os.LookupEnv("OFFLINE_MODE"); ok {
		if strings.EqualFold(strings.TrimSpace(value), "true") {
			c.Inbox.Mode = ModeLocal
		} else if strings.EqualFold(strings.TrimSpace(value), "false") {
			c.Inbox.Mode = ModeRemote
		}
	}
	setIfEmpty(&c.Inbox.RemoteFolder, "ONEDRIVE_VOICE_INBOX")
	setIfEmpty(&c.Inbox.RemoteArchiveFolder, "ONEDRIVE_VOICE_ARCHIVE")
	setFromEnv(&c.Inbox.LocalFolder, "LOCAL_VOICE_INBOX")
	setFromEnv(&c.Inbox.LocalArchiveFolder, "LOCAL_VOICE_ARCHIVE")
	setFromEnv(&c.Paths.DownloadDir, "LOCAL_VOICE_DOWNLOAD_FOLDER")
	setIfEmpty(&c.Inbox.TermsFile, "TRANSCRIPTION_TERMS_FILE")
	setIfEmpty(&c.Graph.ClientID, "MS_GRAPH_CLIENT_ID")
	setIfEmpty(&c.Graph.ClientSecret, "MS_GRAPH_CLIENT_SECRET")
	setIfEmpty(&c.Graph.TokenURL, "MS_GRAPH_TOKEN_URL")
	setIfEmpty(&c.Graph.BootstrapToken, "MS_GRAPH_TOKEN")
	setIfEmpty(&c.Transcription.APIKey, "OPENAI_API_KEY")
	setIfEmpty(&c.State.DSN, "VOICE2ACTION_STATE_DSN")
	setIfEmpty(&c.API.Token, "VOICE2ACTION_API_TOKEN")
	if value, ok := os.LookupEnv("MS_GRAPH_AUTHORITY"); ok && strings.TrimSpace(value) != "" {
		c.Graph.Authority = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv("ONEDRIVE_VOICE_POLL_INTERVAL"); ok {
		if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			c.Schedule.PollInterval = seconds
		}
	}
}

func setIfEmpty(target *string, env string) {
	if strings.TrimSpace(*target) != "" {
		return
	}
	if value, ok := os.LookupEnv(env); ok {
		*target = strings.TrimSpace(value)
	}
}

func setFromEnv(target *string, env string) {
	if value, ok := os.LookupEnv(env); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.DownloadDir) == "" {
		c.Paths.DownloadDir = defaultDownloadDir
	}
	if c.Paths.DownloadDir, err = expandPath(c.Paths.DownloadDir); err != nil {
		return fmt.Errorf("paths.download_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeInbox() error {
	c.Inbox.Mode = strings.ToLower(strings.TrimSpace(c.Inbox.Mode))
	if c.Inbox.Mode == "" {
		c.Inbox.Mode = defaultInboxMode
	}
	c.Inbox.RemoteFolder = strings.Trim(strings.TrimSpace(c.Inbox.RemoteFolder), "/")
	c.Inbox.RemoteArchiveFolder = strings.Trim(strings.TrimSpace(c.Inbox.RemoteArchiveFolder), "/")

	var err error
	if strings.TrimSpace(c.Inbox.LocalFolder) == "" {
		c.Inbox.LocalFolder = defaultLocalInbox
	}
	if c.Inbox.LocalFolder, err = expandPath(c.Inbox.LocalFolder); err != nil {
		return fmt.Errorf("inbox.local_folder: %w", err)
	}
	if strings.TrimSpace(c.Inbox.LocalArchiveFolder) == "" {
		c.Inbox.LocalArchiveFolder = defaultLocalArchive
	}
	if c.Inbox.LocalArchiveFolder, err = expandPath(c.Inbox.LocalArchiveFolder); err != nil {
		return fmt.Errorf("inbox.local_archive_folder: %w", err)
	}
	if strings.TrimSpace(c.Inbox.TermsFile) != "" {
		if c.Inbox.TermsFile, err = expandPath(strings.TrimSpace(c.Inbox.TermsFile)); err != nil {
			return fmt.Errorf("inbox.terms_file: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeGraph() {
	c.Graph.BaseURL = strings.TrimRight(strings.TrimSpace(c.Graph.BaseURL), "/")
	if c.Graph.BaseURL == "" {
		c.Graph.BaseURL = defaultGraphBaseURL
	}
	c.Graph.Authority = strings.TrimRight(strings.TrimSpace(c.Graph.Authority), "/")
	if c.Graph.Authority == "" {
		c.Graph.Authority = defaultGraphAuthority
	}
	c.Graph.TokenURL = strings.TrimSpace(c.Graph.TokenURL)
	if c.Graph.TokenURL == "" {
		c.Graph.TokenURL = c.Graph.Authority + "/oauth2/v2.0/token"
	}
	c.Graph.Grant = strings.ToLower(strings.TrimSpace(c.Graph.Grant))
	if c.Graph.Grant == "" {
		c.Graph.Grant = defaultGraphGrant
	}
	if len(c.Graph.Scopes) == 0 {
		c.Graph.Scopes = append([]string(nil), defaultGraphScopes...)
	}
	c.Graph.ClientID = strings.TrimSpace(c.Graph.ClientID)
	c.Graph.ClientSecret = strings.TrimSpace(c.Graph.ClientSecret)
	c.Graph.RedirectURI = strings.TrimSpace(c.Graph.RedirectURI)
}

// AuthorizeURL returns the OAuth2 authorization endpoint derived from the authority.
func (g Graph) AuthorizeURL() string {
	return g.Authority + "/oauth2/v2.0/authorize"
}

func (c *Config) normalizeState() {
	c.State.DSN = strings.TrimSpace(c.State.DSN)
	if c.State.DSN == "" {
		c.State.DSN = "sqlite://" + c.StateDBPath()
	}
}

func (c *Config) normalizeSchedule() {
	if c.Schedule.InitialDelay <= 0 {
		c.Schedule.InitialDelay = c.Schedule.PollInterval
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
