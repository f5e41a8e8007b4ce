package pipeline

import (
	"strings"

	"github.com/google/uuid"

	"voice2action/internal/config"
	"voice2action/internal/inbox"
	"voice2action/internal/publish"
	"voice2action/internal/services"
)

// Orchestrator names.
const (
	PollOrchestrator    = "voice2action_poll"
	PerFileOrchestrator = "voice2action_file"
)

// Activity names. They double as failed_stage values.
const (
	ActivityListInbox   = "list_inbox"
	ActivityFilterNew   = "filter_new"
	ActivityMarkPending = "mark_pending"
	ActivityFetch       = "fetch_file"
	ActivityTranscribe  = "transcribe_audio"
	ActivityPublish     = "publish_intent"
	ActivityArchive     = "archive_recording"
)

const (
	pollInstancePrefix = "voice2action-poll-"
	fileInstancePrefix = "voice2action-file-"
)

var fileNamespace = uuid.MustParse("8a7e2c44-1b9d-4f37-a0c6-5e2d91b3f7d0")

// PollInstanceID returns the poll instance id for a tick message.
func PollInstanceID(messageID string) string {
	return pollInstancePrefix + messageID
}

// FileInstanceID returns the per-file instance id for a file. The id depends
// only on the file id, so overlapping poll cycles cannot start a second run.
func FileInstanceID(fileID string) string {
	return fileInstancePrefix + uuid.NewSHA1(fileNamespace, []byte(fileID)).String()
}

// RunConfig is the immutable configuration carried through every step.
type RunConfig struct {
	OfflineMode    bool   `json:"offline_mode"`
	InboxFolder    string `json:"inbox_folder"`
	ArchiveFolder  string `json:"archive_folder"`
	DownloadFolder string `json:"download_folder"`
	TermsFile      string `json:"terms_file,omitempty"`
}

// RunConfigFromConfig resolves the run configuration once from cfg.
func RunConfigFromConfig(cfg *config.Config) RunConfig {
	return RunConfig{
		OfflineMode:    cfg.Offline(),
		InboxFolder:    cfg.InboxFolder(),
		ArchiveFolder:  cfg.ArchiveFolder(),
		DownloadFolder: cfg.Paths.DownloadDir,
		TermsFile:      cfg.Inbox.TermsFile,
	}
}

// Validate reports missing folders by setting name.
func (r RunConfig) Validate() error {
	inboxKey, archiveKey := "inbox.remote_folder", "inbox.remote_archive_folder"
	if r.OfflineMode {
		inboxKey, archiveKey = "inbox.local_folder", "inbox.local_archive_folder"
	}
	switch {
	case strings.TrimSpace(r.InboxFolder) == "":
		return services.Wrap(services.ErrConfiguration, "pipeline", "validate", inboxKey+" is not set", nil)
	case strings.TrimSpace(r.ArchiveFolder) == "":
		return services.Wrap(services.ErrConfiguration, "pipeline", "validate", archiveKey+" is not set", nil)
	case strings.TrimSpace(r.DownloadFolder) == "":
		return services.Wrap(services.ErrConfiguration, "pipeline", "validate", "paths.download_dir is not set", nil)
	}
	return nil
}

// PollResult is the poll orchestrator output.
type PollResult struct {
	Polled bool `json:"polled"`
	Files  int  `json:"files"`
}

// FileInput is the per-file orchestrator input.
type FileInput struct {
	File   inbox.FileReference `json:"file"`
	Config RunConfig           `json:"config"`
}

// FileResult is the per-file orchestrator output.
type FileResult struct {
	OK            bool             `json:"ok"`
	Transcription TranscribeResult `json:"transcription"`
	Archive       string           `json:"archive"`
	Publish       publish.Receipt  `json:"publish"`
}

// ListRequest asks for the inbox listing.
type ListRequest struct {
	Config RunConfig `json:"config"`
}

// FileList carries listed or filtered files.
type FileList struct {
	Files []inbox.FileReference `json:"files"`
}

// MarkPendingRequest names the file being dispatched.
type MarkPendingRequest struct {
	FileID string `json:"file_id"`
}

// MarkPendingResult reports whether the file should be dispatched. It is false
// when the file was downloaded by an overlapping cycle.
type MarkPendingResult struct {
	Dispatched bool `json:"dispatched"`
}

// FetchResult is where the working copy landed.
type FetchResult struct {
	LocalPath string `json:"local_path"`
}

// TranscribeRequest is the transcription step input.
type TranscribeRequest struct {
	AudioPath string `json:"audio_path"`
	MimeType  string `json:"mime_type"`
	TermsFile string `json:"terms_file,omitempty"`
}

// TranscribeResult is the transcription step output.
type TranscribeResult struct {
	TranscriptionPath string `json:"transcription_path"`
	Text              string `json:"text"`
}

// ArchiveResult is the archived location.
type ArchiveResult struct {
	Location string `json:"location"`
}
