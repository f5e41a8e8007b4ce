package preflight

import (
	"context"
	"strings"

	"voice2action/internal/config"
	"voice2action/internal/credentials"
)

// MinFreeBytes is the free space required in the download directory.
const MinFreeBytes uint64 = 256 << 20

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// CredentialDescriber reports the persisted Graph credential.
type CredentialDescriber interface {
	Describe(ctx context.Context) (credentials.Status, error)
}

// RunAll executes all applicable preflight checks for the given config.
// creds may be nil in local mode.
func RunAll(ctx context.Context, cfg *config.Config, creds CredentialDescriber) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Download directory", cfg.Paths.DownloadDir),
		CheckFreeSpace("Download free space", cfg.Paths.DownloadDir, MinFreeBytes),
	}
	if cfg.Offline() {
		results = append(results,
			CheckDirectoryAccess("Local inbox", cfg.InboxFolder()),
			CheckDirectoryAccess("Local archive", cfg.ArchiveFolder()),
		)
	} else {
		results = append(results, CheckCredentials(ctx, cfg.Graph, creds))
	}
	results = append(results, CheckTranscription(cfg.Transcription))
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

// CheckTranscription verifies the speech-to-text endpoint is configured.
func CheckTranscription(cfg config.Transcription) Result {
	const name = "Transcription"
	switch {
	case strings.TrimSpace(cfg.URL) == "":
		return Result{Name: name, Detail: "missing url (transcription.url)"}
	case strings.TrimSpace(cfg.APIKey) == "":
		return Result{Name: name, Detail: "missing api key (transcription.api_key or OPENAI_API_KEY)"}
	}
	return Result{Name: name, Passed: true, Detail: "configured (" + cfg.Model + ")"}
}
