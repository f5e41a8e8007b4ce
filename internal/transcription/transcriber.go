package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"voice2action/internal/fileutil"
	"voice2action/internal/services"
)

// Request describes one recording to transcribe.
type Request struct {
	AudioPath string   `json:"audio_path"`
	MimeType  string   `json:"mime_type"`
	Terms     []string `json:"terms,omitempty"`
}

// Validate rejects requests that cannot be sent.
func (r Request) Validate() error {
	if strings.TrimSpace(r.AudioPath) == "" {
		return services.Wrap(services.ErrValidation, "transcription", "validate", "audio path is required", nil)
	}
	if strings.TrimSpace(r.MimeType) == "" {
		return services.Wrap(services.ErrValidation, "transcription", "validate", "mime type is required", nil)
	}
	return nil
}

// Prompt renders the domain terms as a spelling hint.
func (r Request) Prompt() string {
	if len(r.Terms) == 0 {
		return ""
	}
	return "Vocabulary: " + strings.Join(r.Terms, ", ") + "."
}

// Result is the transcription collaborator's answer.
type Result struct {
	Text string `json:"text"`
}

// Transcriber converts audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (Result, error)
}

// ArtifactPath returns where the transcript for audioPath is stored: the
// audio path with its extension replaced by .json.
func ArtifactPath(audioPath string) string {
	return strings.TrimSuffix(audioPath, filepath.Ext(audioPath)) + ".json"
}

// WriteArtifact stores result next to the audio file and returns its path.
func WriteArtifact(audioPath string, result Result) (string, error) {
	path := ArtifactPath(audioPath)
	data, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("encode transcript: %w", err)
	}
	if _, err := fileutil.WriteAtomic(path, bytes.NewReader(data), 0o644); err != nil {
		return "", fmt.Errorf("write transcript %s: %w", path, err)
	}
	return path, nil
}

// ReadArtifact loads a transcript written by WriteArtifact.
func ReadArtifact(path string) (Result, error) {
	var result Result
	data, err := os.ReadFile(path)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, fmt.Errorf("decode transcript %s: %w", path, err)
	}
	return result, nil
}
