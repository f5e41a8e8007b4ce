package publish

import (
	"fmt"
	"strings"
	"time"

	"voice2action/internal/services"
)

// Intent is what the pipeline publishes for one recording.
type Intent struct {
	CorrelationID     string            `json:"correlation_id"`
	TranscriptionText string            `json:"transcription_text"`
	TranscriptionPath string            `json:"transcription_path"`
	AudioPath         string            `json:"audio_path"`
	FileName          string            `json:"file_name"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	// Run identifies the processing run. Retries within a run reuse it; a file
	// that is reset and processed again gets a new one.
	Run string `json:"run,omitempty"`
}

// Validate checks the fields required downstream.
func (i Intent) Validate() error {
	if strings.TrimSpace(i.CorrelationID) == "" {
		return services.Wrap(services.ErrValidation, "publish", "validate", "correlation id is required", nil)
	}
	if strings.TrimSpace(i.TranscriptionPath) == "" && strings.TrimSpace(i.TranscriptionText) == "" {
		return services.Wrap(services.ErrValidation, "publish", "validate", "transcription text or path is required", nil)
	}
	return nil
}

// TriggerAction is the message shape the intent orchestrator consumes.
type TriggerAction struct {
	Task               string            `json:"task"`
	WorkflowInstanceID string            `json:"workflow_instance_id"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

const taskTemplate = "Process voice transcription from file [%s]. Text inside [...] is a file path; preserve it exactly. " +
	"Identify explicit intent only (do not infer). Intent priority order:\n" +
	"1. THOUGHT_COLLECTION: phrase matches 'this is a thought on {topic}'. {topic} is the immediately following words up to punctuation or newline.\n" +
	"2. TASK_CREATION: explicit directive to create a task / follow up / reminder.\n" +
	"3. FALLBACK_EMAIL: if neither above applies.\n" +
	"If THOUGHT_COLLECTION is detected, plan to call the 'store_thought' tool with the full transcription text. " +
	"Do not attempt other actions once a thought is stored. " +
	"Multiple thought phrases may exist; store all distinct topics. " +
	"Only treat a phrase as thought if the wording is explicit (case-insensitive) and starts exactly with 'this is a thought on'. " +
	"If wording deviates, ignore it. " +
	"If no valid thought phrase exists, continue evaluating for task creation, else fallback email."

// NewTriggerAction renders the downstream message for intent.
func NewTriggerAction(intent Intent) TriggerAction {
	meta := map[string]string{
		"transcription_path": intent.TranscriptionPath,
		"audio_path":         intent.AudioPath,
		"file_name":          intent.FileName,
	}
	for k, v := range intent.Metadata {
		meta[k] = v
	}
	return TriggerAction{
		Task:               fmt.Sprintf(taskTemplate, intent.TranscriptionPath),
		WorkflowInstanceID: intent.CorrelationID,
		Metadata:           meta,
	}
}

// Envelope is one outbox entry.
type Envelope struct {
	ID            string        `json:"id"`
	Topic         string        `json:"topic"`
	Intent        Intent        `json:"intent"`
	Action        TriggerAction `json:"action"`
	Attempts      int           `json:"attempts"`
	EnqueuedAt    time.Time     `json:"enqueued_at"`
	NextAttemptAt time.Time     `json:"next_attempt_at"`
	LastError     string        `json:"last_error,omitempty"`
}

// Receipt acknowledges an enqueued intent.
type Receipt struct {
	ID    string `json:"id"`
	Topic string `json:"topic"`
}
