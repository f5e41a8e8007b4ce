package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Subscriber statuses understood by pub/sub sidecars.
const (
	DeliverySuccess = "SUCCESS"
	DeliveryRetry   = "RETRY"
	DeliveryDrop    = "DROP"
)

// TickEnvelope is the body accepted when no ce-id header is present.
type TickEnvelope struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// TickResponse reports how a delivered tick was handled.
type TickResponse struct {
	Status     string `json:"status"`
	Outcome    string `json:"outcome"`
	MessageID  string `json:"messageId"`
	InstanceID string `json:"instanceId,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Step is one recorded history event of an instance.
type Step struct {
	Seq        int    `json:"seq"`
	Kind       string `json:"kind"`
	Name       string `json:"name"`
	ChildID    string `json:"childId,omitempty"`
	Error      string `json:"error,omitempty"`
	ErrorKind  string `json:"errorKind,omitempty"`
	Attempts   int    `json:"attempts,omitempty"`
	RecordedAt string `json:"recordedAt,omitempty"`
}

// Instance describes an orchestration instance in a transport-friendly format.
type Instance struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	ParentID    string          `json:"parentId,omitempty"`
	Status      string          `json:"status"`
	Error       string          `json:"error,omitempty"`
	FailedStage string          `json:"failedStage,omitempty"`
	CreatedAt   string          `json:"createdAt,omitempty"`
	UpdatedAt   string          `json:"updatedAt,omitempty"`
	Children    []string        `json:"children,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	Steps       []Step          `json:"steps,omitempty"`
}

// InstanceListResponse wraps a collection of instances.
type InstanceListResponse struct {
	Instances []Instance     `json:"instances"`
	Counts    map[string]int `json:"counts"`
}

// InstanceResponse wraps a single instance.
type InstanceResponse struct {
	Instance Instance `json:"instance"`
}

// FileState describes the markers held for one inbox file.
type FileState struct {
	FileID       string `json:"fileId"`
	State        string `json:"state"`
	PendingAt    string `json:"pendingAt,omitempty"`
	DownloadedAt string `json:"downloadedAt,omitempty"`
}

// FileListResponse wraps inbox marker states.
type FileListResponse struct {
	Files []FileState `json:"files"`
}

// AuthStatus summarises the cached Graph credential.
type AuthStatus struct {
	Present          bool   `json:"present"`
	ExpiresAt        string `json:"expiresAt,omitempty"`
	RemainingSeconds int64  `json:"remainingSeconds"`
	HasRefreshToken  bool   `json:"hasRefreshToken"`
	NeedsRefresh     bool   `json:"needsRefresh"`
}

// ErrorResponse is returned for failed requests.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
