package durable

import (
	"errors"
	"time"

	"voice2action/internal/services"
)

// InstanceKeyPrefix prefixes every persisted instance record.
const InstanceKeyPrefix = "workflow_instance:"

// ErrNondeterminism reports an orchestrator that issued a different call than
// the one recorded at the same history position.
var ErrNondeterminism = errors.New("orchestrator is nondeterministic")

// Status is the lifecycle state of an instance.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further work will happen for the status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// EventKind distinguishes history entries.
type EventKind string

const (
	EventActivityCompleted EventKind = "activity_completed"
	EventActivityFailed    EventKind = "activity_failed"
	EventChildScheduled    EventKind = "child_scheduled"
)

// Event is one recorded orchestrator call.
type Event struct {
	Seq        int       `msgpack:"seq"`
	Kind       EventKind `msgpack:"kind"`
	Name       string    `msgpack:"name"`
	ChildID    string    `msgpack:"child_id,omitempty"`
	Output     []byte    `msgpack:"output,omitempty"`
	Error      string    `msgpack:"error,omitempty"`
	ErrorKind  string    `msgpack:"error_kind,omitempty"`
	Attempts   int       `msgpack:"attempts,omitempty"`
	RecordedAt time.Time `msgpack:"recorded_at"`
}

// Instance is the persisted record of one orchestration run.
type Instance struct {
	ID          string    `msgpack:"id"`
	Name        string    `msgpack:"name"`
	ParentID    string    `msgpack:"parent_id,omitempty"`
	Status      Status    `msgpack:"status"`
	Input       []byte    `msgpack:"input,omitempty"`
	Output      []byte    `msgpack:"output,omitempty"`
	Error       string    `msgpack:"error,omitempty"`
	FailedStage string    `msgpack:"failed_stage,omitempty"`
	CreatedAt   time.Time `msgpack:"created_at"`
	UpdatedAt   time.Time `msgpack:"updated_at"`
	History     []Event   `msgpack:"history"`
}

// DecodeOutput decodes the recorded orchestrator result into v.
func (i *Instance) DecodeOutput(v any) error {
	if len(i.Output) == 0 {
		return nil
	}
	return decode(i.Output, v)
}

// DecodeInput decodes the instance input into v.
func (i *Instance) DecodeInput(v any) error {
	if len(i.Input) == 0 {
		return nil
	}
	return decode(i.Input, v)
}

// Children returns the ids of child instances recorded in the history.
func (i *Instance) Children() []string {
	var ids []string
	for _, ev := range i.History {
		if ev.Kind == EventChildScheduled {
			ids = append(ids, ev.ChildID)
		}
	}
	return ids
}

// ActivityError is returned by CallActivity when a step fails. It carries
// the failure classification so replayed failures match live ones.
type ActivityError struct {
	Activity string
	Kind     string
	Message  string
	cause    error
}

func (e *ActivityError) Error() string {
	return e.Activity + ": " + e.Message
}

// Unwrap exposes the live cause, or the classification marker when the error
// was reconstructed from history.
func (e *ActivityError) Unwrap() error {
	if e.cause != nil {
		return e.cause
	}
	return markerForKind(e.Kind)
}

func markerForKind(kind string) error {
	switch kind {
	case "validation":
		return services.ErrValidation
	case "configuration":
		return services.ErrConfiguration
	case "not_found":
		return services.ErrNotFound
	case "timeout":
		return services.ErrTimeout
	case "permanent":
		return services.ErrPermanent
	default:
		return services.ErrTransient
	}
}
