package schedule

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"voice2action/internal/logging"
	"voice2action/internal/pipeline"
	"voice2action/internal/services"
	"voice2action/internal/statestore"
)

// EventPrefix prefixes tick dedup records. Values are poll instance ids.
const EventPrefix = "schedule_event:"

// Outcome is the acknowledgement returned to the delivery mechanism.
type Outcome string

const (
	// OutcomeStarted acknowledges a tick that started a poll.
	OutcomeStarted Outcome = "started"
	// OutcomeDuplicate acknowledges a redelivered tick without starting anything.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeRejected acknowledges a malformed tick that redelivery cannot fix.
	OutcomeRejected Outcome = "rejected"
	// OutcomeRetry asks the delivery mechanism to redeliver.
	OutcomeRetry Outcome = "retry"
)

// Acknowledged reports whether the delivery mechanism may drop the message.
func (o Outcome) Acknowledged() bool { return o != OutcomeRetry }

// Result describes how a tick was handled.
type Result struct {
	Outcome    Outcome `json:"outcome"`
	MessageID  string  `json:"message_id"`
	InstanceID string  `json:"instance_id,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// Starter schedules orchestration instances idempotently on instance id.
type Starter interface {
	Schedule(ctx context.Context, name, id string, input any) (string, bool, error)
}

// Dispatcher deduplicates ticks and starts poll orchestrations.
type Dispatcher struct {
	store   statestore.Store
	starter Starter
	logger  *slog.Logger
	now     func() time.Time
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(store statestore.Store, starter Starter, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:   store,
		starter: starter,
		logger:  logging.NewComponentLogger(logger, "dispatcher"),
		now:     time.Now,
	}
}

// OnTick handles one delivered tick. It starts at most one poll per message
// id no matter how often the message is delivered.
func (d *Dispatcher) OnTick(ctx context.Context, messageID string, payload []byte) Result {
	messageID = strings.TrimSpace(messageID)
	result := Result{MessageID: messageID}
	logger := d.logger.With(logging.String(logging.FieldMessageID, messageID))
	if messageID == "" {
		result.Outcome = OutcomeRejected
		result.Error = "message id is required"
		logger.Warn("tick rejected",
			logging.String(logging.FieldEventType, "tick_rejected"),
			logging.String(logging.FieldErrorHint, "the delivery mechanism must set a message id"),
			logging.String("reason", result.Error),
		)
		return result
	}

	if instanceID, ok, err := d.store.Get(ctx, EventPrefix+messageID); err != nil {
		return d.retry(logger, result, err)
	} else if ok {
		result.Outcome = OutcomeDuplicate
		result.InstanceID = instanceID
		logger.Info("duplicate tick acknowledged",
			logging.String(logging.FieldEventType, "tick_duplicate"),
			logging.String(logging.FieldInstanceID, instanceID),
		)
		return result
	}

	runCfg, err := DecodePayload(payload)
	if err == nil {
		err = runCfg.Validate()
	}
	if err != nil {
		if errors.Is(err, services.ErrValidation) || errors.Is(err, services.ErrConfiguration) {
			result.Outcome = OutcomeRejected
			result.Error = err.Error()
			logger.Warn("tick rejected",
				logging.String(logging.FieldEventType, "tick_rejected"),
				logging.String(logging.FieldErrorHint, "fix the tick producer payload"),
				logging.Error(err),
			)
			return result
		}
		return d.retry(logger, result, err)
	}

	instanceID, created, err := d.starter.Schedule(ctx, pipeline.PollOrchestrator, pipeline.PollInstanceID(messageID), runCfg)
	if err != nil {
		return d.retry(logger, result, err)
	}
	if err := d.store.Set(ctx, EventPrefix+messageID, instanceID); err != nil {
		return d.retry(logger, result, err)
	}
	result.Outcome = OutcomeStarted
	result.InstanceID = instanceID
	logger.Info("tick dispatched",
		logging.String(logging.FieldEventType, "tick_dispatched"),
		logging.String(logging.FieldInstanceID, instanceID),
		logging.Bool("created", created),
		logging.Bool("offline_mode", runCfg.OfflineMode),
	)
	return result
}

func (d *Dispatcher) retry(logger *slog.Logger, result Result, err error) Result {
	result.Outcome = OutcomeRetry
	result.Error = err.Error()
	logger.Warn("tick handling failed; requesting redelivery",
		logging.String(logging.FieldEventType, "tick_retry"),
		logging.String(logging.FieldErrorKind, services.FailureKind(err)),
		logging.String(logging.FieldErrorHint, "check state store access"),
		logging.Error(err),
	)
	return result
}

// Sweep deletes dedup records last written before now-retention. A zero
// retention keeps records forever.
func (d *Dispatcher) Sweep(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, nil
	}
	entries, err := d.store.List(ctx, EventPrefix)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "schedule", "sweep", "list tick records", err)
	}
	cutoff := d.now().Add(-retention)
	removed := 0
	for _, entry := range entries {
		if !entry.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := d.store.Delete(ctx, entry.Key); err != nil {
			return removed, services.Wrap(services.ErrTransient, "schedule", "sweep", entry.Key, err)
		}
		removed++
	}
	if removed > 0 {
		d.logger.Info("expired tick records removed",
			logging.String(logging.FieldEventType, "tick_sweep"),
			logging.Int("removed", removed),
			logging.Duration("retention", retention),
		)
	}
	return removed, nil
}
