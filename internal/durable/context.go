package durable

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"voice2action/internal/logging"
	"voice2action/internal/services"
)

// OrchestrationContext is handed to orchestrators. It replays recorded calls
// and records new ones.
type OrchestrationContext struct {
	ctx         context.Context
	engine      *Engine
	inst        *Instance
	recorded    int
	pos         int
	failedStage string
	logger      *slog.Logger
}

func newOrchestrationContext(ctx context.Context, engine *Engine, inst *Instance) *OrchestrationContext {
	ctx = services.WithInstanceID(ctx, inst.ID)
	return &OrchestrationContext{
		ctx:      ctx,
		engine:   engine,
		inst:     inst,
		recorded: len(inst.History),
		logger:   engine.logger.With(logging.String(logging.FieldInstanceID, inst.ID)),
	}
}

// Context returns the run context. Orchestrators should only pass it along.
func (c *OrchestrationContext) Context() context.Context { return c.ctx }

// InstanceID returns the id of the running instance.
func (c *OrchestrationContext) InstanceID() string { return c.inst.ID }

// StartedAt returns when the running instance was first scheduled. It is
// stable across replays and differs once the id is forgotten and reused.
func (c *OrchestrationContext) StartedAt() time.Time { return c.inst.CreatedAt }

// IsReplaying reports whether the next call will be served from history.
func (c *OrchestrationContext) IsReplaying() bool { return c.pos < c.recorded }

// Logger returns a logger that discards output while replaying.
func (c *OrchestrationContext) Logger() *slog.Logger {
	if c.IsReplaying() {
		return logging.NewNop()
	}
	return c.logger
}

// CallActivity runs activity name with input and decodes its result into out.
// Calls already recorded in history return the recorded outcome.
func (c *OrchestrationContext) CallActivity(name string, input any, out any) error {
	pos := c.pos
	c.pos++

	if pos < len(c.inst.History) {
		ev := c.inst.History[pos]
		if ev.Kind == EventChildScheduled || ev.Name != name {
			return c.nondeterminism(pos, fmt.Sprintf("activity %q", name), ev)
		}
		if ev.Kind == EventActivityFailed {
			c.failedStage = name
			return &ActivityError{Activity: name, Kind: ev.ErrorKind, Message: ev.Error}
		}
		if err := decode(ev.Output, out); err != nil {
			return services.Wrap(services.ErrPermanent, engineStage, name, "decode recorded output", err)
		}
		return nil
	}

	entry, ok := c.engine.activity(name)
	if !ok {
		c.failedStage = name
		return services.Wrap(services.ErrConfiguration, engineStage, name, "activity is not registered", nil)
	}
	raw, err := encode(input)
	if err != nil {
		c.failedStage = name
		return services.Wrap(services.ErrValidation, engineStage, name, "encode input", err)
	}

	stepCtx := services.WithStep(c.ctx, name)
	stepLogger := c.logger.With(logging.String(logging.FieldStep, name))
	var result any
	attempts, runErr := retry(stepCtx, entry.policy, func(attemptCtx context.Context, _ int) error {
		var err error
		result, err = entry.fn(attemptCtx, Payload(raw))
		return err
	}, func(attempt int, err error, wait time.Duration) {
		stepLogger.Warn("activity attempt failed; retrying",
			logging.Int("attempt", attempt),
			logging.Duration("backoff", wait),
			logging.String(logging.FieldErrorKind, services.FailureKind(err)),
			logging.Error(err),
			logging.String(logging.FieldEventType, "activity_retry"),
		)
	})
	if runErr != nil && errors.Is(runErr, context.Canceled) && c.ctx.Err() != nil {
		return runErr
	}

	ev := Event{Seq: pos, Kind: EventActivityCompleted, Name: name, Attempts: attempts, RecordedAt: c.engine.now().UTC()}
	if runErr != nil {
		ev.Kind = EventActivityFailed
		ev.Error = runErr.Error()
		ev.ErrorKind = services.FailureKind(runErr)
	} else {
		encoded, err := encode(result)
		if err != nil {
			runErr = services.Wrap(services.ErrPermanent, engineStage, name, "encode output", err)
			ev.Kind = EventActivityFailed
			ev.Error = runErr.Error()
			ev.ErrorKind = services.FailureKind(runErr)
		} else {
			ev.Output = encoded
		}
	}
	if err := c.record(ev); err != nil {
		return err
	}
	if runErr != nil {
		c.failedStage = name
		return &ActivityError{Activity: name, Kind: ev.ErrorKind, Message: ev.Error, cause: runErr}
	}
	return decode(ev.Output, out)
}

// StartChild schedules orchestrator name under childID without waiting for
// it. Scheduling is idempotent on childID.
func (c *OrchestrationContext) StartChild(name, childID string, input any) error {
	pos := c.pos
	c.pos++

	if pos < len(c.inst.History) {
		ev := c.inst.History[pos]
		if ev.Kind != EventChildScheduled || ev.Name != name || ev.ChildID != childID {
			return c.nondeterminism(pos, fmt.Sprintf("child %q (%s)", childID, name), ev)
		}
		return nil
	}

	policy := c.engine.defaultPolicy
	_, err := retry(c.ctx, policy, func(ctx context.Context, _ int) error {
		_, _, err := c.engine.schedule(ctx, name, childID, c.inst.ID, input)
		return err
	}, nil)
	if err != nil {
		c.failedStage = "start_child:" + name
		return err
	}
	return c.record(Event{Seq: pos, Kind: EventChildScheduled, Name: name, ChildID: childID, RecordedAt: c.engine.now().UTC()})
}

func (c *OrchestrationContext) record(ev Event) error {
	c.inst.History = append(c.inst.History, ev)
	c.inst.UpdatedAt = ev.RecordedAt
	if err := c.engine.save(c.ctx, c.inst); err != nil {
		c.failedStage = ev.Name
		return err
	}
	return nil
}

func (c *OrchestrationContext) nondeterminism(pos int, issued string, recorded Event) error {
	c.failedStage = recorded.Name
	return fmt.Errorf("%w: %w: position %d issued %s but history recorded %s %q",
		services.ErrPermanent, ErrNondeterminism, pos, issued, recorded.Kind, recorded.Name)
}
