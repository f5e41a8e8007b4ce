package durable

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"voice2action/internal/logging"
	"voice2action/internal/services"
	"voice2action/internal/statestore"
)

const engineStage = "durable"

// OrchestratorFunc coordinates activities. It must be deterministic for a
// given history.
type OrchestratorFunc func(octx *OrchestrationContext, input Payload) (any, error)

// ActivityFunc performs one unit of real work.
type ActivityFunc func(ctx context.Context, input Payload) (any, error)

type activityEntry struct {
	fn     ActivityFunc
	policy RetryPolicy
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers sets how many instances run concurrently.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithDefaultRetryPolicy sets the policy for activities registered without one.
func WithDefaultRetryPolicy(policy RetryPolicy) Option {
	return func(e *Engine) { e.defaultPolicy = policy }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logging.NewComponentLogger(logger, "engine")
	}
}

// WithClock overrides the bookkeeping clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithResume controls whether Start re-enqueues unfinished instances.
func WithResume(enabled bool) Option {
	return func(e *Engine) { e.resume = enabled }
}

// Engine schedules and runs orchestration instances.
type Engine struct {
	store         statestore.Store
	logger        *slog.Logger
	now           func() time.Time
	workers       int
	resume        bool
	defaultPolicy RetryPolicy

	regMu         sync.RWMutex
	orchestrators map[string]OrchestratorFunc
	activities    map[string]activityEntry

	scheduleMu sync.Mutex

	mu       sync.Mutex
	ready    []string
	inflight map[string]bool
	waiters  map[string][]chan struct{}
	wake     chan struct{}
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewEngine constructs an engine persisting into store.
func NewEngine(store statestore.Store, opts ...Option) *Engine {
	e := &Engine{
		store:         store,
		logger:        logging.NewComponentLogger(nil, "engine"),
		now:           time.Now,
		workers:       4,
		resume:        true,
		defaultPolicy: DefaultRetryPolicy(),
		orchestrators: make(map[string]OrchestratorFunc),
		activities:    make(map[string]activityEntry),
		inflight:      make(map[string]bool),
		waiters:       make(map[string][]chan struct{}),
		wake:          make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterOrchestrator adds an orchestrator under name.
func (e *Engine) RegisterOrchestrator(name string, fn OrchestratorFunc) {
	e.regMu.Lock()
	defer e.regMu.Unlock()
	e.orchestrators[name] = fn
}

// RegisterActivity adds an activity under name. A nil policy uses the engine default.
func (e *Engine) RegisterActivity(name string, fn ActivityFunc, policy *RetryPolicy) {
	entry := activityEntry{fn: fn, policy: e.defaultPolicy}
	if policy != nil {
		entry.policy = *policy
	}
	e.regMu.Lock()
	defer e.regMu.Unlock()
	e.activities[name] = entry
}

func (e *Engine) orchestrator(name string) (OrchestratorFunc, bool) {
	e.regMu.RLock()
	defer e.regMu.RUnlock()
	fn, ok := e.orchestrators[name]
	return fn, ok
}

func (e *Engine) activity(name string) (activityEntry, bool) {
	e.regMu.RLock()
	defer e.regMu.RUnlock()
	entry, ok := e.activities[name]
	return entry, ok
}

// Schedule creates a pending instance of orchestrator name under id. When an
// instance with that id already exists nothing is created and created is false.
func (e *Engine) Schedule(ctx context.Context, name, id string, input any) (string, bool, error) {
	return e.schedule(ctx, name, id, "", input)
}

func (e *Engine) schedule(ctx context.Context, name, id, parentID string, input any) (string, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", false, services.Wrap(services.ErrValidation, engineStage, "schedule", "instance id is required", nil)
	}
	if _, ok := e.orchestrator(name); !ok {
		return "", false, services.Wrap(services.ErrConfiguration, engineStage, "schedule", fmt.Sprintf("orchestrator %q is not registered", name), nil)
	}
	raw, err := encode(input)
	if err != nil {
		return "", false, services.Wrap(services.ErrValidation, engineStage, "schedule", "encode input", err)
	}

	e.scheduleMu.Lock()
	defer e.scheduleMu.Unlock()

	if _, ok, err := e.store.Get(ctx, InstanceKeyPrefix+id); err != nil {
		return "", false, services.Wrap(services.ErrTransient, engineStage, "schedule", "lookup instance", err)
	} else if ok {
		return id, false, nil
	}

	now := e.now().UTC()
	inst := &Instance{
		ID:        id,
		Name:      name,
		ParentID:  parentID,
		Status:    StatusPending,
		Input:     raw,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.save(ctx, inst); err != nil {
		return "", false, err
	}
	e.logger.Debug("instance scheduled",
		logging.String(logging.FieldInstanceID, id),
		logging.String("orchestrator", name),
		logging.String("parent_id", parentID),
	)
	e.enqueue(id)
	return id, true, nil
}

// Status loads the instance record for id.
func (e *Engine) Status(ctx context.Context, id string) (*Instance, error) {
	value, ok, err := e.store.Get(ctx, InstanceKeyPrefix+id)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, engineStage, "status", "load instance", err)
	}
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, engineStage, "status", fmt.Sprintf("instance %q", id), nil)
	}
	return unmarshalInstance(value)
}

// Forget deletes a terminal instance so its id can be scheduled again.
// Deleting a missing id is not an error.
func (e *Engine) Forget(ctx context.Context, id string) error {
	e.scheduleMu.Lock()
	defer e.scheduleMu.Unlock()
	inst, err := e.Status(ctx, id)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return nil
		}
		return err
	}
	if !inst.Status.Terminal() {
		return services.Wrap(services.ErrValidation, engineStage, "forget", fmt.Sprintf("instance %q is still %s", id, inst.Status), nil)
	}
	if err := e.store.Delete(ctx, InstanceKeyPrefix+id); err != nil {
		return services.Wrap(services.ErrTransient, engineStage, "forget", id, err)
	}
	return nil
}

// List returns every instance ordered by creation time.
func (e *Engine) List(ctx context.Context) ([]*Instance, error) {
	entries, err := e.store.List(ctx, InstanceKeyPrefix)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, engineStage, "list", "list instances", err)
	}
	instances := make([]*Instance, 0, len(entries))
	for _, entry := range entries {
		inst, err := unmarshalInstance(entry.Value)
		if err != nil {
			e.logger.Warn("skipping unreadable instance record",
				logging.String("key", entry.Key),
				logging.Error(err),
				logging.String(logging.FieldEventType, "instance_decode_failed"),
			)
			continue
		}
		instances = append(instances, inst)
	}
	sort.SliceStable(instances, func(i, j int) bool {
		if instances[i].CreatedAt.Equal(instances[j].CreatedAt) {
			return instances[i].ID < instances[j].ID
		}
		return instances[i].CreatedAt.Before(instances[j].CreatedAt)
	})
	return instances, nil
}

// Wait blocks until the instance reaches a terminal status or ctx ends.
func (e *Engine) Wait(ctx context.Context, id string) (*Instance, error) {
	for {
		ch := e.subscribe(id)
		inst, err := e.Status(ctx, id)
		if err != nil {
			e.unsubscribe(id, ch)
			return nil, err
		}
		if inst.Status.Terminal() {
			e.unsubscribe(id, ch)
			return inst, nil
		}
		select {
		case <-ctx.Done():
			e.unsubscribe(id, ch)
			return inst, ctx.Err()
		case <-ch:
		case <-time.After(250 * time.Millisecond):
			e.unsubscribe(id, ch)
		}
	}
}

// Start launches the worker pool and, unless disabled, re-enqueues instances
// left pending or running by a previous process.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New("engine already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true
	e.wg.Add(e.workers)
	e.mu.Unlock()

	for i := 0; i < e.workers; i++ {
		go e.worker(runCtx)
	}

	if e.resume {
		if err := e.resumeUnfinished(runCtx); err != nil {
			e.logger.Warn("resume of unfinished instances failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "engine_resume_failed"),
				logging.String(logging.FieldErrorHint, "check state store access"),
			)
		}
	}
	return nil
}

// Stop cancels running instances and waits for workers to exit. Interrupted
// instances stay running in the store and resume on the next Start.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	cancel := e.cancel
	e.running = false
	e.cancel = nil
	e.mu.Unlock()

	cancel()
	e.wg.Wait()

	e.mu.Lock()
	e.ready = nil
	e.inflight = make(map[string]bool)
	e.mu.Unlock()
}

func (e *Engine) resumeUnfinished(ctx context.Context) error {
	instances, err := e.List(ctx)
	if err != nil {
		return err
	}
	resumed := 0
	for _, inst := range instances {
		if inst.Status.Terminal() {
			continue
		}
		e.enqueue(inst.ID)
		resumed++
	}
	if resumed > 0 {
		e.logger.Info("resuming unfinished instances",
			logging.Int("count", resumed),
			logging.String(logging.FieldEventType, "engine_resume"),
		)
	}
	return nil
}

// enqueue queues id unless it is already queued or running. An id enqueued
// while it runs is queued again once the current run returns.
func (e *Engine) enqueue(id string) {
	e.mu.Lock()
	if _, ok := e.inflight[id]; ok {
		e.inflight[id] = true
		e.mu.Unlock()
		return
	}
	e.inflight[id] = false
	e.ready = append(e.ready, id)
	e.mu.Unlock()
	e.signal()
}

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) next() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.ready) == 0 {
		return "", false
	}
	id := e.ready[0]
	e.ready = e.ready[1:]
	if len(e.ready) > 0 {
		e.signal()
	}
	return id, true
}

func (e *Engine) worker(ctx context.Context) {
	defer e.wg.Done()
	for {
		id, ok := e.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-e.wake:
				continue
			}
		}
		if ctx.Err() != nil {
			return
		}
		e.execute(ctx, id)
		e.mu.Lock()
		again := e.inflight[id]
		delete(e.inflight, id)
		e.mu.Unlock()
		if again && ctx.Err() == nil {
			e.enqueue(id)
		}
	}
}

func (e *Engine) execute(ctx context.Context, id string) {
	logger := e.logger.With(logging.String(logging.FieldInstanceID, id))
	inst, err := e.Status(ctx, id)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("failed to load instance",
				logging.Error(err),
				logging.String(logging.FieldEventType, "instance_load_failed"),
				logging.String(logging.FieldErrorHint, "check state store access"),
			)
		}
		return
	}
	if inst.Status.Terminal() {
		e.notify(id)
		return
	}
	fn, ok := e.orchestrator(inst.Name)
	if !ok {
		e.finish(ctx, logger, inst, nil, services.Wrap(services.ErrConfiguration, engineStage, "run", fmt.Sprintf("orchestrator %q is not registered", inst.Name), nil), "")
		return
	}

	resumed := len(inst.History) > 0 || inst.Status == StatusRunning
	inst.Status = StatusRunning
	inst.UpdatedAt = e.now().UTC()
	if err := e.save(ctx, inst); err != nil {
		logger.Error("failed to mark instance running", logging.Error(err))
		return
	}
	logger.Info("instance started",
		logging.String(logging.FieldEventType, "instance_start"),
		logging.String("orchestrator", inst.Name),
		logging.Bool("resumed", resumed),
		logging.Int("recorded_steps", len(inst.History)),
	)

	octx := newOrchestrationContext(ctx, e, inst)
	output, runErr := runOrchestrator(fn, octx, Payload(inst.Input))
	if ctx.Err() != nil {
		logger.Debug("instance interrupted by shutdown", logging.Int("recorded_steps", len(inst.History)))
		return
	}
	e.finish(ctx, logger, inst, output, runErr, octx.failedStage)
}

func runOrchestrator(fn OrchestratorFunc, octx *OrchestrationContext, input Payload) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = services.Wrap(services.ErrPermanent, engineStage, "run", fmt.Sprintf("orchestrator panic: %v", r), nil)
		}
	}()
	return fn(octx, input)
}

func (e *Engine) finish(ctx context.Context, logger *slog.Logger, inst *Instance, output any, runErr error, failedStage string) {
	inst.UpdatedAt = e.now().UTC()
	if runErr == nil {
		raw, err := encode(output)
		if err != nil {
			runErr = services.Wrap(services.ErrPermanent, engineStage, "run", "encode output", err)
		} else {
			inst.Status = StatusCompleted
			inst.Output = raw
		}
	}
	if runErr != nil {
		inst.Status = StatusFailed
		inst.Error = runErr.Error()
		inst.FailedStage = failedStage
	}
	if err := e.save(ctx, inst); err != nil {
		logger.Error("failed to persist instance result", logging.Error(err))
		return
	}
	e.notify(inst.ID)

	if runErr != nil {
		logger.Error("instance failed",
			logging.String(logging.FieldEventType, "instance_failed"),
			logging.String(logging.FieldStep, failedStage),
			logging.String(logging.FieldErrorKind, services.FailureKind(runErr)),
			logging.Error(runErr),
		)
		return
	}
	logger.Info("instance completed",
		logging.String(logging.FieldEventType, "instance_complete"),
		logging.Int("steps", len(inst.History)),
		logging.Duration("elapsed", inst.UpdatedAt.Sub(inst.CreatedAt)),
	)
}

func (e *Engine) save(ctx context.Context, inst *Instance) error {
	value, err := marshalInstance(inst)
	if err != nil {
		return services.Wrap(services.ErrPermanent, engineStage, "persist", inst.ID, err)
	}
	if err := e.store.Set(ctx, InstanceKeyPrefix+inst.ID, value); err != nil {
		return services.Wrap(services.ErrTransient, engineStage, "persist", inst.ID, err)
	}
	return nil
}

func (e *Engine) subscribe(id string) chan struct{} {
	ch := make(chan struct{})
	e.mu.Lock()
	e.waiters[id] = append(e.waiters[id], ch)
	e.mu.Unlock()
	return ch
}

func (e *Engine) unsubscribe(id string, ch chan struct{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := e.waiters[id]
	for i, candidate := range list {
		if candidate == ch {
			e.waiters[id] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(e.waiters[id]) == 0 {
		delete(e.waiters, id)
	}
}

func (e *Engine) notify(id string) {
	e.mu.Lock()
	list := e.waiters[id]
	delete(e.waiters, id)
	e.mu.Unlock()
	for _, ch := range list {
		close(ch)
	}
}
