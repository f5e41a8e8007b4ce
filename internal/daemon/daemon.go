package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"voice2action/internal/api"
	"voice2action/internal/config"
	"voice2action/internal/credentials"
	"voice2action/internal/durable"
	"voice2action/internal/inbox"
	"voice2action/internal/logging"
	"voice2action/internal/pipeline"
	"voice2action/internal/publish"
	"voice2action/internal/schedule"
	"voice2action/internal/statestore"
	"voice2action/internal/tracker"
	"voice2action/internal/transcription"
)

const watchDebounce = 2 * time.Second

// Option customizes daemon construction.
type Option func(*options)

type options struct {
	provider    inbox.Provider
	transcriber transcription.Transcriber
}

// WithProvider replaces the inbox provider built from config.
func WithProvider(p inbox.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithTranscriber replaces the HTTP transcription client.
func WithTranscriber(t transcription.Transcriber) Option {
	return func(o *options) { o.transcriber = t }
}

// Daemon coordinates the background services and enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	store  statestore.Store

	creds      *credentials.Manager
	tracker    *tracker.Tracker
	outbox     *publish.Outbox
	relay      *publish.Relay
	engine     *durable.Engine
	dispatcher *schedule.Dispatcher
	producer   *schedule.Producer
	watcher    *schedule.Watcher
	api        *api.Server

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Offline      bool
	LockFilePath string
	APIAddress   string
	Instances    map[durable.Status]int
	Outbox       int
	DeadLetters  int
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store statestore.Store, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("daemon requires config and state store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}

	provider := o.provider
	if !cfg.Offline() {
		creds, err := credentials.NewManager(cfg.Graph, store, credentials.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("credential manager: %w", err)
		}
		d.creds = creds
		if provider == nil {
			provider = inbox.NewGraphProvider(cfg.Graph.BaseURL, creds,
				time.Duration(cfg.Graph.RequestTimeout)*time.Second,
				inbox.WithGraphLogger(logger))
		}
	} else if provider == nil {
		provider = inbox.NewLocalProvider(logger)
	}

	transcriber := o.transcriber
	if transcriber == nil {
		transcriber = transcription.NewClient(transcription.Config{
			URL:            cfg.Transcription.URL,
			APIKey:         cfg.Transcription.APIKey,
			Model:          cfg.Transcription.Model,
			TimeoutSeconds: cfg.Transcription.TimeoutSeconds,
		}, transcription.WithLogger(logger))
	}

	d.tracker = tracker.New(store, logger)
	d.outbox = publish.NewOutbox(store, cfg.Publish.Topic, logger)
	d.relay = publish.NewRelay(d.outbox, publish.RelayConfig{
		WebhookURL:  cfg.Publish.WebhookURL,
		Interval:    time.Duration(cfg.Publish.RelayInterval) * time.Second,
		Timeout:     time.Duration(cfg.Publish.TimeoutSeconds) * time.Second,
		MaxAttempts: cfg.Publish.MaxAttempts,
	}, logger)

	d.engine = durable.NewEngine(store,
		durable.WithWorkers(cfg.Workflow.Workers),
		durable.WithDefaultRetryPolicy(DefaultPolicy(cfg.Workflow)),
		durable.WithResume(cfg.Workflow.ResumeOnStart),
		durable.WithLogger(logger),
	)
	pipeline.New(pipeline.Deps{
		Offline:     cfg.Offline(),
		Provider:    provider,
		Tracker:     d.tracker,
		Transcriber: transcriber,
		Publisher:   d.outbox,
		Logger:      logger,
	}).Register(d.engine, Policies(cfg))

	d.dispatcher = schedule.NewDispatcher(store, d.engine, logger)
	d.producer = schedule.NewProducer(d.dispatcher, pipeline.RunConfigFromConfig(cfg), schedule.ProducerConfig{
		Interval:        time.Duration(cfg.Schedule.PollInterval) * time.Second,
		InitialDelay:    time.Duration(cfg.Schedule.InitialDelay) * time.Second,
		RedeliveryDelay: 2 * time.Second,
		MaxRedeliveries: 3,
		Retention:       time.Duration(cfg.Schedule.DedupRetentionHours) * time.Hour,
	}, logger)
	if cfg.Offline() && cfg.Inbox.WatchLocal {
		d.watcher = schedule.NewWatcher(cfg.InboxFolder(), watchDebounce, d.producer.Trigger, logger)
	}

	if cfg.API.Enabled {
		deps := api.Dependencies{
			Ticks:     d.dispatcher,
			Instances: d.engine,
			Files:     d.tracker,
			Token:     cfg.API.Token,
			Logger:    logger,
		}
		if d.creds != nil {
			deps.Consent = d.creds
		}
		d.api = api.NewServer(cfg.API.Bind, deps)
	}
	return d, nil
}

// DefaultPolicy converts the workflow section into the engine retry policy.
func DefaultPolicy(cfg config.Workflow) durable.RetryPolicy {
	return durable.RetryPolicy{
		MaxAttempts:    cfg.StepMaxAttempts,
		InitialBackoff: time.Duration(cfg.StepInitialBackoffMS) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.StepMaxBackoffMS) * time.Millisecond,
	}
}

// Policies returns per-activity overrides. Transcription attempts get the
// transcription timeout as their deadline.
func Policies(cfg *config.Config) pipeline.Policies {
	transcribe := DefaultPolicy(cfg.Workflow)
	if cfg.Transcription.TimeoutSeconds > 0 {
		transcribe.Timeout = time.Duration(cfg.Transcription.TimeoutSeconds) * time.Second
	}
	return pipeline.Policies{pipeline.ActivityTranscribe: transcribe}
}

// Start acquires the daemon lock and launches the engine and tick sources.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another voice2action daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.engine.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start engine: %w", err)
	}
	if d.api != nil {
		if err := d.api.Start(runCtx); err != nil {
			cancel()
			d.engine.Stop()
			_ = d.lock.Unlock()
			return fmt.Errorf("start api: %w", err)
		}
	}
	d.cancel = cancel

	if d.cfg.Schedule.Enabled {
		d.goRun(func() { _ = d.producer.Run(runCtx) })
	}
	if d.watcher != nil {
		d.goRun(func() {
			if err := d.watcher.Run(runCtx); err != nil {
				logging.WarnWithContext(d.logger, "local inbox watcher stopped", "watcher_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "recordings are picked up on the next scheduled tick"),
				)
			}
		})
	}
	d.goRun(func() { d.relay.Run(runCtx) })

	d.running.Store(true)
	d.logger.Info("voice2action daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.Bool("offline_mode", d.cfg.Offline()),
		logging.String("inbox", d.cfg.InboxFolder()),
		logging.Bool("schedule_enabled", d.cfg.Schedule.Enabled),
		logging.Bool("watcher", d.watcher != nil),
		logging.Bool("relay", d.relay.Enabled()),
	)
	return nil
}

func (d *Daemon) goRun(fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn()
	}()
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	if d.api != nil {
		d.api.Stop()
	}
	d.engine.Stop()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "lock_release_failed", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("voice2action daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Engine exposes the orchestration engine.
func (d *Daemon) Engine() *durable.Engine { return d.engine }

// Dispatcher exposes the tick dispatcher.
func (d *Daemon) Dispatcher() *schedule.Dispatcher { return d.dispatcher }

// Tracker exposes the inbox tracker.
func (d *Daemon) Tracker() *tracker.Tracker { return d.tracker }

// Credentials returns the credential manager, or nil in local mode.
func (d *Daemon) Credentials() *credentials.Manager { return d.creds }

// Trigger requests an immediate tick.
func (d *Daemon) Trigger() { d.producer.Trigger() }

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) (Status, error) {
	status := Status{
		Running:      d.running.Load(),
		Offline:      d.cfg.Offline(),
		LockFilePath: d.lockPath,
		Instances:    make(map[durable.Status]int),
	}
	if d.api != nil {
		status.APIAddress = d.api.Addr()
	}
	instances, err := d.engine.List(ctx)
	if err != nil {
		return status, err
	}
	for _, inst := range instances {
		status.Instances[inst.Status]++
	}
	pending, err := d.outbox.Pending(ctx)
	if err != nil {
		return status, err
	}
	dead, err := d.outbox.Dead(ctx)
	if err != nil {
		return status, err
	}
	status.Outbox = len(pending)
	status.DeadLetters = len(dead)
	return status, nil
}
