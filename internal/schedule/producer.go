package schedule

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"voice2action/internal/logging"
	"voice2action/internal/pipeline"
)

// TickHandler receives delivered ticks.
type TickHandler interface {
	OnTick(ctx context.Context, messageID string, payload []byte) Result
}

// ProducerConfig controls tick timing and redelivery.
type ProducerConfig struct {
	Interval        time.Duration
	InitialDelay    time.Duration
	RedeliveryDelay time.Duration
	MaxRedeliveries int
	// Retention is passed to the dispatcher sweep. Zero disables sweeping.
	Retention     time.Duration
	SweepInterval time.Duration
}

func (c ProducerConfig) withDefaults() ProducerConfig {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.RedeliveryDelay <= 0 {
		c.RedeliveryDelay = time.Second
	}
	if c.MaxRedeliveries < 0 {
		c.MaxRedeliveries = 0
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Hour
	}
	return c
}

// Producer emits ticks carrying the run configuration. Every tick gets a
// fresh message id; a tick the handler asks to retry is redelivered with the
// same id.
type Producer struct {
	handler TickHandler
	sweeper *Dispatcher
	run     pipeline.RunConfig
	cfg     ProducerConfig
	logger  *slog.Logger
	trigger chan struct{}
	newID   func() string
}

// NewProducer constructs a producer delivering to handler. When the handler
// is a *Dispatcher, Run also sweeps expired dedup records.
func NewProducer(handler TickHandler, run pipeline.RunConfig, cfg ProducerConfig, logger *slog.Logger) *Producer {
	p := &Producer{
		handler: handler,
		run:     run,
		cfg:     cfg.withDefaults(),
		logger:  logging.NewComponentLogger(logger, "ticker"),
		trigger: make(chan struct{}, 1),
		newID:   uuid.NewString,
	}
	if d, ok := handler.(*Dispatcher); ok {
		p.sweeper = d
	}
	return p
}

// Trigger requests an immediate tick. Requests made while one is pending
// coalesce.
func (p *Producer) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Run emits ticks until ctx is cancelled.
func (p *Producer) Run(ctx context.Context) error {
	p.logger.Info("tick producer started",
		logging.String(logging.FieldEventType, "ticker_started"),
		logging.Duration("interval", p.cfg.Interval),
		logging.Duration("initial_delay", p.cfg.InitialDelay),
	)
	timer := time.NewTimer(p.cfg.InitialDelay)
	defer timer.Stop()
	sweep := time.NewTicker(p.cfg.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			p.Tick(ctx)
			timer.Reset(p.cfg.Interval)
		case <-p.trigger:
			p.Tick(ctx)
		case <-sweep.C:
			p.sweep(ctx)
		}
	}
}

// Tick emits one tick and returns the final handler result.
func (p *Producer) Tick(ctx context.Context) Result {
	messageID := p.newID()
	logger := p.logger.With(logging.String(logging.FieldMessageID, messageID))
	if p.run.OfflineMode {
		for _, dir := range []string{p.run.InboxFolder, p.run.ArchiveFolder, p.run.DownloadFolder} {
			if dir == "" {
				continue
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				logging.WarnWithContext(logger, "local folder unavailable", "ticker_prepare_failed",
					logging.String("path", dir),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check permissions on the local inbox folders"),
				)
			}
		}
	}
	payload, err := EncodePayload(p.run)
	if err != nil {
		return Result{Outcome: OutcomeRejected, MessageID: messageID, Error: err.Error()}
	}

	var result Result
	for attempt := 0; ; attempt++ {
		result = p.handler.OnTick(ctx, messageID, payload)
		if result.Outcome.Acknowledged() || attempt >= p.cfg.MaxRedeliveries {
			break
		}
		select {
		case <-ctx.Done():
			return result
		case <-time.After(p.cfg.RedeliveryDelay):
		}
	}
	if !result.Outcome.Acknowledged() {
		logging.WarnWithContext(logger, "tick dropped after redelivery", "tick_dropped",
			logging.String("reason", result.Error),
			logging.String(logging.FieldImpact, "the next tick will retry the poll"),
		)
	}
	return result
}

func (p *Producer) sweep(ctx context.Context) {
	if p.sweeper == nil || p.cfg.Retention <= 0 {
		return
	}
	if _, err := p.sweeper.Sweep(ctx, p.cfg.Retention); err != nil {
		logging.WarnWithContext(p.logger, "tick record sweep failed", "tick_sweep_failed",
			logging.Error(err),
		)
	}
}
