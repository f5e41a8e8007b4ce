package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"voice2action/internal/logging"
	"voice2action/internal/services"
)

// RelayConfig holds webhook delivery settings.
type RelayConfig struct {
	WebhookURL  string
	Interval    time.Duration
	Timeout     time.Duration
	MaxAttempts int
	// BaseBackoff is doubled per failed attempt, capped at MaxBackoff.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Relay delivers outbox entries to a webhook as CloudEvents.
type Relay struct {
	outbox *Outbox
	cfg    RelayConfig
	client *http.Client
	logger *slog.Logger
}

// RelayOption customizes a Relay.
type RelayOption func(*Relay)

// WithRelayHTTPClient overrides the HTTP client.
func WithRelayHTTPClient(client *http.Client) RelayOption {
	return func(r *Relay) {
		if client != nil {
			r.client = client
		}
	}
}

// NewRelay constructs a relay draining outbox.
func NewRelay(outbox *Outbox, cfg RelayConfig, logger *slog.Logger, opts ...RelayOption) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 2 * time.Second
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = 5 * time.Minute
	}
	r := &Relay{
		outbox: outbox,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logging.NewComponentLogger(logger, "relay"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Enabled reports whether a webhook is configured.
func (r *Relay) Enabled() bool {
	return strings.TrimSpace(r.cfg.WebhookURL) != ""
}

// Run drains the outbox every interval until ctx ends.
func (r *Relay) Run(ctx context.Context) {
	if !r.Enabled() {
		r.logger.Info("intent relay disabled; entries stay in the outbox",
			logging.String(logging.FieldEventType, "relay_disabled"),
			logging.String(logging.FieldErrorHint, "set publish.webhook_url to deliver intents"),
		)
		return
	}
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("relay pass failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "relay_failed"),
				logging.String(logging.FieldErrorHint, "check state store access"),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RelayStats summarizes one pass.
type RelayStats struct {
	Delivered int
	Deferred  int
	Dead      int
}

// RunOnce attempts every due entry once.
func (r *Relay) RunOnce(ctx context.Context) (RelayStats, error) {
	var stats RelayStats
	if !r.Enabled() {
		return stats, nil
	}
	pending, err := r.outbox.Pending(ctx)
	if err != nil {
		return stats, err
	}
	now := r.outbox.now().UTC()
	for _, env := range pending {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if env.NextAttemptAt.After(now) {
			continue
		}
		logger := r.logger.With(
			logging.String(logging.FieldCorrelationID, env.Intent.CorrelationID),
			logging.String("envelope_id", env.ID),
		)
		deliverErr := r.deliver(ctx, env)
		if deliverErr == nil {
			removed, err := r.outbox.remove(ctx, env)
			if err != nil {
				return stats, err
			}
			if !removed {
				logger.Debug("outbox entry re-enqueued during delivery; keeping it")
			}
			stats.Delivered++
			logger.Info("intent delivered",
				logging.String(logging.FieldEventType, "intent_delivered"),
				logging.Int("attempts", env.Attempts+1),
			)
			continue
		}

		env.Attempts++
		env.LastError = deliverErr.Error()
		if !services.Retryable(deliverErr) || env.Attempts >= r.cfg.MaxAttempts {
			if err := r.outbox.put(ctx, DeadPrefix, env); err != nil {
				return stats, err
			}
			if _, err := r.outbox.remove(ctx, env); err != nil {
				return stats, err
			}
			stats.Dead++
			logger.Error("intent delivery abandoned",
				logging.String(logging.FieldEventType, "intent_dead"),
				logging.Int("attempts", env.Attempts),
				logging.String(logging.FieldErrorKind, services.FailureKind(deliverErr)),
				logging.String(logging.FieldErrorHint, "inspect the intent webhook; entry kept under "+DeadPrefix),
				logging.Error(deliverErr),
			)
			continue
		}
		env.NextAttemptAt = now.Add(r.backoff(env.Attempts))
		if err := r.outbox.put(ctx, OutboxPrefix, env); err != nil {
			return stats, err
		}
		stats.Deferred++
		logger.Warn("intent delivery failed; will retry",
			logging.String(logging.FieldEventType, "intent_deferred"),
			logging.Int("attempts", env.Attempts),
			logging.Any("next_attempt_at", env.NextAttemptAt),
			logging.Error(deliverErr),
		)
	}
	return stats, nil
}

func (r *Relay) backoff(attempts int) time.Duration {
	delay := r.cfg.BaseBackoff
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= r.cfg.MaxBackoff {
			return r.cfg.MaxBackoff
		}
	}
	return delay
}

func (r *Relay) deliver(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env.Action)
	if err != nil {
		return services.Wrap(services.ErrPermanent, "relay", "encode", env.ID, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "relay", "build request", "publish.webhook_url is invalid", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("ce-specversion", "1.0")
	req.Header.Set("ce-type", "TriggerAction")
	req.Header.Set("ce-source", "voice2action")
	req.Header.Set("ce-id", env.ID)
	req.Header.Set("ce-topic", env.Topic)

	resp, err := r.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "relay", "deliver", "webhook request failed", err)
	}
	defer resp.Body.Close()
	if marker := services.StatusMarker(resp.StatusCode); marker != nil {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return services.Wrap(marker, "relay", "deliver", fmt.Sprintf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))), nil)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
