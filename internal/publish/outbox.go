package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"voice2action/internal/logging"
	"voice2action/internal/services"
	"voice2action/internal/statestore"
)

// Outbox key prefixes.
const (
	OutboxPrefix = "publish_outbox:"
	DeadPrefix   = "publish_dead:"

	defaultTopic = "IntentOrchestrator"
)

var envelopeNamespace = uuid.MustParse("3f1c8b9e-6a52-4c1e-9b7d-2d5f0c4e8a11")

// Publisher accepts intents for delivery.
type Publisher interface {
	Publish(ctx context.Context, intent Intent) (Receipt, error)
}

// Outbox persists intents in the state store until the relay delivers them.
type Outbox struct {
	store  statestore.Store
	topic  string
	now    func() time.Time
	logger *slog.Logger
}

// NewOutbox constructs an outbox publishing to topic.
func NewOutbox(store statestore.Store, topic string, logger *slog.Logger) *Outbox {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		topic = defaultTopic
	}
	return &Outbox{store: store, topic: topic, now: time.Now, logger: logging.NewComponentLogger(logger, "outbox")}
}

// EnvelopeID derives the outbox id for one run of a correlation id, so a
// retried publish finds its own entry instead of adding a second one.
func EnvelopeID(correlationID, run string) string {
	return uuid.NewSHA1(envelopeNamespace, []byte(correlationID+"\x00"+run)).String()
}

// Publish enqueues intent. The returned receipt is the delivery acknowledgement.
func (o *Outbox) Publish(ctx context.Context, intent Intent) (Receipt, error) {
	if err := intent.Validate(); err != nil {
		return Receipt{}, err
	}
	id := EnvelopeID(intent.CorrelationID, intent.Run)
	_, exists, err := o.store.Get(ctx, OutboxPrefix+id)
	if err != nil {
		return Receipt{}, services.Wrap(services.ErrTransient, "publish", "enqueue", id, err)
	}
	if exists {
		return Receipt{ID: id, Topic: o.topic}, nil
	}
	now := o.now().UTC()
	env := Envelope{
		ID:            id,
		Topic:         o.topic,
		Intent:        intent,
		Action:        NewTriggerAction(intent),
		EnqueuedAt:    now,
		NextAttemptAt: now,
	}
	if err := o.put(ctx, OutboxPrefix, env); err != nil {
		return Receipt{}, err
	}
	logging.WithContext(ctx, o.logger).Info("intent enqueued",
		logging.String(logging.FieldEventType, "intent_enqueued"),
		logging.String(logging.FieldCorrelationID, intent.CorrelationID),
		logging.String("envelope_id", env.ID),
		logging.String("topic", env.Topic),
	)
	return Receipt{ID: env.ID, Topic: env.Topic}, nil
}

// Pending lists undelivered entries ordered by enqueue time.
func (o *Outbox) Pending(ctx context.Context) ([]Envelope, error) {
	return o.list(ctx, OutboxPrefix)
}

// Dead lists entries the relay gave up on.
func (o *Outbox) Dead(ctx context.Context) ([]Envelope, error) {
	return o.list(ctx, DeadPrefix)
}

func (o *Outbox) list(ctx context.Context, prefix string) ([]Envelope, error) {
	entries, err := o.store.List(ctx, prefix)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "publish", "list", prefix, err)
	}
	out := make([]Envelope, 0, len(entries))
	for _, entry := range entries {
		var env Envelope
		if err := json.Unmarshal([]byte(entry.Value), &env); err != nil {
			o.logger.Warn("skipping unreadable outbox entry",
				logging.String("key", entry.Key),
				logging.Error(err),
				logging.String(logging.FieldEventType, "outbox_decode_failed"),
			)
			continue
		}
		out = append(out, env)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EnqueuedAt.Before(out[j].EnqueuedAt) })
	return out, nil
}

func (o *Outbox) put(ctx context.Context, prefix string, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return services.Wrap(services.ErrPermanent, "publish", "encode", env.ID, err)
	}
	if err := o.store.Set(ctx, prefix+env.ID, string(data)); err != nil {
		return services.Wrap(services.ErrTransient, "publish", "enqueue", env.ID, err)
	}
	return nil
}

// remove deletes the pending entry for env unless it was re-enqueued after
// env was read, in which case the newer entry is left for the next pass.
func (o *Outbox) remove(ctx context.Context, env Envelope) (bool, error) {
	key := OutboxPrefix + env.ID
	value, ok, err := o.store.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("read outbox entry %s: %w", env.ID, err)
	}
	if !ok {
		return true, nil
	}
	var current Envelope
	if err := json.Unmarshal([]byte(value), &current); err == nil && !current.EnqueuedAt.Equal(env.EnqueuedAt) {
		return false, nil
	}
	if err := o.store.Delete(ctx, key); err != nil {
		return false, fmt.Errorf("remove outbox entry %s: %w", env.ID, err)
	}
	return true, nil
}
