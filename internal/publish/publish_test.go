package publish

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"voice2action/internal/services"
	"voice2action/internal/statestore"
)

func sampleIntent() Intent {
	return Intent{
		CorrelationID:     "sample.wav",
		TranscriptionText: "remind me to call",
		TranscriptionPath: "/work/sample.json",
		AudioPath:         "/work/sample.wav",
		FileName:          "sample.wav",
	}
}

func TestPublishEnqueuesOncePerRun(t *testing.T) {
	ctx := context.Background()
	store := statestore.NewMemory()
	outbox := NewOutbox(store, "", nil)

	first, err := outbox.Publish(ctx, sampleIntent())
	require.NoError(t, err)
	require.Equal(t, "IntentOrchestrator", first.Topic)
	second, err := outbox.Publish(ctx, sampleIntent())
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	pending, err := outbox.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	env := pending[0]
	require.Equal(t, "sample.wav", env.Action.WorkflowInstanceID)
	require.Contains(t, env.Action.Task, "[/work/sample.json]")
	require.Equal(t, "sample.wav", env.Action.Metadata["file_name"])

	again := sampleIntent()
	again.Run = "second-run"
	third, err := outbox.Publish(ctx, again)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, third.ID)
	pending, err = outbox.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
}

func TestRetriedPublishKeepsDeliveryState(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	outbox := NewOutbox(statestore.NewMemory(), "", nil)
	outbox.now = func() time.Time { return now }
	_, err := outbox.Publish(ctx, sampleIntent())
	require.NoError(t, err)

	now = now.Add(time.Minute)
	_, err = outbox.Publish(ctx, sampleIntent())
	require.NoError(t, err)
	pending, err := outbox.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.True(t, now.Add(-time.Minute).Equal(pending[0].EnqueuedAt))
}

func TestPublishValidatesIntent(t *testing.T) {
	outbox := NewOutbox(statestore.NewMemory(), "", nil)
	_, err := outbox.Publish(context.Background(), Intent{TranscriptionText: "x"})
	require.ErrorIs(t, err, services.ErrValidation)
	_, err = outbox.Publish(context.Background(), Intent{CorrelationID: "x"})
	require.ErrorIs(t, err, services.ErrValidation)
}

func TestRelayDeliversAndRemoves(t *testing.T) {
	var got TriggerAction
	var ceType, ceID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ceType = r.Header.Get("ce-type")
		ceID = r.Header.Get("ce-id")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	ctx := context.Background()
	outbox := NewOutbox(statestore.NewMemory(), "", nil)
	receipt, err := outbox.Publish(ctx, sampleIntent())
	require.NoError(t, err)

	relay := NewRelay(outbox, RelayConfig{WebhookURL: server.URL}, nil)
	stats, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, RelayStats{Delivered: 1}, stats)
	require.Equal(t, "TriggerAction", ceType)
	require.Equal(t, receipt.ID, ceID)
	require.Equal(t, "sample.wav", got.WorkflowInstanceID)

	pending, err := outbox.Pending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestRelayBacksOffThenParksEntries(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusServiceUnavailable)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer server.Close()

	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	outbox := NewOutbox(statestore.NewMemory(), "", nil)
	outbox.now = func() time.Time { return now }
	_, err := outbox.Publish(ctx, sampleIntent())
	require.NoError(t, err)

	relay := NewRelay(outbox, RelayConfig{WebhookURL: server.URL, MaxAttempts: 2, BaseBackoff: time.Minute, MaxBackoff: time.Hour}, nil)
	stats, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, RelayStats{Deferred: 1}, stats)

	pending, err := outbox.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.True(t, now.Add(time.Minute).Equal(pending[0].NextAttemptAt))
	require.True(t, strings.Contains(pending[0].LastError, "503"))

	// Not yet due.
	stats, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, RelayStats{}, stats)

	now = now.Add(2 * time.Minute)
	stats, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, RelayStats{Dead: 1}, stats)
	dead, err := outbox.Dead(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	require.Equal(t, 2, dead[0].Attempts)
}

func TestRelayParksPermanentFailuresImmediately(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	ctx := context.Background()
	outbox := NewOutbox(statestore.NewMemory(), "", nil)
	_, err := outbox.Publish(ctx, sampleIntent())
	require.NoError(t, err)

	stats, err := NewRelay(outbox, RelayConfig{WebhookURL: server.URL}, nil).RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, RelayStats{Dead: 1}, stats)
}

func TestDisabledRelayLeavesOutbox(t *testing.T) {
	ctx := context.Background()
	outbox := NewOutbox(statestore.NewMemory(), "", nil)
	_, err := outbox.Publish(ctx, sampleIntent())
	require.NoError(t, err)
	relay := NewRelay(outbox, RelayConfig{}, nil)
	require.False(t, relay.Enabled())
	stats, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, RelayStats{}, stats)
	pending, err := outbox.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestRelayKeepsEntryReplacedDuringDelivery(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	outbox := NewOutbox(statestore.NewMemory(), "", nil)
	outbox.now = func() time.Time { return now }
	receipt, err := outbox.Publish(ctx, sampleIntent())
	require.NoError(t, err)

	replaced := Envelope{
		ID:            receipt.ID,
		Topic:         receipt.Topic,
		Intent:        sampleIntent(),
		Action:        NewTriggerAction(sampleIntent()),
		EnqueuedAt:    now.Add(time.Second),
		NextAttemptAt: now.Add(time.Second),
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := outbox.put(r.Context(), OutboxPrefix, replaced); err != nil {
			t.Errorf("replace entry: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	stats, err := NewRelay(outbox, RelayConfig{WebhookURL: server.URL}, nil).RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, RelayStats{Delivered: 1}, stats)

	pending, err := outbox.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.True(t, replaced.EnqueuedAt.Equal(pending[0].EnqueuedAt))
}
