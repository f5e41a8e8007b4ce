package schedule

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"voice2action/internal/logging"
	"voice2action/internal/pipeline"
	"voice2action/internal/services"
	"voice2action/internal/statestore"
)

type fakeStarter struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeStarter) Schedule(_ context.Context, name, id string, input any) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", false, f.err
	}
	if _, ok := input.(pipeline.RunConfig); !ok {
		return "", false, errors.New("unexpected input type")
	}
	f.calls = append(f.calls, name+"|"+id)
	return id, true, nil
}

func (f *fakeStarter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func localRun(t *testing.T) pipeline.RunConfig {
	base := t.TempDir()
	return pipeline.RunConfig{
		OfflineMode:    true,
		InboxFolder:    filepath.Join(base, "in"),
		ArchiveFolder:  filepath.Join(base, "done"),
		DownloadFolder: filepath.Join(base, "work"),
	}
}

func mustPayload(t *testing.T, run pipeline.RunConfig) []byte {
	payload, err := EncodePayload(run)
	require.NoError(t, err)
	return payload
}

func TestOnTickStartsOncePerMessage(t *testing.T) {
	store := statestore.NewMemory()
	starter := &fakeStarter{}
	d := NewDispatcher(store, starter, logging.NewNop())
	payload := mustPayload(t, localRun(t))

	first := d.OnTick(context.Background(), "m-1", payload)
	require.Equal(t, OutcomeStarted, first.Outcome)
	require.Equal(t, pipeline.PollInstanceID("m-1"), first.InstanceID)

	again := d.OnTick(context.Background(), "m-1", payload)
	require.Equal(t, OutcomeDuplicate, again.Outcome)
	require.Equal(t, first.InstanceID, again.InstanceID)
	require.True(t, again.Outcome.Acknowledged())

	other := d.OnTick(context.Background(), "m-2", payload)
	require.Equal(t, OutcomeStarted, other.Outcome)
	require.Equal(t, 2, starter.count())

	value, ok, err := store.Get(context.Background(), EventPrefix+"m-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, pipeline.PollInstanceID("m-1"), value)
}

func TestOnTickRejectsMalformedPayload(t *testing.T) {
	d := NewDispatcher(statestore.NewMemory(), &fakeStarter{}, logging.NewNop())

	tests := []struct {
		name      string
		messageID string
		payload   string
	}{
		{"missing message id", "", `{}`},
		{"not json", "m", `not-json`},
		{"missing folder", "m", `{"offline_mode":true,"inbox_folder":"in","download_folder":"w"}`},
		{"unknown field", "m", `{"offline_mode":true,"inbox_folder":"in","archive_folder":"a","download_folder":"w","extra":1}`},
		{"empty folder", "m", `{"offline_mode":false,"inbox_folder":"","archive_folder":"a","download_folder":"w"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := d.OnTick(context.Background(), tc.messageID, []byte(tc.payload))
			require.Equal(t, OutcomeRejected, result.Outcome)
			require.NotEmpty(t, result.Error)
			require.True(t, result.Outcome.Acknowledged())
		})
	}
}

func TestOnTickRequestsRetryWhenStartFails(t *testing.T) {
	store := statestore.NewMemory()
	starter := &fakeStarter{err: services.Wrap(services.ErrTransient, "durable", "schedule", "store down", nil)}
	d := NewDispatcher(store, starter, logging.NewNop())
	payload := mustPayload(t, localRun(t))

	result := d.OnTick(context.Background(), "m-1", payload)
	require.Equal(t, OutcomeRetry, result.Outcome)
	require.False(t, result.Outcome.Acknowledged())

	_, ok, err := store.Get(context.Background(), EventPrefix+"m-1")
	require.NoError(t, err)
	require.False(t, ok, "failed tick must not be recorded")

	starter.err = nil
	require.Equal(t, OutcomeStarted, d.OnTick(context.Background(), "m-1", payload).Outcome)
}

func TestSweepHonoursRetention(t *testing.T) {
	store := statestore.NewMemory()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return base })
	d := NewDispatcher(store, &fakeStarter{}, logging.NewNop())
	payload := mustPayload(t, localRun(t))
	require.Equal(t, OutcomeStarted, d.OnTick(context.Background(), "old", payload).Outcome)

	store.SetClock(func() time.Time { return base.Add(3 * time.Hour) })
	require.Equal(t, OutcomeStarted, d.OnTick(context.Background(), "new", payload).Outcome)

	d.now = func() time.Time { return base.Add(4 * time.Hour) }
	removed, err := d.Sweep(context.Background(), 0)
	require.NoError(t, err)
	require.Zero(t, removed)

	removed, err = d.Sweep(context.Background(), 2*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	entries, err := store.List(context.Background(), EventPrefix)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, EventPrefix+"new", entries[0].Key)
}

type scriptedHandler struct {
	mu       sync.Mutex
	outcomes []Outcome
	ids      []string
}

func (s *scriptedHandler) OnTick(_ context.Context, messageID string, _ []byte) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, messageID)
	outcome := OutcomeStarted
	if len(s.outcomes) > 0 {
		outcome = s.outcomes[0]
		s.outcomes = s.outcomes[1:]
	}
	return Result{Outcome: outcome, MessageID: messageID}
}

func TestProducerRedeliversWithSameMessageID(t *testing.T) {
	handler := &scriptedHandler{outcomes: []Outcome{OutcomeRetry, OutcomeRetry, OutcomeStarted}}
	run := localRun(t)
	p := NewProducer(handler, run, ProducerConfig{RedeliveryDelay: time.Millisecond, MaxRedeliveries: 3}, logging.NewNop())
	p.newID = func() string { return "fixed" }

	result := p.Tick(context.Background())
	require.Equal(t, OutcomeStarted, result.Outcome)
	require.Equal(t, []string{"fixed", "fixed", "fixed"}, handler.ids)

	for _, dir := range []string{run.InboxFolder, run.ArchiveFolder, run.DownloadFolder} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		require.True(t, info.IsDir())
	}
}

func TestProducerGivesUpAfterMaxRedeliveries(t *testing.T) {
	handler := &scriptedHandler{outcomes: []Outcome{OutcomeRetry, OutcomeRetry, OutcomeRetry}}
	p := NewProducer(handler, localRun(t), ProducerConfig{RedeliveryDelay: time.Millisecond, MaxRedeliveries: 1}, logging.NewNop())

	result := p.Tick(context.Background())
	require.Equal(t, OutcomeRetry, result.Outcome)
	require.Len(t, handler.ids, 2)
}

func TestProducerRunTicksOnTrigger(t *testing.T) {
	handler := &scriptedHandler{}
	p := NewProducer(handler, localRun(t), ProducerConfig{Interval: time.Hour, InitialDelay: time.Hour}, logging.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	p.Trigger()
	require.Eventually(t, func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return len(handler.ids) == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestProducerEmitsDistinctMessageIDs(t *testing.T) {
	store := statestore.NewMemory()
	starter := &fakeStarter{}
	p := NewProducer(NewDispatcher(store, starter, logging.NewNop()), localRun(t), ProducerConfig{}, logging.NewNop())

	require.Equal(t, OutcomeStarted, p.Tick(context.Background()).Outcome)
	require.Equal(t, OutcomeStarted, p.Tick(context.Background()).Outcome)
	require.Equal(t, 2, starter.count())
}
