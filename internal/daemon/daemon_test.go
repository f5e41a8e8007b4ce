package daemon_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"voice2action/internal/api"
	"voice2action/internal/daemon"
	"voice2action/internal/durable"
	"voice2action/internal/logging"
	"voice2action/internal/pipeline"
	"voice2action/internal/schedule"
	"voice2action/internal/testsupport"
	"voice2action/internal/transcription"
)

type cannedTranscriber struct{}

func (cannedTranscriber) Transcribe(context.Context, transcription.Request) (transcription.Result, error) {
	return transcription.Result{Text: "buy milk"}, nil
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	d, err := daemon.New(cfg, store, logging.NewNop(), daemon.WithTranscriber(cannedTranscriber{}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, d.Start(ctx))
	status, err := d.Status(ctx)
	require.NoError(t, err)
	require.True(t, status.Running)
	require.True(t, status.Offline)
	require.NotEmpty(t, status.APIAddress)

	// Second start should fail
	require.Error(t, d.Start(ctx))

	other, err := daemon.New(cfg, store, logging.NewNop(), daemon.WithTranscriber(cannedTranscriber{}))
	require.NoError(t, err)
	require.ErrorContains(t, other.Start(ctx), "already running")

	d.Stop()
	status, err = d.Status(ctx)
	require.NoError(t, err)
	require.False(t, status.Running)

	require.NoError(t, other.Start(ctx), "lock should be free after stop")
	other.Stop()
}

func TestDaemonProcessesTickFromAPI(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	d, err := daemon.New(cfg, store, logging.NewNop(), daemon.WithTranscriber(cannedTranscriber{}))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	require.NoError(t, d.Start(ctx))
	defer d.Stop()

	testsupport.DropRecording(t, cfg.InboxFolder(), "memo.wav")
	payload, err := schedule.EncodePayload(pipeline.RunConfigFromConfig(cfg))
	require.NoError(t, err)

	status, err := d.Status(ctx)
	require.NoError(t, err)
	body, err := json.Marshal(api.TickEnvelope{ID: "tick-1", Data: payload})
	require.NoError(t, err)
	resp, err := http.Post("http://"+status.APIAddress+"/schedule-voice2action", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	var tick api.TickResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tick))
	resp.Body.Close()
	require.Equal(t, api.DeliverySuccess, tick.Status)
	require.Equal(t, pipeline.PollInstanceID("tick-1"), tick.InstanceID)

	poll, err := d.Engine().Wait(ctx, tick.InstanceID)
	require.NoError(t, err)
	require.Equal(t, durable.StatusCompleted, poll.Status)

	file, err := d.Engine().Wait(ctx, pipeline.FileInstanceID("memo.wav"))
	require.NoError(t, err)
	require.Equal(t, durable.StatusCompleted, file.Status, file.Error)

	require.True(t, testsupport.FileExists(filepath.Join(cfg.ArchiveFolder(), "memo.wav")))
	require.False(t, testsupport.FileExists(filepath.Join(cfg.InboxFolder(), "memo.wav")))

	state, err := d.Tracker().Status(ctx, "memo.wav")
	require.NoError(t, err)
	require.True(t, state.Downloaded)

	status, err = d.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, status.Outbox, "no webhook configured so the intent waits in the outbox")
	require.Equal(t, 2, status.Instances[durable.StatusCompleted])

	// Redelivery of the same tick is acknowledged without a new poll.
	dup := d.Dispatcher().OnTick(ctx, "tick-1", payload)
	require.Equal(t, schedule.OutcomeDuplicate, dup.Outcome)
}

func TestPoliciesUseTranscriptionTimeout(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Transcription.TimeoutSeconds = 90
	policies := daemon.Policies(cfg)
	require.Equal(t, 90*time.Second, policies[pipeline.ActivityTranscribe].Timeout)
	require.Equal(t, cfg.Workflow.StepMaxAttempts, daemon.DefaultPolicy(cfg.Workflow).MaxAttempts)
}
