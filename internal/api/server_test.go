package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"voice2action/internal/api"
	"voice2action/internal/credentials"
	"voice2action/internal/durable"
	"voice2action/internal/logging"
	"voice2action/internal/schedule"
	"voice2action/internal/services"
	"voice2action/internal/tracker"
)

type tickCall struct {
	messageID string
	payload   string
}

type fakeTicks struct {
	calls   []tickCall
	outcome schedule.Outcome
}

func (f *fakeTicks) OnTick(_ context.Context, messageID string, payload []byte) schedule.Result {
	f.calls = append(f.calls, tickCall{messageID: messageID, payload: string(payload)})
	outcome := f.outcome
	if outcome == "" {
		outcome = schedule.OutcomeStarted
	}
	return schedule.Result{Outcome: outcome, MessageID: messageID, InstanceID: "voice2action-poll-" + messageID}
}

type fakeInstances struct {
	items []*durable.Instance
}

func (f fakeInstances) Status(_ context.Context, id string) (*durable.Instance, error) {
	for _, inst := range f.items {
		if inst.ID == id {
			return inst, nil
		}
	}
	return nil, services.Wrap(services.ErrNotFound, "durable", "status", "instance "+id, nil)
}

func (f fakeInstances) List(context.Context) ([]*durable.Instance, error) {
	return f.items, nil
}

type fakeFiles []tracker.State

func (f fakeFiles) List(context.Context) ([]tracker.State, error) { return f, nil }

type fakeConsent struct {
	states   []string
	redeemed []string
}

func (f *fakeConsent) AuthorizationURL(_, state string) (string, error) {
	f.states = append(f.states, state)
	return "https://login.example.com/authorize?state=" + url.QueryEscape(state), nil
}

func (f *fakeConsent) RedeemAuthorizationCode(_ context.Context, code, _ string) error {
	f.redeemed = append(f.redeemed, code)
	return nil
}

func (f *fakeConsent) Describe(context.Context) (credentials.Status, error) {
	if len(f.redeemed) == 0 {
		return credentials.Status{}, nil
	}
	return credentials.Status{Present: true, Remaining: time.Hour, HasRefreshToken: true, ExpiresAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}, nil
}

func serve(t *testing.T, srv *api.Server, method, target string, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestTickWithCloudEventHeader(t *testing.T) {
	ticks := &fakeTicks{}
	srv := api.NewServer("127.0.0.1:0", api.Dependencies{Ticks: ticks, Logger: logging.NewNop()})

	rec := serve(t, srv, http.MethodPost, "/schedule-voice2action", `{"offline_mode":true}`, map[string]string{api.HeaderMessageID: "m-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[api.TickResponse](t, rec)
	require.Equal(t, api.DeliverySuccess, resp.Status)
	require.Equal(t, "voice2action-poll-m-1", resp.InstanceID)
	require.Equal(t, []tickCall{{messageID: "m-1", payload: `{"offline_mode":true}`}}, ticks.calls)
}

func TestTickWithEnvelope(t *testing.T) {
	ticks := &fakeTicks{}
	srv := api.NewServer("127.0.0.1:0", api.Dependencies{Ticks: ticks, Logger: logging.NewNop()})

	rec := serve(t, srv, http.MethodPost, "/schedule-voice2action", `{"id":"m-2","data":{"inbox_folder":"in"}}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, ticks.calls, 1)
	require.Equal(t, "m-2", ticks.calls[0].messageID)
	require.JSONEq(t, `{"inbox_folder":"in"}`, ticks.calls[0].payload)
}

func TestTickOutcomeMapping(t *testing.T) {
	tests := []struct {
		outcome schedule.Outcome
		code    int
		status  string
	}{
		{schedule.OutcomeDuplicate, http.StatusOK, api.DeliverySuccess},
		{schedule.OutcomeRejected, http.StatusOK, api.DeliveryDrop},
		{schedule.OutcomeRetry, http.StatusServiceUnavailable, api.DeliveryRetry},
	}
	for _, tc := range tests {
		t.Run(string(tc.outcome), func(t *testing.T) {
			srv := api.NewServer("127.0.0.1:0", api.Dependencies{Ticks: &fakeTicks{outcome: tc.outcome}, Logger: logging.NewNop()})
			rec := serve(t, srv, http.MethodPost, "/schedule-voice2action", `{}`, map[string]string{api.HeaderMessageID: "m"})
			require.Equal(t, tc.code, rec.Code)
			require.Equal(t, tc.status, decode[api.TickResponse](t, rec).Status)
		})
	}
}

func TestTickMalformedEnvelopeIsDropped(t *testing.T) {
	ticks := &fakeTicks{}
	srv := api.NewServer("127.0.0.1:0", api.Dependencies{Ticks: ticks, Logger: logging.NewNop()})

	rec := serve(t, srv, http.MethodPost, "/schedule-voice2action", `not-json`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, api.DeliveryDrop, decode[api.TickResponse](t, rec).Status)
	require.Empty(t, ticks.calls)
}

func TestInstanceViews(t *testing.T) {
	created := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	output, err := msgpack.Marshal(map[string]any{"polled": true, "files": 2})
	require.NoError(t, err)
	instances := fakeInstances{items: []*durable.Instance{
		{
			ID: "voice2action-poll-m", Name: "voice2action_poll", Status: durable.StatusCompleted,
			Output: output, CreatedAt: created, UpdatedAt: created,
			History: []durable.Event{
				{Seq: 0, Kind: durable.EventActivityCompleted, Name: "list_inbox", Attempts: 1, RecordedAt: created},
				{Seq: 1, Kind: durable.EventChildScheduled, Name: "voice2action_file", ChildID: "voice2action-file-x", RecordedAt: created},
			},
		},
		{
			ID: "voice2action-file-x", Name: "voice2action_file", ParentID: "voice2action-poll-m",
			Status: durable.StatusFailed, Error: "boom", FailedStage: "fetch_file", CreatedAt: created,
		},
	}}
	srv := api.NewServer("127.0.0.1:0", api.Dependencies{Instances: instances, Logger: logging.NewNop()})

	rec := serve(t, srv, http.MethodGet, "/instances", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[api.InstanceListResponse](t, rec)
	require.Len(t, list.Instances, 2)
	require.Equal(t, map[string]int{"completed": 1, "failed": 1}, list.Counts)
	require.Empty(t, list.Instances[0].Steps)

	rec = serve(t, srv, http.MethodGet, "/instances?status=failed", "", nil)
	filtered := decode[api.InstanceListResponse](t, rec)
	require.Len(t, filtered.Instances, 1)
	require.Equal(t, "fetch_file", filtered.Instances[0].FailedStage)

	rec = serve(t, srv, http.MethodGet, "/instances/voice2action-poll-m", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	one := decode[api.InstanceResponse](t, rec).Instance
	require.Len(t, one.Steps, 2)
	require.Equal(t, []string{"voice2action-file-x"}, one.Children)
	require.JSONEq(t, `{"polled":true,"files":2}`, string(one.Output))
	require.Equal(t, "2026-02-03T04:05:06.000Z", one.CreatedAt)

	rec = serve(t, srv, http.MethodGet, "/instances/missing", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "not_found", decode[api.ErrorResponse](t, rec).Kind)
}

func TestFilesView(t *testing.T) {
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	files := fakeFiles{
		{FileID: "a.wav", Pending: true, PendingAt: at},
		{FileID: "b.wav", Downloaded: true, DownloadedAt: at},
	}
	srv := api.NewServer("127.0.0.1:0", api.Dependencies{Files: files, Logger: logging.NewNop()})

	rec := serve(t, srv, http.MethodGet, "/files", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[api.FileListResponse](t, rec)
	require.Equal(t, []api.FileState{
		{FileID: "a.wav", State: "pending", PendingAt: "2026-02-03T04:05:06.000Z"},
		{FileID: "b.wav", State: "downloaded", DownloadedAt: "2026-02-03T04:05:06.000Z"},
	}, resp.Files)
}

func TestConsentRoundTrip(t *testing.T) {
	consent := &fakeConsent{}
	srv := api.NewServer("127.0.0.1:0", api.Dependencies{Consent: consent, Logger: logging.NewNop()})

	rec := serve(t, srv, http.MethodGet, "/auth/start", "", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	require.Len(t, consent.states, 1)
	require.Contains(t, rec.Header().Get("Location"), "state=")

	rec = serve(t, srv, http.MethodGet, "/auth/callback?code=abc&state=forged", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, consent.redeemed)

	state := consent.states[0]
	rec = serve(t, srv, http.MethodGet, "/auth/callback?code=abc&state="+url.QueryEscape(state), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"abc"}, consent.redeemed)
	status := decode[api.AuthStatus](t, rec)
	require.True(t, status.Present)
	require.Equal(t, int64(3600), status.RemainingSeconds)

	rec = serve(t, srv, http.MethodGet, "/auth/callback?code=abc&state="+url.QueryEscape(state), "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code, "state values are single use")

	rec = serve(t, srv, http.MethodGet, "/auth/callback?error=access_denied&error_description=user+declined", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decode[api.ErrorResponse](t, rec).Error, "user declined")
}

func TestConsentUnavailableInLocalMode(t *testing.T) {
	srv := api.NewServer("127.0.0.1:0", api.Dependencies{Logger: logging.NewNop()})
	rec := serve(t, srv, http.MethodGet, "/auth/status", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "configuration", decode[api.ErrorResponse](t, rec).Kind)
}

func TestStartServesHealth(t *testing.T) {
	srv := api.NewServer("127.0.0.1:0", api.Dependencies{Logger: logging.NewNop()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, srv.Start(ctx))

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBearerTokenGuardsRoutes(t *testing.T) {
	ticks := &fakeTicks{}
	srv := api.NewServer("127.0.0.1:0", api.Dependencies{Ticks: ticks, Token: "s3cret", Logger: logging.NewNop()})

	rec := serve(t, srv, http.MethodPost, "/schedule-voice2action", `{}`, map[string]string{
		api.HeaderMessageID: "m",
		"Authorization":     "Bearer wrong",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, ticks.calls)

	rec = serve(t, srv, http.MethodPost, "/schedule-voice2action", `{}`, map[string]string{
		api.HeaderMessageID: "m",
		"Authorization":     "Bearer s3cret",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, ticks.calls, 1)

	rec = serve(t, srv, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
