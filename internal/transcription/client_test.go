package transcription_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"voice2action/internal/services"
	"voice2action/internal/testsupport"
	"voice2action/internal/transcription"
)

func TestClientUploadsMultipartForm(t *testing.T) {
	audio := testsupport.DropRecording(t, t.TempDir(), "memo.wav")
	var gotModel, gotPrompt, gotMime, gotName, gotAuth string
	var gotBytes int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		gotModel = r.FormValue("model")
		gotPrompt = r.FormValue("prompt")
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		gotBytes = len(data)
		gotName = header.Filename
		gotMime = header.Header.Get("Content-Type")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "buy milk"})
	}))
	defer server.Close()

	client := transcription.NewClient(transcription.Config{URL: server.URL, APIKey: "sk-test"})
	result, err := client.Transcribe(context.Background(), transcription.Request{
		AudioPath: audio,
		MimeType:  "audio/x-wav",
		Terms:     []string{"Kubernetes", "Dapr"},
	})
	require.NoError(t, err)
	require.Equal(t, "buy milk", result.Text)
	require.Equal(t, "Bearer sk-test", gotAuth)
	require.Equal(t, "whisper-1", gotModel)
	require.Equal(t, "Vocabulary: Kubernetes, Dapr.", gotPrompt)
	require.Equal(t, "audio/x-wav", gotMime)
	require.Equal(t, "memo.wav", gotName)
	require.Equal(t, 256, gotBytes)
}

func TestClientClassifiesFailures(t *testing.T) {
	audio := testsupport.DropRecording(t, t.TempDir(), "memo.mp3")
	status := http.StatusServiceUnavailable
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, `{"error":"busy"}`)
	}))
	defer server.Close()

	client := transcription.NewClient(transcription.Config{URL: server.URL, APIKey: "k"})
	req := transcription.Request{AudioPath: audio, MimeType: "audio/mpeg"}

	_, err := client.Transcribe(context.Background(), req)
	require.ErrorIs(t, err, services.ErrTransient)

	status = http.StatusBadRequest
	_, err = client.Transcribe(context.Background(), req)
	require.ErrorIs(t, err, services.ErrPermanent)
	require.Contains(t, err.Error(), "busy")

	_, err = transcription.NewClient(transcription.Config{URL: server.URL}).Transcribe(context.Background(), req)
	require.ErrorIs(t, err, services.ErrConfiguration)

	_, err = client.Transcribe(context.Background(), transcription.Request{AudioPath: filepath.Join(t.TempDir(), "gone.wav"), MimeType: "audio/x-wav"})
	require.ErrorIs(t, err, services.ErrNotFound)
}

func TestArtifactRoundTrip(t *testing.T) {
	audio := filepath.Join(t.TempDir(), "sample.wav")
	path, err := transcription.WriteArtifact(audio, transcription.Result{Text: "hello"})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(filepath.Dir(audio), "sample.json"), path)
	got, err := transcription.ReadArtifact(path)
	require.NoError(t, err)
	require.Equal(t, "hello", got.Text)
}

func TestLoadTerms(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "list.yaml")
	require.NoError(t, os.WriteFile(list, []byte("- Dapr\n- dapr\n- ' OneDrive '\n- ''\n"), 0o644))
	terms, err := transcription.LoadTerms(list)
	require.NoError(t, err)
	require.Equal(t, []string{"Dapr", "OneDrive"}, terms)

	mapping := filepath.Join(dir, "map.yaml")
	require.NoError(t, os.WriteFile(mapping, []byte("terms:\n  - Graph\n"), 0o644))
	terms, err = transcription.LoadTerms(mapping)
	require.NoError(t, err)
	require.Equal(t, []string{"Graph"}, terms)

	terms, err = transcription.LoadTerms(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	require.Nil(t, terms)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("just a string"), 0o644))
	_, err = transcription.LoadTerms(bad)
	require.Error(t, err)
}
