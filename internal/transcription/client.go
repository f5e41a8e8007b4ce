package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"voice2action/internal/logging"
	"voice2action/internal/services"
)

const (
	clientStage          = "transcription"
	defaultModel         = "whisper-1"
	defaultClientTimeout = 10 * time.Minute
	maxErrorBody         = 2048
)

// Config holds the HTTP endpoint settings.
type Config struct {
	URL            string
	APIKey         string
	Model          string
	TimeoutSeconds int
}

// Client posts recordings to a whisper-compatible transcription endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logging.NewComponentLogger(logger, "transcription")
	}
}

// NewClient constructs a transcription client.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultClientTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	c := &Client{
		cfg: Config{
			URL:            strings.TrimSpace(cfg.URL),
			APIKey:         strings.TrimSpace(cfg.APIKey),
			Model:          strings.TrimSpace(cfg.Model),
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.NewComponentLogger(nil, "transcription"),
	}
	if c.cfg.Model == "" {
		c.cfg.Model = defaultModel
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transcribe uploads the recording and returns the recognized text.
func (c *Client) Transcribe(ctx context.Context, req Request) (Result, error) {
	var empty Result
	if err := req.Validate(); err != nil {
		return empty, err
	}
	if c.cfg.URL == "" {
		return empty, services.Wrap(services.ErrConfiguration, clientStage, "transcribe", "transcription.url is not set", nil)
	}
	if c.cfg.APIKey == "" {
		return empty, services.Wrap(services.ErrConfiguration, clientStage, "transcribe", "transcription.api_key is not set (or set OPENAI_API_KEY)", nil)
	}

	body, contentType, err := c.buildForm(req)
	if err != nil {
		return empty, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, body)
	if err != nil {
		return empty, services.Wrap(services.ErrPermanent, clientStage, "transcribe", "build request", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return empty, services.Wrap(services.ErrTransient, clientStage, "transcribe", "request failed", err)
	}
	defer resp.Body.Close()

	if marker := services.StatusMarker(resp.StatusCode); marker != nil {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return empty, services.Wrap(marker, clientStage, "transcribe",
			fmt.Sprintf("endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))), nil)
	}
	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return empty, services.Wrap(services.ErrPermanent, clientStage, "transcribe", "malformed response", err)
	}
	logging.WithContext(ctx, c.logger).Info("transcription received",
		logging.String(logging.FieldEventType, "transcription_complete"),
		logging.String("audio_path", req.AudioPath),
		logging.Int("characters", len(result.Text)),
		logging.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

func (c *Client) buildForm(req Request) (io.Reader, string, error) {
	file, err := os.Open(req.AudioPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", services.Wrap(services.ErrNotFound, clientStage, "transcribe", "audio file not found: "+req.AudioPath, err)
		}
		return nil, "", services.Wrap(services.ErrTransient, clientStage, "transcribe", "open audio", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(req.AudioPath)))
	header.Set("Content-Type", req.MimeType)
	part, err := form.CreatePart(header)
	if err != nil {
		return nil, "", services.Wrap(services.ErrPermanent, clientStage, "transcribe", "build form", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", services.Wrap(services.ErrTransient, clientStage, "transcribe", "read audio", err)
	}
	fields := map[string]string{"model": c.cfg.Model, "response_format": "json"}
	if prompt := req.Prompt(); prompt != "" {
		fields["prompt"] = prompt
	}
	for _, key := range []string{"model", "response_format", "prompt"} {
		value, ok := fields[key]
		if !ok {
			continue
		}
		if err := form.WriteField(key, value); err != nil {
			return nil, "", services.Wrap(services.ErrPermanent, clientStage, "transcribe", "build form", err)
		}
	}
	if err := form.Close(); err != nil {
		return nil, "", services.Wrap(services.ErrPermanent, clientStage, "transcribe", "build form", err)
	}
	return &buf, form.FormDataContentType(), nil
}
