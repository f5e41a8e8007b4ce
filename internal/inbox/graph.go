package inbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"voice2action/internal/fileutil"
	"voice2action/internal/logging"
	"voice2action/internal/services"
)

const (
	graphStage       = "graph_inbox"
	maxErrorBodySize = 4 << 10
	maxListPages     = 50
)

// TokenSource supplies bearer tokens for Graph requests.
type TokenSource interface {
	ValidToken(ctx context.Context) (string, error)
}

// HTTPDoer abstracts http.Client.Do for testing.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// GraphProvider serves recordings from a Microsoft Graph drive.
type GraphProvider struct {
	baseURL string
	tokens  TokenSource
	client   HTTPDoer
	logger   *slog.Logger
	maxPages int
}

// GraphOption customises GraphProvider construction.
type GraphOption func(*GraphProvider)

// WithGraphHTTPClient overrides the HTTP client used for drive calls.
func WithGraphHTTPClient(client HTTPDoer) GraphOption {
	return func(p *GraphProvider) {
		if client != nil {
			p.client = client
		}
	}
}

// WithGraphMaxPages caps how many listing pages List follows.
func WithGraphMaxPages(pages int) GraphOption {
	return func(p *GraphProvider) {
		if pages > 0 {
			p.maxPages = pages
		}
	}
}

// WithGraphLogger attaches a logger.
func WithGraphLogger(logger *slog.Logger) GraphOption {
	return func(p *GraphProvider) {
		p.logger = logging.NewComponentLogger(logger, "graph_inbox")
	}
}

// NewGraphProvider builds a provider rooted at baseURL (for example
// https://graph.microsoft.com/v1.0/me).
func NewGraphProvider(baseURL string, tokens TokenSource, timeout time.Duration, opts ...GraphOption) *GraphProvider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	p := &GraphProvider{
		baseURL:  strings.TrimRight(baseURL, "/"),
		tokens:   tokens,
		client:   &http.Client{Timeout: timeout},
		logger:   logging.NewComponentLogger(nil, "graph_inbox"),
		maxPages: maxListPages,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type driveItem struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Size        *int64          `json:"size"`
	ETag        string          `json:"eTag"`
	File        json.RawMessage `json:"file"`
	Folder      json.RawMessage `json:"folder"`
	DownloadURL string          `json:"@microsoft.graph.downloadUrl"`
}

type childrenPage struct {
	Value    []driveItem `json:"value"`
	NextLink string      `json:"@odata.nextLink"`
}

// List enumerates audio files directly under folder, following pagination.
func (p *GraphProvider) List(ctx context.Context, folder string) ([]FileReference, error) {
	folder = strings.Trim(folder, "/")
	if folder == "" {
		return nil, services.Wrap(services.ErrConfiguration, graphStage, "list", "inbox.remote_folder is empty", nil)
	}
	next := p.baseURL + "/drive/root:/" + escapePath(folder) + ":/children"

	var (
		files   []FileReference
		skipped int
	)
	for page := 0; next != "" && page < p.maxPages; page++ {
		var body childrenPage
		if err := p.doJSON(ctx, http.MethodGet, next, nil, &body); err != nil {
			return nil, wrapOp(err, "list")
		}
		for _, item := range body.Value {
			if len(item.File) == 0 {
				continue
			}
			if !IsAudio(item.Name) {
				skipped++
				continue
			}
			files = append(files, FileReference{ID: item.ID, Name: item.Name, Size: item.Size, ETag: item.ETag})
		}
		next = body.NextLink
	}
	if next != "" {
		// The remaining files are picked up once earlier pages are archived.
		logging.WarnWithContext(logging.WithContext(ctx, p.logger), "graph inbox listing truncated", "inbox_list_truncated",
			logging.String("folder", folder),
			logging.Int("max_pages", p.maxPages),
			logging.Int("audio_files", len(files)),
			logging.String(logging.FieldImpact, "files past the page cap wait for a later cycle"),
		)
	}
	logging.WithContext(ctx, p.logger).Debug("graph inbox listed",
		logging.String("folder", folder),
		logging.Int("audio_files", len(files)),
		logging.Int("skipped_type", skipped),
	)
	return files, nil
}

// Fetch resolves the item's pre-authenticated download URL, falling back to
// the authenticated content endpoint, and streams it to DestDir.
func (p *GraphProvider) Fetch(ctx context.Context, req FetchRequest) (string, error) {
	if err := req.File.Validate(); err != nil {
		return "", err
	}
	if req.DestDir == "" {
		return "", services.Wrap(services.ErrValidation, graphStage, "fetch", "destination directory is required", nil)
	}

	itemURL := p.baseURL + "/drive/items/" + url.PathEscape(req.File.ID)
	var item driveItem
	if err := p.doJSON(ctx, http.MethodGet, itemURL, nil, &item); err != nil {
		return "", wrapOp(err, "fetch")
	}

	downloadURL, authenticated := item.DownloadURL, false
	if downloadURL == "" {
		downloadURL, authenticated = itemURL+"/content", true
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return "", services.Wrap(services.ErrPermanent, graphStage, "fetch", "build download request", err)
	}
	if authenticated {
		if err := p.authorize(ctx, httpReq); err != nil {
			return "", err
		}
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, graphStage, "fetch", "download request failed", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return "", wrapOp(err, "fetch")
	}

	dst := filepath.Join(req.DestDir, req.File.Name)
	written, err := fileutil.WriteAtomic(dst, resp.Body, 0o644)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, graphStage, "fetch", "write download", err)
	}
	logging.WithContext(ctx, p.logger).Info("recording downloaded",
		logging.String(logging.FieldEventType, "recording_fetched"),
		logging.String("path", dst),
		logging.Int64("bytes", written),
		logging.Bool("content_endpoint", authenticated),
	)
	return dst, nil
}

// Archive moves the item under the archive folder by patching its parent
// reference. Bytes are never re-uploaded.
func (p *GraphProvider) Archive(ctx context.Context, req ArchiveRequest) (string, error) {
	if err := req.File.Validate(); err != nil {
		return "", err
	}
	archive := strings.Trim(req.ArchiveFolder, "/")
	if archive == "" {
		return "", services.Wrap(services.ErrConfiguration, graphStage, "archive", "inbox.remote_archive_folder is empty", nil)
	}

	var folder driveItem
	if err := p.doJSON(ctx, http.MethodGet, p.baseURL+"/drive/root:/"+escapePath(archive), nil, &folder); err != nil {
		return "", wrapOp(err, "resolve archive folder")
	}
	if folder.ID == "" || len(folder.Folder) == 0 {
		return "", services.Wrap(services.ErrConfiguration, graphStage, "archive", fmt.Sprintf("%q is not a folder", archive), nil)
	}

	patch := map[string]any{
		"parentReference": map[string]string{"id": folder.ID},
		"name":            req.File.Name,
	}
	var moved driveItem
	if err := p.doJSON(ctx, http.MethodPatch, p.baseURL+"/drive/items/"+url.PathEscape(req.File.ID), patch, &moved); err != nil {
		return "", wrapOp(err, "archive")
	}
	location := archive + "/" + req.File.Name
	logging.WithContext(ctx, p.logger).Info("recording archived",
		logging.String(logging.FieldEventType, "recording_archived"),
		logging.String("location", location),
	)
	return location, nil
}

func (p *GraphProvider) authorize(ctx context.Context, req *http.Request) error {
	if p.tokens == nil {
		return services.Wrap(services.ErrConfiguration, graphStage, "authorize", "no credential manager configured", nil)
	}
	token, err := p.tokens.ValidToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (p *GraphProvider) doJSON(ctx context.Context, method, target string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return services.Wrap(services.ErrPermanent, graphStage, method, "encode request", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return services.Wrap(services.ErrPermanent, graphStage, method, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := p.authorize(ctx, req); err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, graphStage, method, "request failed", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return services.Wrap(services.ErrPermanent, graphStage, method, "malformed response", err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	marker := services.StatusMarker(resp.StatusCode)
	if marker == nil {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	detail := fmt.Sprintf("graph returned %d", resp.StatusCode)
	if text := strings.TrimSpace(string(snippet)); text != "" {
		detail += ": " + text
	}
	method := ""
	if resp.Request != nil {
		method = resp.Request.Method
	}
	return services.Wrap(marker, graphStage, method, detail, nil)
}

func wrapOp(err error, operation string) error {
	return fmt.Errorf("%s: %w", operation, err)
}

// escapePath escapes each segment of a drive path while keeping separators.
func escapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}
