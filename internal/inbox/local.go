package inbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/text/unicode/norm"

	"voice2action/internal/fileutil"
	"voice2action/internal/logging"
	"voice2action/internal/services"
)

const localStage = "local_inbox"

// LocalProvider serves recordings from a filesystem directory. File IDs are
// the NFC-normalized file names, so a name decomposed by the filesystem maps
// to the same ID on every listing.
type LocalProvider struct {
	logger *slog.Logger
}

// NewLocalProvider constructs a LocalProvider.
func NewLocalProvider(logger *slog.Logger) *LocalProvider {
	return &LocalProvider{logger: logging.NewComponentLogger(logger, "local_inbox")}
}

// List creates folder when missing and returns its audio files sorted by name.
func (p *LocalProvider) List(ctx context.Context, folder string) ([]FileReference, error) {
	if folder == "" {
		return nil, services.Wrap(services.ErrConfiguration, localStage, "list", "inbox folder is empty", nil)
	}
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return nil, services.Wrap(services.ErrTransient, localStage, "list", "create inbox folder", err)
	}
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, localStage, "list", "read inbox folder", err)
	}

	files := make([]FileReference, 0, len(entries))
	skipped := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		if !IsAudio(name) {
			skipped++
			continue
		}
		ref := FileReference{ID: norm.NFC.String(name), Name: name}
		if info, infoErr := entry.Info(); infoErr == nil {
			size := info.Size()
			ref.Size = &size
		}
		files = append(files, ref)
	}
	logging.WithContext(ctx, p.logger).Debug("local inbox listed",
		logging.String("folder", folder),
		logging.Int("audio_files", len(files)),
		logging.Int("skipped_type", skipped),
	)
	return files, nil
}

// Fetch copies the recording into the working directory.
func (p *LocalProvider) Fetch(ctx context.Context, req FetchRequest) (string, error) {
	if err := req.File.Validate(); err != nil {
		return "", err
	}
	if req.SourceFolder == "" || req.DestDir == "" {
		return "", services.Wrap(services.ErrValidation, localStage, "fetch", "source folder and destination are required", nil)
	}
	src := filepath.Join(req.SourceFolder, req.File.Name)
	dst := filepath.Join(req.DestDir, req.File.Name)
	written, err := fileutil.CopyFile(src, dst)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", services.Wrap(services.ErrNotFound, localStage, "fetch", fmt.Sprintf("%s is no longer in the inbox", req.File.Name), err)
		}
		return "", services.Wrap(services.ErrTransient, localStage, "fetch", "copy to working directory", err)
	}
	logging.WithContext(ctx, p.logger).Info("recording copied",
		logging.String(logging.FieldEventType, "recording_fetched"),
		logging.String("path", dst),
		logging.Int64("bytes", written),
	)
	return dst, nil
}

// Archive moves the recording into the archive folder, replacing any file of
// the same name. A retry after a completed move succeeds.
func (p *LocalProvider) Archive(ctx context.Context, req ArchiveRequest) (string, error) {
	if err := req.File.Validate(); err != nil {
		return "", err
	}
	if req.SourceFolder == "" || req.ArchiveFolder == "" {
		return "", services.Wrap(services.ErrConfiguration, localStage, "archive", "inbox and archive folders are required", nil)
	}
	src := filepath.Join(req.SourceFolder, req.File.Name)
	dst := filepath.Join(req.ArchiveFolder, req.File.Name)

	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		if _, dstErr := os.Stat(dst); dstErr == nil {
			return dst, nil
		}
		return "", services.Wrap(services.ErrNotFound, localStage, "archive", fmt.Sprintf("%s is missing from the inbox", req.File.Name), err)
	}
	if err := fileutil.MoveFile(src, dst); err != nil {
		return "", services.Wrap(services.ErrTransient, localStage, "archive", "move to archive", err)
	}
	logging.WithContext(ctx, p.logger).Info("recording archived",
		logging.String(logging.FieldEventType, "recording_archived"),
		logging.String("path", dst),
	)
	return dst, nil
}
