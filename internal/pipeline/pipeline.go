package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"voice2action/internal/durable"
	"voice2action/internal/inbox"
	"voice2action/internal/logging"
	"voice2action/internal/publish"
	"voice2action/internal/services"
	"voice2action/internal/tracker"
	"voice2action/internal/transcription"
)

// Deps are the collaborators the activities use.
type Deps struct {
	// Offline is the inbox mode the provider serves. Runs for the other mode
	// are rejected.
	Offline     bool
	Provider    inbox.Provider
	Tracker     *tracker.Tracker
	Transcriber transcription.Transcriber
	Publisher   publish.Publisher
	Logger      *slog.Logger
}

// Policies overrides retry policies per activity. Missing entries use the
// engine default.
type Policies map[string]durable.RetryPolicy

// Pipeline owns the orchestrators and activities for the voice inbox.
type Pipeline struct {
	deps   Deps
	logger *slog.Logger
}

// New constructs a pipeline.
func New(deps Deps) *Pipeline {
	return &Pipeline{deps: deps, logger: logging.NewComponentLogger(deps.Logger, "pipeline")}
}

// Register adds the orchestrators and activities to engine.
func (p *Pipeline) Register(engine *durable.Engine, policies Policies) {
	engine.RegisterOrchestrator(PollOrchestrator, durable.Orchestrator(p.poll))
	engine.RegisterOrchestrator(PerFileOrchestrator, durable.Orchestrator(p.processFile))

	activities := map[string]durable.ActivityFunc{
		ActivityListInbox:   durable.Activity(p.listInbox),
		ActivityFilterNew:   durable.Activity(p.filterNew),
		ActivityMarkPending: durable.Activity(p.markPending),
		ActivityFetch:       durable.Activity(p.fetchFile),
		ActivityTranscribe:  durable.Activity(p.transcribe),
		ActivityPublish:     durable.Activity(p.publishIntent),
		ActivityArchive:     durable.Activity(p.archive),
	}
	for name, fn := range activities {
		if policy, ok := policies[name]; ok {
			engine.RegisterActivity(name, fn, &policy)
			continue
		}
		engine.RegisterActivity(name, fn, nil)
	}
}

func (p *Pipeline) checkMode(cfg RunConfig) error {
	if cfg.OfflineMode != p.deps.Offline {
		want, got := "remote", "local"
		if p.deps.Offline {
			want, got = "local", "remote"
		}
		return services.Wrap(services.ErrConfiguration, "pipeline", "mode",
			fmt.Sprintf("run requested %s inbox but this process serves the %s inbox", got, want), nil)
	}
	return nil
}

// listInbox never fails the cycle on provider errors: the listing is treated
// as empty and the next tick tries again.
func (p *Pipeline) listInbox(ctx context.Context, req ListRequest) (FileList, error) {
	if err := p.checkMode(req.Config); err != nil {
		return FileList{}, err
	}
	files, err := p.deps.Provider.List(ctx, req.Config.InboxFolder)
	if err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, p.logger), "inbox listing failed; treating as empty", "inbox_list_failed",
			logging.String("folder", req.Config.InboxFolder),
			logging.String(logging.FieldErrorKind, services.FailureKind(err)),
			logging.String(logging.FieldErrorHint, "check inbox folder and credentials"),
			logging.String(logging.FieldImpact, "no new recordings this tick"),
			logging.Error(err),
		)
		return FileList{Files: []inbox.FileReference{}}, nil
	}
	return FileList{Files: files}, nil
}

func (p *Pipeline) filterNew(ctx context.Context, listed FileList) (FileList, error) {
	fresh, err := p.deps.Tracker.FilterNew(ctx, listed.Files)
	if err != nil {
		return FileList{}, err
	}
	return FileList{Files: fresh}, nil
}

func (p *Pipeline) markPending(ctx context.Context, req MarkPendingRequest) (MarkPendingResult, error) {
	dispatched, err := p.deps.Tracker.MarkPending(services.WithFileID(ctx, req.FileID), req.FileID)
	if err != nil {
		return MarkPendingResult{}, err
	}
	return MarkPendingResult{Dispatched: dispatched}, nil
}

func (p *Pipeline) fetchFile(ctx context.Context, in FileInput) (FetchResult, error) {
	ctx = services.WithFileID(ctx, in.File.ID)
	if err := p.checkMode(in.Config); err != nil {
		return FetchResult{}, err
	}
	path, err := p.deps.Provider.Fetch(ctx, inbox.FetchRequest{
		File:         in.File,
		SourceFolder: in.Config.InboxFolder,
		DestDir:      in.Config.DownloadFolder,
	})
	if err != nil {
		return FetchResult{}, err
	}
	if err := p.deps.Tracker.MarkDownloaded(ctx, in.File.ID); err != nil {
		return FetchResult{}, err
	}
	return FetchResult{LocalPath: path}, nil
}

func (p *Pipeline) transcribe(ctx context.Context, req TranscribeRequest) (TranscribeResult, error) {
	if p.deps.Transcriber == nil {
		return TranscribeResult{}, services.Wrap(services.ErrConfiguration, "pipeline", "transcribe", "no transcriber configured", nil)
	}
	terms, err := transcription.LoadTerms(req.TermsFile)
	if err != nil {
		return TranscribeResult{}, services.Wrap(services.ErrConfiguration, "pipeline", "transcribe", "inbox.terms_file is unreadable", err)
	}
	result, err := p.deps.Transcriber.Transcribe(ctx, transcription.Request{
		AudioPath: req.AudioPath,
		MimeType:  req.MimeType,
		Terms:     terms,
	})
	if err != nil {
		return TranscribeResult{}, err
	}
	path, err := transcription.WriteArtifact(req.AudioPath, result)
	if err != nil {
		return TranscribeResult{}, services.Wrap(services.ErrTransient, "pipeline", "transcribe", "store transcript", err)
	}
	return TranscribeResult{TranscriptionPath: path, Text: result.Text}, nil
}

func (p *Pipeline) publishIntent(ctx context.Context, intent publish.Intent) (publish.Receipt, error) {
	if p.deps.Publisher == nil {
		return publish.Receipt{}, services.Wrap(services.ErrConfiguration, "pipeline", "publish", "no publisher configured", nil)
	}
	return p.deps.Publisher.Publish(services.WithFileID(ctx, intent.CorrelationID), intent)
}

func (p *Pipeline) archive(ctx context.Context, in FileInput) (ArchiveResult, error) {
	ctx = services.WithFileID(ctx, in.File.ID)
	if err := p.checkMode(in.Config); err != nil {
		return ArchiveResult{}, err
	}
	location, err := p.deps.Provider.Archive(ctx, inbox.ArchiveRequest{
		File:          in.File,
		SourceFolder:  in.Config.InboxFolder,
		ArchiveFolder: in.Config.ArchiveFolder,
	})
	if err != nil {
		return ArchiveResult{}, err
	}
	return ArchiveResult{Location: location}, nil
}
