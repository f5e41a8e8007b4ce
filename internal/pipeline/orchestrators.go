package pipeline

import (
	"fmt"
	"time"

	"voice2action/internal/durable"
	"voice2action/internal/inbox"
	"voice2action/internal/logging"
	"voice2action/internal/publish"
	"voice2action/internal/services"
)

// poll lists, filters, and fans out. Every effect goes through an activity.
func (p *Pipeline) poll(octx *durable.OrchestrationContext, cfg RunConfig) (PollResult, error) {
	if err := cfg.Validate(); err != nil {
		return PollResult{}, err
	}

	var listed FileList
	if err := octx.CallActivity(ActivityListInbox, ListRequest{Config: cfg}, &listed); err != nil {
		return PollResult{}, err
	}
	var fresh FileList
	if err := octx.CallActivity(ActivityFilterNew, listed, &fresh); err != nil {
		return PollResult{}, err
	}

	dispatched := 0
	for _, file := range fresh.Files {
		var marked MarkPendingResult
		if err := octx.CallActivity(ActivityMarkPending, MarkPendingRequest{FileID: file.ID}, &marked); err != nil {
			return PollResult{}, err
		}
		if !marked.Dispatched {
			continue
		}
		childID := FileInstanceID(file.ID)
		if err := octx.StartChild(PerFileOrchestrator, childID, FileInput{File: file, Config: cfg}); err != nil {
			return PollResult{}, err
		}
		octx.Logger().Info("recording dispatched",
			logging.String(logging.FieldEventType, "file_dispatched"),
			logging.String(logging.FieldFileID, file.ID),
			logging.String("child_instance_id", childID),
		)
		dispatched++
	}

	octx.Logger().Info("poll cycle complete",
		logging.String(logging.FieldEventType, "poll_complete"),
		logging.Int("listed", len(listed.Files)),
		logging.Int("dispatched", dispatched),
	)
	return PollResult{Polled: true, Files: dispatched}, nil
}

// processFile moves one recording through fetch, transcribe, publish, archive.
func (p *Pipeline) processFile(octx *durable.OrchestrationContext, in FileInput) (FileResult, error) {
	if err := in.File.Validate(); err != nil {
		return FileResult{}, err
	}
	if err := in.Config.Validate(); err != nil {
		return FileResult{}, err
	}
	file := in.File

	var fetched FetchResult
	if err := octx.CallActivity(ActivityFetch, in, &fetched); err != nil {
		return FileResult{}, p.stepFailed(octx, file, ActivityFetch, err)
	}

	mime, ok := inbox.MimeType(file.Name)
	if !ok {
		err := services.Wrap(services.ErrValidation, "pipeline", "mime", fmt.Sprintf("%s is not a supported audio type", file.Name), nil)
		return FileResult{}, p.stepFailed(octx, file, ActivityTranscribe, err)
	}
	var transcript TranscribeResult
	req := TranscribeRequest{AudioPath: fetched.LocalPath, MimeType: mime, TermsFile: in.Config.TermsFile}
	if err := octx.CallActivity(ActivityTranscribe, req, &transcript); err != nil {
		return FileResult{}, p.stepFailed(octx, file, ActivityTranscribe, err)
	}

	intent := publish.Intent{
		CorrelationID:     file.ID,
		TranscriptionText: transcript.Text,
		TranscriptionPath: transcript.TranscriptionPath,
		AudioPath:         fetched.LocalPath,
		FileName:          file.Name,
		Metadata:          map[string]string{"instance_id": octx.InstanceID()},
		Run:               octx.InstanceID() + "@" + octx.StartedAt().UTC().Format(time.RFC3339Nano),
	}
	var receipt publish.Receipt
	if err := octx.CallActivity(ActivityPublish, intent, &receipt); err != nil {
		return FileResult{}, p.stepFailed(octx, file, ActivityPublish, err)
	}

	var archived ArchiveResult
	if err := octx.CallActivity(ActivityArchive, in, &archived); err != nil {
		return FileResult{}, p.stepFailed(octx, file, ActivityArchive, err)
	}

	octx.Logger().Info("recording processed",
		logging.String(logging.FieldEventType, "file_complete"),
		logging.String(logging.FieldFileID, file.ID),
		logging.String("archive", archived.Location),
		logging.String("transcription_path", transcript.TranscriptionPath),
	)
	return FileResult{OK: true, Transcription: transcript, Archive: archived.Location, Publish: receipt}, nil
}

func (p *Pipeline) stepFailed(octx *durable.OrchestrationContext, file inbox.FileReference, step string, err error) error {
	octx.Logger().Error("recording pipeline failed",
		logging.String(logging.FieldEventType, "file_failed"),
		logging.String(logging.FieldFileID, file.ID),
		logging.String(logging.FieldStep, step),
		logging.String(logging.FieldErrorKind, services.FailureKind(err)),
		logging.String(logging.FieldImpact, "file stays marked and is not retried by later polls"),
		logging.String(logging.FieldErrorHint, "fix the cause, then run: voice2action inbox reset "+file.ID),
		logging.Error(err),
	)
	return err
}
