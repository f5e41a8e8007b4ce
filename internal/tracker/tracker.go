package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"voice2action/internal/inbox"
	"voice2action/internal/logging"
	"voice2action/internal/services"
	"voice2action/internal/statestore"
)

// Key prefixes for the two markers. Values are always markerValue.
const (
	PendingPrefix    = "voice_inbox_pending:"
	DownloadedPrefix = "voice_inbox_downloaded:"

	markerValue  = "1"
	trackerStage = "inbox_tracker"
)

// State describes the markers recorded for one file.
type State struct {
	FileID       string
	Pending      bool
	Downloaded   bool
	PendingAt    time.Time
	DownloadedAt time.Time
}

// Label renders the state for operator output.
func (s State) Label() string {
	switch {
	case s.Downloaded:
		return "downloaded"
	case s.Pending:
		return "pending"
	default:
		return "new"
	}
}

// Tracker reads and writes inbox markers.
type Tracker struct {
	store  statestore.Store
	logger *slog.Logger
}

// New constructs a tracker over store.
func New(store statestore.Store, logger *slog.Logger) *Tracker {
	return &Tracker{store: store, logger: logging.NewComponentLogger(logger, "inbox_tracker")}
}

// FilterNew returns the files that carry neither marker, in listing order.
func (t *Tracker) FilterNew(ctx context.Context, files []inbox.FileReference) ([]inbox.FileReference, error) {
	fresh := make([]inbox.FileReference, 0, len(files))
	skipped := 0
	for _, file := range files {
		state, err := t.Status(ctx, file.ID)
		if err != nil {
			return nil, err
		}
		if state.Downloaded || state.Pending {
			skipped++
			continue
		}
		fresh = append(fresh, file)
	}
	if skipped > 0 {
		logging.WithContext(ctx, t.logger).Debug("inbox files already tracked",
			logging.Int("listed", len(files)),
			logging.Int("skipped", skipped),
		)
	}
	return fresh, nil
}

// MarkPending records that a pipeline has been dispatched for fileID. It
// returns once the write is durable. A file that is already downloaded keeps
// only its downloaded marker and MarkPending reports false; callers must not
// dispatch it.
func (t *Tracker) MarkPending(ctx context.Context, fileID string) (bool, error) {
	if err := validateID(fileID); err != nil {
		return false, err
	}
	downloaded, err := t.downloaded(ctx, fileID)
	if err != nil {
		return false, err
	}
	if downloaded {
		t.logSkippedPending(ctx, fileID)
		return false, nil
	}
	if err := t.store.Set(ctx, PendingPrefix+fileID, markerValue); err != nil {
		return false, services.Wrap(services.ErrTransient, trackerStage, "mark pending", fileID, err)
	}
	// MarkDownloaded may have finished between the read and the write above.
	// It sets downloaded before clearing pending, so a second read settles it.
	downloaded, err = t.downloaded(ctx, fileID)
	if err != nil {
		return false, err
	}
	if downloaded {
		if err := t.store.Delete(ctx, PendingPrefix+fileID); err != nil {
			return false, services.Wrap(services.ErrTransient, trackerStage, "clear pending", fileID, err)
		}
		t.logSkippedPending(ctx, fileID)
		return false, nil
	}
	return true, nil
}

func (t *Tracker) downloaded(ctx context.Context, fileID string) (bool, error) {
	_, ok, err := t.store.Get(ctx, DownloadedPrefix+fileID)
	if err != nil {
		return false, services.Wrap(services.ErrTransient, trackerStage, "read downloaded", fileID, err)
	}
	return ok, nil
}

func (t *Tracker) logSkippedPending(ctx context.Context, fileID string) {
	logging.WithContext(ctx, t.logger).Info("file already downloaded; not dispatching",
		logging.String(logging.FieldEventType, "inbox_pending_skipped"),
		logging.String(logging.FieldFileID, fileID),
	)
}

// MarkDownloaded sets the downloaded marker and then clears pending. A crash
// between the two writes leaves both set, which FilterNew still excludes.
func (t *Tracker) MarkDownloaded(ctx context.Context, fileID string) error {
	if err := validateID(fileID); err != nil {
		return err
	}
	if err := t.store.Set(ctx, DownloadedPrefix+fileID, markerValue); err != nil {
		return services.Wrap(services.ErrTransient, trackerStage, "mark downloaded", fileID, err)
	}
	if err := t.store.Delete(ctx, PendingPrefix+fileID); err != nil {
		return services.Wrap(services.ErrTransient, trackerStage, "clear pending", fileID, err)
	}
	return nil
}

// Status reports the markers recorded for fileID.
func (t *Tracker) Status(ctx context.Context, fileID string) (State, error) {
	state := State{FileID: fileID}
	if err := validateID(fileID); err != nil {
		return state, err
	}
	_, downloaded, err := t.store.Get(ctx, DownloadedPrefix+fileID)
	if err != nil {
		return state, services.Wrap(services.ErrTransient, trackerStage, "read downloaded", fileID, err)
	}
	_, pending, err := t.store.Get(ctx, PendingPrefix+fileID)
	if err != nil {
		return state, services.Wrap(services.ErrTransient, trackerStage, "read pending", fileID, err)
	}
	state.Downloaded = downloaded
	state.Pending = pending
	return state, nil
}

// Reset clears both markers so the next poll cycle picks fileID up again. It
// reports whether any marker was present.
func (t *Tracker) Reset(ctx context.Context, fileID string) (bool, error) {
	state, err := t.Status(ctx, fileID)
	if err != nil {
		return false, err
	}
	for _, key := range []string{PendingPrefix + fileID, DownloadedPrefix + fileID} {
		if err := t.store.Delete(ctx, key); err != nil {
			return false, services.Wrap(services.ErrTransient, trackerStage, "reset", fileID, err)
		}
	}
	had := state.Pending || state.Downloaded
	if had {
		logging.WithContext(ctx, t.logger).Info("inbox markers cleared",
			logging.String(logging.FieldEventType, "inbox_reset"),
			logging.String(logging.FieldFileID, fileID),
			logging.String("previous_state", state.Label()),
		)
	}
	return had, nil
}

// List returns every tracked file ordered by id.
func (t *Tracker) List(ctx context.Context) ([]State, error) {
	byID := make(map[string]*State)
	collect := func(prefix string, apply func(*State, time.Time)) error {
		entries, err := t.store.List(ctx, prefix)
		if err != nil {
			return services.Wrap(services.ErrTransient, trackerStage, "list", prefix, err)
		}
		for _, entry := range entries {
			id := strings.TrimPrefix(entry.Key, prefix)
			state, ok := byID[id]
			if !ok {
				state = &State{FileID: id}
				byID[id] = state
			}
			apply(state, entry.UpdatedAt)
		}
		return nil
	}
	if err := collect(PendingPrefix, func(s *State, at time.Time) { s.Pending, s.PendingAt = true, at }); err != nil {
		return nil, err
	}
	if err := collect(DownloadedPrefix, func(s *State, at time.Time) { s.Downloaded, s.DownloadedAt = true, at }); err != nil {
		return nil, err
	}

	states := make([]State, 0, len(byID))
	for _, state := range byID {
		states = append(states, *state)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].FileID < states[j].FileID })
	return states, nil
}

func validateID(fileID string) error {
	if strings.TrimSpace(fileID) == "" {
		return services.Wrap(services.ErrValidation, trackerStage, "validate", "file id is required", nil)
	}
	if strings.ContainsAny(fileID, "\n\r") {
		return services.Wrap(services.ErrValidation, trackerStage, "validate", fmt.Sprintf("file id %q contains a line break", fileID), nil)
	}
	return nil
}
