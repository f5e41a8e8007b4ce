package schedule

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"voice2action/internal/inbox"
	"voice2action/internal/logging"
	"voice2action/internal/services"
)

// Watcher triggers a tick when a recording lands in the local inbox. Bursts
// of filesystem events collapse into one trigger after the debounce window.
type Watcher struct {
	dir      string
	debounce time.Duration
	trigger  func()
	logger   *slog.Logger
}

// NewWatcher constructs a watcher over dir.
func NewWatcher(dir string, debounce time.Duration, trigger func(), logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		trigger:  trigger,
		logger:   logging.NewComponentLogger(logger, "watcher"),
	}
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "schedule", "watch", "create filesystem watcher", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return services.Wrap(services.ErrConfiguration, "schedule", "watch", "watch "+w.dir, err)
	}
	w.logger.Info("watching local inbox",
		logging.String(logging.FieldEventType, "watcher_started"),
		logging.String("path", w.dir),
	)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()
	armed := false

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !relevant(event) {
				continue
			}
			w.logger.Debug("inbox change",
				logging.String("path", event.Name),
				logging.String("op", event.Op.String()),
			)
			if armed && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)
			armed = true
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logging.WarnWithContext(w.logger, "filesystem watcher error", "watcher_error",
				logging.Error(err),
				logging.String(logging.FieldImpact, "changes are still picked up by the next scheduled tick"),
			)
		case <-timer.C:
			armed = false
			w.trigger()
		}
	}
}

func relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return false
	}
	return inbox.IsAudio(filepath.Base(event.Name))
}
