package knowledge

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/arbiter/internal/event"
	"github.com/Iron-Ham/arbiter/internal/logging"
)

// Watcher reports changes to knowledge.json made by any process. It watches
// the state directory rather than the file because atomic writes replace
// the file's inode.
type Watcher struct {
	dir      string
	debounce time.Duration
	bus      *event.Bus
	logger   *logging.Logger
}

// NewWatcher creates a watcher over dir that publishes a knowledge.changed
// event on bus for every change.
func NewWatcher(dir string, bus *event.Bus, logger *logging.Logger) *Watcher {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Watcher{
		dir:      dir,
		debounce: 50 * time.Millisecond,
		bus:      bus,
		logger:   logger,
	}
}

// Run blocks until ctx is done, delivering one notification per burst of
// filesystem events.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	// Editors and atomic renames produce several events per save.
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	var pending *fsnotify.Event

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != KnowledgeFile {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) == 0 {
				continue
			}
			e := ev
			pending = &e
			timer.Reset(w.debounce)

		case <-timer.C:
			if pending == nil {
				continue
			}
			changed := event.NewKnowledgeChanged(pending.Name, pending.Op.String())
			pending = nil
			w.logger.Info("knowledge document changed", "path", changed.Path, "op", changed.Op)
			w.bus.Publish(changed)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err.Error())
		}
	}
}
