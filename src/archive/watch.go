package archive

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"interaction-ingest/src/logger"
)

// DefaultSettle is how long a file must stay unmodified before it is ingested.
const DefaultSettle = 250 * time.Millisecond

// Watcher ingests envelope files as they appear under a directory tree.
// A file is ingested once its writes have settled; a rewritten file is
// ingested again, which the idempotent pipeline absorbs.
type Watcher struct {
	replayer *Replayer
	settle   time.Duration
	// IncludeExisting replays files already present before watching.
	IncludeExisting bool
	logger          logger.Logger
	ready           chan struct{}
}

// NewWatcher creates a single-use Watcher.
func NewWatcher(r *Replayer, settle time.Duration, log logger.Logger) *Watcher {
	if settle <= 0 {
		settle = DefaultSettle
	}
	return &Watcher{replayer: r, settle: settle, logger: log, ready: make(chan struct{})}
}

// Ready is closed once the directory is being watched.
func (w *Watcher) Ready() <-chan struct{} { return w.ready }

// Watch runs until ctx is cancelled and returns what it ingested.
// Cancellation is a normal stop and yields a nil error.
func (w *Watcher) Watch(ctx context.Context, dir string) (Report, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return Report{}, fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	if err := addTree(fw, dir); err != nil {
		return Report{}, err
	}
	w.logger.Info("[Watch] Watching %s", dir)
	close(w.ready)

	var rep Report
	if w.IncludeExisting {
		files, err := ListFiles(dir)
		if err != nil {
			return rep, err
		}
		for _, path := range files {
			w.replayer.ReplayFile(ctx, path, &rep)
		}
	}

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(w.settle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("[Watch] Stopped: %d ingested, %d failed", rep.Succeeded, rep.Failed)
			return rep, nil

		case ev, ok := <-fw.Events:
			if !ok {
				return rep, nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addTree(fw, ev.Name); err != nil {
						w.logger.Warn("[Watch] %v", err)
					}
					continue
				}
			}
			if (ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write)) && isEnvelopeFile(ev.Name) {
				pending[ev.Name] = time.Now()
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return rep, nil
			}
			w.logger.Warn("[Watch] Watcher error: %v", err)

		case now := <-ticker.C:
			for path, last := range pending {
				if now.Sub(last) < w.settle {
					continue
				}
				delete(pending, path)
				res := w.replayer.ReplayFile(ctx, path, &rep)
				if res.OK() {
					w.logger.Debug("[Watch] Ingested %s", filepath.Base(path))
				}
			}
		}
	}
}

func addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := fw.Add(path); err != nil {
				return fmt.Errorf("failed to watch %s: %w", path, err)
			}
		}
		return nil
	})
}
