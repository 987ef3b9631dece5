package scan

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 50 * time.Millisecond

// ArtifactWatcher announces scan artifacts as they appear in the output
// directory. Bursts of writes to one file collapse into one announcement.
type ArtifactWatcher struct {
	log      *slog.Logger
	dir      string
	pub      Publisher
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
}

func NewArtifactWatcher(log *slog.Logger, dir string, pub Publisher) *ArtifactWatcher {
	if log == nil {
		log = slog.Default()
	}
	return &ArtifactWatcher{
		log:      log,
		dir:      dir,
		pub:      pub,
		debounce: defaultDebounce,
		pending:  make(map[string]*time.Timer),
	}
}

// Run watches until ctx is done.
func (w *ArtifactWatcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.log.Info("scan.watch.start", "dir", w.dir)

	defer w.stopPending()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			name := filepath.Base(ev.Name)
			if !isArtifact(name) {
				continue
			}
			w.schedule(name)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("scan.watch.error", "err", err)
		}
	}
}

func (w *ArtifactWatcher) schedule(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[name]; ok {
		t.Reset(w.debounce)
		return
	}
	w.pending[name] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, name)
		w.mu.Unlock()
		if w.pub != nil {
			w.pub.Publish("Scan artifact updated: " + name)
		}
	})
}

func (w *ArtifactWatcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for name, t := range w.pending {
		t.Stop()
		delete(w.pending, name)
	}
}

func isArtifact(name string) bool {
	for _, p := range []string{PatternNmap, PatternWifi} {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}
