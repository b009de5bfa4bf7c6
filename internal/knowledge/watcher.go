package knowledge

import (
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the knowledge base when files under its directory
// change. fsnotify does not watch recursively, so every subdirectory is
// registered; directories created later are picked up from their
// create events. Bursts of edits collapse into one reload.
type Watcher struct {
	base     *Base
	fsw      *fsnotify.Watcher
	debounce time.Duration
	stop     chan struct{}

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher creates a watcher over the base's directory.
func NewWatcher(base *Base) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		base:     base,
		fsw:      fsw,
		debounce: time.Second,
	}, nil
}

// Start registers the directory tree and begins watching.
func (w *Watcher) Start() error {
	err := filepath.WalkDir(w.base.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fsw.Add(path)
		}
		return nil
	})
	if err != nil {
		return err
	}
	w.stop = make(chan struct{})
	go w.loop()
	slog.Info("knowledge watcher started", "dir", w.base.dir)
	return nil
}

// Stop halts the watcher.
func (w *Watcher) Stop() {
	if w.stop != nil {
		close(w.stop)
	}
	w.fsw.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.stop:
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) {
				// New subdirectory: watch it too. Add on a file is
				// harmless and fails quietly for non-directories.
				w.fsw.Add(event.Name)
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.scheduleReload()
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Error("knowledge watcher error", "error", err)
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if err := w.base.Reload(); err != nil {
			slog.Error("knowledge reload failed", "error", err)
		}
	})
}
