package vmstate

import (
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports snapshot files created, replaced or removed in a
// FileEngine directory, including changes made by other processes.
type Watcher struct {
	watcher   *fsnotify.Watcher
	dir       string
	callbacks []func(string)
	mu        sync.RWMutex
	done      chan struct{}
	stopOnce  sync.Once
	logger    *slog.Logger
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatcherLogger sets the logger for the watcher.
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// NewWatcher creates a watcher on dir.
func NewWatcher(dir string, opts ...WatcherOption) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher: fw,
		dir:     dir,
		done:    make(chan struct{}),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := fw.Add(dir); err != nil {
		fw.Close()
		w.logger.Error("failed to watch snapshot directory", "path", dir, "error", err)
		return nil, err
	}
	w.logger.Debug("watching snapshot directory", "path", dir)
	return w, nil
}

// OnChange registers a callback called with the snapshot name whenever
// its file changes.
func (w *Watcher) OnChange(callback func(name string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start processes events until Stop is called.
func (w *Watcher) Start() {
	w.logger.Info("snapshot watcher started", "dir", w.dir)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			name, ok := snapshotName(event.Name)
			if !ok {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.logger.Debug("snapshot file changed", "snapshot", name, "op", event.Op.String())
				w.notifyCallbacks(name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("snapshot watcher error", "error", err)
		case <-w.done:
			return
		}
	}
}

// StartAsync starts watching in a goroutine.
func (w *Watcher) StartAsync() {
	go w.Start()
}

// Stop stops the watcher. It is safe to call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		if err = w.watcher.Close(); err != nil {
			w.logger.Error("failed to close watcher", "error", err)
			return
		}
		w.logger.Info("snapshot watcher stopped")
	})
	return err
}

func (w *Watcher) notifyCallbacks(name string) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, cb := range w.callbacks {
		cb(name)
	}
}

// snapshotName maps a committed snapshot file path to its snapshot name.
func snapshotName(path string) (string, bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, FileExtension) || base == FileExtension {
		return "", false
	}
	return strings.TrimSuffix(base, FileExtension), true
}
