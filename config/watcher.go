package config

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/aimux/gateway/errors"
	"github.com/aimux/gateway/logger"
)

// ReloadCallback is notified with the freshly loaded Config after a debounced
// file-change event. A non-nil return aborts the reload (the previous Config
// stays active) and is logged.
type ReloadCallback func(Config) error

// Watcher watches a config file for changes and reloads it, debouncing
// rapid successive writes and ignoring events for editor backup, swap and
// hidden files and for other files in the same directory.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	current  Config
	cbs      []ReloadCallback
	debounce time.Duration
	timer    *time.Timer
	stopCh   chan struct{}
}

// NewWatcher builds a Watcher for path, using initial as the currently-active
// Config (normally the result of an earlier Load call).
func NewWatcher(path string, initial Config) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create config watcher")
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, errors.Wrapf(err, "failed to watch directory of %s", path)
	}
	return &Watcher{
		path:     path,
		watcher:  fw,
		current:  initial,
		debounce: 500 * time.Millisecond,
		stopCh:   make(chan struct{}),
	}, nil
}

// OnReload registers a callback invoked after every successful reload.
func (w *Watcher) OnReload(cb ReloadCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cbs = append(w.cbs, cb)
}

// Current returns the most recently loaded Config.
func (w *Watcher) Current() Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Start begins the watch loop in the caller's goroutine; callers typically
// wrap this in a supervised worker body.
func (w *Watcher) Start() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if isBackupFile(event.Name) {
				continue
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("%s config watcher error: %v", logger.SymbolConfig, err)
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		logger.Warnf("%s config reload failed, keeping previous config: %v", logger.SymbolConfig, err)
		return
	}

	w.mu.Lock()
	cbs := make([]ReloadCallback, len(w.cbs))
	copy(cbs, w.cbs)
	w.mu.Unlock()

	for _, cb := range cbs {
		if err := cb(cfg); err != nil {
			logger.Warnf("%s config reload callback rejected new config: %v", logger.SymbolConfig, err)
			return
		}
	}

	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()
}

// Stop terminates the watch loop and releases the underlying fsnotify handle.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	return w.watcher.Close()
}

func isBackupFile(name string) bool {
	base := filepath.Base(name)
	return strings.HasSuffix(base, "~") || strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".swp")
}
