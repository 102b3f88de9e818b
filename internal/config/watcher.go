package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// watchDebounce collapses editor write bursts into one reload.
const watchDebounce = time.Second

// Watcher reloads the configuration file on change and notifies a callback
// with the freshly validated result. Invalid edits are logged and skipped;
// the running configuration stays untouched.
type Watcher struct {
	log     *zap.Logger
	path    string
	watcher *fsnotify.Watcher

	mu    sync.Mutex
	timer *time.Timer
	done  chan struct{}
}

func NewWatcher(log *zap.Logger, path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	return &Watcher{
		log:     log,
		path:    path,
		watcher: fw,
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching. onChange runs on the watcher goroutine after a
// successful reload.
func (w *Watcher) Start(onChange func(*Config)) error {
	if err := w.watcher.Add(w.path); err != nil {
		return fmt.Errorf("watch %s: %w", w.path, err)
	}
	// Watch the directory too: editors commonly replace the file by rename,
	// which drops the direct watch.
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		w.log.Warn("config directory watch failed", zap.Error(err))
	}

	go w.loop(onChange)
	w.log.Info("config watcher started", zap.String("path", w.path))
	return nil
}

func (w *Watcher) Stop() {
	close(w.done)
	w.watcher.Close()
}

func (w *Watcher) loop(onChange func(*Config)) {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule(onChange)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) schedule(onChange func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(watchDebounce, func() {
		cfg, err := Load(w.path)
		if err != nil {
			w.log.Warn("config reload failed, keeping previous settings", zap.Error(err))
			return
		}
		w.log.Info("config reloaded", zap.String("path", w.path))
		onChange(cfg)
	})
}
