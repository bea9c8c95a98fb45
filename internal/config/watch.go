package config

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a config file whenever it changes on disk, debouncing
// bursts of writes (editors often emit several events per save) into one
// reload.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger
	onChange func(*Config)

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// WatchOptions configures NewWatcher.
type WatchOptions struct {
	// Debounce bounds how long to wait after the last write event before
	// reloading; defaults to 250ms.
	Debounce time.Duration
	Logger   *slog.Logger
}

// NewWatcher starts watching path for changes, calling onChange with the
// newly loaded Config each time the file changes and reloads cleanly. A
// reload that fails validation is logged and skipped, leaving the last-good
// Config in effect.
func NewWatcher(path string, opts WatchOptions, onChange func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		_ = fw.Close()
		return nil, err
	}

	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{path: path, debounce: debounce, logger: logger, onChange: onChange, watcher: fw, cancel: cancel}

	w.wg.Add(1)
	go w.loop(ctx)
	return w, nil
}

// Close stops watching and releases the underlying inotify/kqueue handle.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, func() {
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Warn("config: reload failed, keeping previous config", "path", w.path, "error", err)
				return
			}
			w.onChange(cfg)
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config: watch error", "path", w.path, "error", err)
		}
	}
}
