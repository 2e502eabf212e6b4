package modelsync

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// OptionsWatcher hot-reloads an Options file (YAML or TOML, per
// LoadOptions) whenever it changes on disk, handing each successfully
// parsed Options to a callback. Written directly against the fsnotify API
// rather than copied from a teacher module, since the teacher's own
// configwatcher module depends on fsnotify but its source was not part of
// the retrieved reference material (see SPEC_FULL.md §9.3).
type OptionsWatcher struct {
	path    string
	logger  Logger
	onLoad  func(Options)
	onError func(error)

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewOptionsWatcher constructs a watcher for the options file at path.
// onLoad is called with the newly parsed Options after every write event;
// onError (optional, may be nil) is called when a change is detected but
// the file fails to parse, so a caller can log it without tearing down
// whatever Options are already in effect.
func NewOptionsWatcher(path string, logger Logger, onLoad func(Options), onError func(error)) *OptionsWatcher {
	return &OptionsWatcher{path: path, logger: orNoopLogger(logger), onLoad: onLoad, onError: onError}
}

// Start begins watching. It loads and delivers the file's current contents
// once synchronously before returning, so a caller always has an initial
// Options value without waiting on the first filesystem event.
func (w *OptionsWatcher) Start() error {
	initial, err := LoadOptions(w.path)
	if err != nil {
		return fmt.Errorf("modelsync: initial options load: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("modelsync: create options watcher: %w", err)
	}
	if err := fsw.Add(w.path); err != nil {
		fsw.Close()
		return fmt.Errorf("modelsync: watch options file: %w", err)
	}

	w.mu.Lock()
	w.watcher = fsw
	w.done = make(chan struct{})
	w.mu.Unlock()

	w.onLoad(initial)
	go w.run(fsw, w.done)
	return nil
}

func (w *OptionsWatcher) run(fsw *fsnotify.Watcher, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			opts, err := LoadOptions(w.path)
			if err != nil {
				w.logger.Warn("options reload failed", "path", w.path, "error", err)
				if w.onError != nil {
					w.onError(err)
				}
				continue
			}
			w.logger.Info("options reloaded", "path", w.path)
			w.onLoad(opts)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("options watcher error", "path", w.path, "error", err)
			if w.onError != nil {
				w.onError(err)
			}
		}
	}
}

// Stop halts the watcher and releases its filesystem handle. Idempotent.
func (w *OptionsWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return
	}
	close(w.done)
	w.watcher.Close()
	w.watcher = nil
}
