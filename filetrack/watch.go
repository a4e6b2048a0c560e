package filetrack

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reacts to changes under a workspace root by invoking a debounced
// trigger, so a long-running caller (cmd/wtbd's serve command) can run
// opportunistic orphan scans instead of polling the filesystem on a timer.
// Grounded directly on kadirpekel-hector's v2/rag.FileWatcher: recursively
// fsnotify.Add every directory, coalesce bursts of events behind a
// debounce timer, skip Chmod-only events.
type Watcher struct {
	watcher  *fsnotify.Watcher
	root     string
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewWatcher roots a Watcher at root. debounce coalesces rapid bursts of
// filesystem events (e.g. a build writing dozens of files at once) into a
// single trigger call; zero defaults to 200ms.
func NewWatcher(root string, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce == 0 {
		debounce = 200 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{watcher: fsw, root: root, debounce: debounce, logger: logger}, nil
}

// Start recursively adds root and its subdirectories (skipping hidden
// ones, matching discoverFiles's own rule) to the watch set and invokes
// onChange, debounced, whenever a non-Chmod event fires. Calling Start
// twice without an intervening Stop is a no-op.
func (w *Watcher) Start(ctx context.Context, onChange func()) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	if err := w.addRecursive(); err != nil {
		return err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true

	w.wg.Add(1)
	go w.loop(watchCtx, onChange)
	return nil
}

// Stop closes the underlying fsnotify watcher and waits for the event
// loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.cancel()
	w.mu.Unlock()

	_ = w.watcher.Close()
	w.wg.Wait()

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
}

func (w *Watcher) addRecursive() error {
	return filepath.WalkDir(w.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() != "." && len(d.Name()) > 0 && d.Name()[0] == '.' && path != w.root {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn("filetrack: failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context, onChange func()) {
	defer w.wg.Done()

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, onChange)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("filetrack: watch error", "root", w.root, "error", err)
		}
	}
}
