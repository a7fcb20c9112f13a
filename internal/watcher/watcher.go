// Package watcher provides file system watching for issue state directories.
// It monitors <data>/issues/ and publishes events when state files change,
// so WebSocket observers learn about edits made outside the running server.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/jeevesbot/jeeves/internal/events"
	"github.com/jeevesbot/jeeves/internal/issue"
)

// watchedFiles are the state files whose changes are worth publishing.
var watchedFiles = map[string]bool{
	issue.StateFileName:     true,
	issue.ProgressFileName:  true,
	issue.LogFileName:       true,
	issue.SDKOutputFileName: true,
}

// Config configures the issue directory watcher.
type Config struct {
	IssuesDir  string
	Publisher  events.Publisher
	Logger     *slog.Logger
	DebounceMs int // default 500
}

// Watcher monitors the issues directory tree for state file changes.
type Watcher struct {
	issuesDir string
	publisher events.Publisher
	logger    *slog.Logger

	fsWatcher *fsnotify.Watcher
	debouncer *Debouncer

	done chan struct{}
}

// New creates a new issue directory watcher.
func New(cfg *Config) (*Watcher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if cfg.IssuesDir == "" {
		return nil, fmt.Errorf("issues dir is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounceMs := cfg.DebounceMs
	if debounceMs <= 0 {
		debounceMs = 500
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		issuesDir: cfg.IssuesDir,
		publisher: cfg.Publisher,
		logger:    logger,
		fsWatcher: fsWatcher,
		done:      make(chan struct{}),
	}
	w.debouncer = NewDebouncer(debounceMs, w.publishChange)
	return w, nil
}

// Start begins watching the issues directory.
// Blocks until the context is cancelled or an error occurs.
func (w *Watcher) Start(ctx context.Context) error {
	// Watch the parent so we notice when issues/ itself appears.
	if err := w.fsWatcher.Add(filepath.Dir(w.issuesDir)); err != nil {
		w.logger.Warn("failed to watch data directory", "error", err)
	}

	if _, err := os.Stat(w.issuesDir); os.IsNotExist(err) {
		w.logger.Debug("issues directory does not exist, will watch when created", "path", w.issuesDir)
	} else if err := w.addWatchRecursive(w.issuesDir); err != nil {
		w.logger.Warn("failed to add initial watches", "error", err)
	}

	w.logger.Info("issue watcher started", "dir", w.issuesDir)

	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return ctx.Err()

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handleFSEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("fsnotify error", "error", err)
		}
	}
}

// Stop gracefully shuts down the watcher.
func (w *Watcher) Stop() error {
	select {
	case <-w.done:
		return nil
	default:
		close(w.done)
	}

	w.debouncer.Stop()
	if err := w.fsWatcher.Close(); err != nil {
		return fmt.Errorf("close fsnotify watcher: %w", err)
	}
	w.logger.Info("issue watcher stopped")
	return nil
}

// Done returns a channel that's closed when the watcher stops.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

// addWatchRecursive adds the directory and all subdirectories to the watch list.
func (w *Watcher) addWatchRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := w.fsWatcher.Add(path); err != nil {
				w.logger.Debug("failed to watch directory", "path", path, "error", err)
			}
		}
		return nil
	})
}

// handleFSEvent processes a raw fsnotify event.
func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	path := event.Name

	if event.Has(fsnotify.Create) {
		if path == w.issuesDir {
			w.logger.Info("issues directory created, adding watches")
			if err := w.addWatchRecursive(w.issuesDir); err != nil {
				w.logger.Warn("failed to watch issues directory", "error", err)
			}
			return
		}
		// New owner/repo/number directories need watches of their own.
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if strings.HasPrefix(path, w.issuesDir) {
				if err := w.fsWatcher.Add(path); err != nil {
					w.logger.Debug("failed to watch new directory", "path", path, "error", err)
				}
			}
			return
		}
	}

	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}

	ref, file := w.classify(path)
	if ref == "" || !watchedFiles[file] {
		return
	}
	w.debouncer.Trigger(ref, file, path)
}

// classify maps a path under issuesDir to an issue reference string and the
// state file name. Paths outside issuesDir, or not at the
// owner/repo/number/file depth, yield an empty reference.
func (w *Watcher) classify(path string) (string, string) {
	rel, err := filepath.Rel(w.issuesDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", ""
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 4 {
		return "", ""
	}
	ref, err := issue.ParseRef(fmt.Sprintf("%s/%s#%s", parts[0], parts[1], parts[2]))
	if err != nil {
		return "", ""
	}
	return ref.String(), parts[3]
}

// publishChange is the debouncer callback.
func (w *Watcher) publishChange(ref, file, path string) {
	w.logger.Debug("issue state changed", "issue", ref, "file", file)
	w.publisher.Publish(events.New(events.EventIssueUpdated, ref, map[string]any{
		"file": file,
	}))
}
