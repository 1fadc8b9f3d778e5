// Package filewatch notifies a callback of files that changed under a root
// directory, coalescing bursts of filesystem events into a single batch per
// settle period so a downstream scan doesn't re-run once per write syscall.
package filewatch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher recursively watches root, skipping any directory whose base name
// appears in skipDirs.
type Watcher struct {
	fsw      *fsnotify.Watcher
	root     string
	skipDirs map[string]bool
	log      *slog.Logger
}

// New creates a Watcher rooted at root and adds every eligible subdirectory.
func New(root string, skipDirs []string, log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	skip := make(map[string]bool, len(skipDirs))
	for _, d := range skipDirs {
		skip[d] = true
	}
	w := &Watcher{fsw: fsw, root: root, skipDirs: skip, log: log}
	if err := w.addDirs(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addDirs(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) || os.IsPermission(err) {
				return filepath.SkipDir
			}
			return err
		}
		if !info.IsDir() {
			return nil
		}
		base := filepath.Base(path)
		if w.skipDirs[base] || (strings.HasPrefix(base, ".") && path != root) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil && !os.IsPermission(err) {
			w.log.Warn("file watch add failed", "path", path, "error", err)
		}
		return nil
	})
}

// Run blocks, invoking onChange with the set of distinct paths that changed
// since the last call, once the stream of events has been quiet for
// debounce. Returns when ctx is cancelled or the watcher is closed.
func (w *Watcher) Run(ctx context.Context, debounce time.Duration, onChange func(paths []string)) error {
	defer w.fsw.Close()

	pending := make(map[string]struct{})
	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			pending[event.Name] = struct{}{}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(debounce)
			timerCh = timer.C
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("file watch error", "error", err)
		case <-timerCh:
			timerCh = nil
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			pending = make(map[string]struct{})
			onChange(paths)
		}
	}
}
