package extraction

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher serves rules loaded from a file and swaps them in when the file
// changes. A reload that fails keeps the previous rules.
type Watcher struct {
	path    string
	current atomic.Pointer[Rules]
	reloads atomic.Int64
	logger  zerolog.Logger
}

// NewWatcher loads path once; the initial load must succeed.
func NewWatcher(path string, logger zerolog.Logger) (*Watcher, error) {
	rules, err := LoadRules(path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{path: path, logger: logger}
	w.current.Store(rules)
	return w, nil
}

func (w *Watcher) Current() *Rules { return w.current.Load() }

// Reload re-reads the file now.
func (w *Watcher) Reload() error {
	rules, err := LoadRules(w.path)
	if err != nil {
		return err
	}
	w.current.Store(rules)
	w.reloads.Add(1)
	return nil
}

// Run watches the file's directory until ctx is done. Editors often replace
// files by rename, so the directory is watched rather than the file.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create rules watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", w.path, err)
	}
	target := filepath.Clean(w.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if err := w.Reload(); err != nil {
				w.logger.Error().Err(err).Str("path", w.path).Msg("rules reload failed, keeping previous rules")
				continue
			}
			w.logger.Info().Str("path", w.path).Int64("reloads", w.reloads.Load()).Msg("extraction rules reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("rules watcher error")
		}
	}
}

var (
	_ RuleSource = (*Watcher)(nil)
	_ RuleSource = (*Rules)(nil)
)
