package loader

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

const DefaultDebounce = 2 * time.Second

// Watcher calls a function when files matching the loader's pattern appear
// in its directory. Bursts of events are collapsed into one call.
type Watcher struct {
	Dir      string
	Pattern  string
	Debounce time.Duration
	Logger   *slog.Logger
}

// Run blocks until ctx is done. Errors from onChange are logged, not returned.
func (w *Watcher) Run(ctx context.Context, onChange func(context.Context) error) error {
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	pattern := w.Pattern
	if pattern == "" {
		pattern = "*.pdf"
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.Dir, err)
	}
	logger.Info("watching for documents", "dir", w.Dir, "pattern", pattern)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if !matches(w.Dir, pattern, ev.Name) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", "err", err)
		case <-fire:
			fire = nil
			if err := onChange(ctx); err != nil {
				logger.Error("ingestion after change failed", "err", err)
			}
		}
	}
}

func matches(dir, pattern, name string) bool {
	rel, err := filepath.Rel(dir, name)
	if err != nil {
		return false
	}
	ok, err := doublestar.PathMatch(pattern, rel)
	return err == nil && ok
}
