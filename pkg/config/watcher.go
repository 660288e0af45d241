package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/marmos91/dicomul/internal/logger"
	"github.com/marmos91/dicomul/pkg/ul/negotiation"
)

// reloadDebounce coalesces the bursts of events editors produce for one
// save.
const reloadDebounce = 250 * time.Millisecond

// PolicyWatcher reloads the presentation context policy when the
// configuration file changes.
//
// The directory is watched rather than the file: editors and config
// management tools replace files by rename, which drops a watch on the
// file itself. A file that fails to load or validate is logged and
// ignored; the running policy stays in place.
type PolicyWatcher struct {
	path     string
	onChange func(*negotiation.AcceptorPolicy)
	debounce time.Duration
}

// NewPolicyWatcher creates a watcher for path. onChange receives each
// successfully rebuilt policy.
func NewPolicyWatcher(path string, onChange func(*negotiation.AcceptorPolicy)) *PolicyWatcher {
	return &PolicyWatcher{path: path, onChange: onChange, debounce: reloadDebounce}
}

// Run watches until ctx is cancelled.
func (w *PolicyWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	abs, err := filepath.Abs(w.path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}
	logger.Info("Watching configuration for policy changes", logger.KeyPath, abs)

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerCh = timer.C

		case <-timerCh:
			timerCh = nil
			w.reload(abs)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Configuration watcher error", logger.Err(err))
		}
	}
}

func (w *PolicyWatcher) reload(path string) {
	cfg, err := Load(path)
	if err != nil {
		logger.Warn("Configuration reload failed, keeping current policy", logger.Err(err))
		return
	}
	policy, err := cfg.AcceptorPolicy()
	if err != nil {
		logger.Warn("Policy rebuild failed, keeping current policy", logger.Err(err))
		return
	}
	w.onChange(policy)
}
