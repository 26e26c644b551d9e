package knowledge

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchProjectDir watches the project directory for filesystem events
// and triggers a debounced indexing cycle on top of the periodic
// timer, so edits are picked up sooner without replacing the
// fixed-interval cycle as the source of truth.
func (ix *Indexer) WatchProjectDir(ctx context.Context, debounce time.Duration) error {
	if ix.cfg.ProjectDir == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := addRecursive(watcher, ix.cfg.ProjectDir, ix.cfg.Denylist); err != nil {
		return err
	}

	var timer *time.Timer
	trigger := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case trigger <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("project watch error", "error", err)
		case <-trigger:
			if _, err := ix.RunCycle(ctx); err != nil {
				slog.Warn("debounced indexing cycle failed", "error", err)
			}
		}
	}
}

func addRecursive(w *fsnotify.Watcher, root string, denylist []string) error {
	denied := make(map[string]bool, len(denylist))
	for _, d := range denylist {
		denied[d] = true
	}
	return walkDirs(root, denied, func(dir string) error {
		return w.Add(dir)
	})
}
