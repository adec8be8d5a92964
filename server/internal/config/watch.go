package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay coalesces the event burst of a single save (truncate, write,
// chmod, rename) into one reload.
const reloadDelay = 100 * time.Millisecond

// ThresholdDiff lists the metric names whose thresholds differ between two
// tables. Each list is sorted.
type ThresholdDiff struct {
	Added   []string
	Removed []string
	Changed []string
}

// Empty reports whether the tables were identical.
func (d ThresholdDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// DiffThresholds compares two threshold tables.
func DiffThresholds(old, next map[string]Threshold) ThresholdDiff {
	var d ThresholdDiff
	for name, th := range next {
		prev, ok := old[name]
		switch {
		case !ok:
			d.Added = append(d.Added, name)
		case prev != th:
			d.Changed = append(d.Changed, name)
		}
	}
	for name := range old {
		if _, ok := next[name]; !ok {
			d.Removed = append(d.Removed, name)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Changed)
	return d
}

// WatchThresholds reloads path whenever it is saved and calls apply with the
// new alert thresholds if they differ from the ones in effect, starting from
// current. It runs until ctx is cancelled.
//
// The parent directory is watched, so editors that save by renaming a temp
// file over path keep working. A reload that fails to parse or validate is
// logged and skipped.
func WatchThresholds(ctx context.Context, path string, current map[string]Threshold, apply func(map[string]Threshold)) error {
	target := filepath.Clean(path)
	if _, err := os.Stat(target); err != nil {
		return fmt.Errorf("server config: watch %q: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("server config: watch %q: %w", path, err)
	}

	slog.Info("config: watching thresholds", "path", path, "count", len(current))

	inEffect := cloneThresholds(current)
	reload := time.NewTimer(time.Hour)
	reload.Stop()
	defer reload.Stop()

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
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			reload.Reset(reloadDelay)

		case <-reload.C:
			cfg, err := Load(target)
			if err != nil {
				slog.Error("config: reload failed, keeping thresholds",
					"path", path, "err", err)
				continue
			}
			diff := DiffThresholds(inEffect, cfg.Alerts.Thresholds)
			if diff.Empty() {
				slog.Debug("config: thresholds unchanged", "path", path)
				continue
			}
			slog.Info("config: thresholds reloaded",
				"path", path,
				"added", diff.Added,
				"removed", diff.Removed,
				"changed", diff.Changed,
			)
			inEffect = cloneThresholds(cfg.Alerts.Thresholds)
			apply(cfg.Alerts.Thresholds)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}

func cloneThresholds(th map[string]Threshold) map[string]Threshold {
	out := make(map[string]Threshold, len(th))
	for k, v := range th {
		out[k] = v
	}
	return out
}
