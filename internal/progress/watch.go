package progress

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultPollInterval is used when the filesystem watcher is unavailable.
const DefaultPollInterval = 5 * time.Second

// Watch calls fn with the sub-task ID of every record that is created or
// replaced, until ctx is cancelled. It uses fsnotify and falls back to
// polling modification times if a watcher cannot be created.
func (l *Ledger) Watch(ctx context.Context, fn func(subTaskID string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		l.log.Warn("progress watcher unavailable, polling instead", "error", err)
		return l.poll(ctx, DefaultPollInterval, fn)
	}
	defer watcher.Close()

	if err := watcher.Add(l.dir); err != nil {
		l.log.Warn("cannot watch progress directory, polling instead", "dir", l.dir, "error", err)
		return l.poll(ctx, DefaultPollInterval, fn)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if id, ok := recordID(event.Name); ok {
				fn(id)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.log.Warn("progress watcher error", "error", err)
		}
	}
}

func recordID(path string) (string, bool) {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || !strings.HasSuffix(base, recordExt) {
		return "", false
	}
	return strings.TrimSuffix(base, recordExt), true
}

// poll scans the directory every interval and reports records whose
// modification time changed since the previous scan.
func (l *Ledger) poll(ctx context.Context, interval time.Duration, fn func(string)) error {
	seen := l.modTimes()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			current := l.modTimes()
			for id, mod := range current {
				if prev, ok := seen[id]; !ok || !prev.Equal(mod) {
					fn(id)
				}
			}
			seen = current
		}
	}
}

func (l *Ledger) modTimes() map[string]time.Time {
	out := make(map[string]time.Time)
	ids, err := l.ids()
	if err != nil {
		l.log.Warn("progress poll failed", "error", err)
		return out
	}
	for _, id := range ids {
		if info, err := os.Stat(l.RecordPath(id)); err == nil {
			out[id] = info.ModTime()
		}
	}
	return out
}
