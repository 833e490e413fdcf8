// Package activity is the append-only audit trail of lifecycle transitions.
// Entries are JSON objects, one per line.
package activity

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ShayCichocki/relay/internal/logging"
)

// Event is the kind of an activity entry.
type Event string

const (
	EventTaskCreated       Event = "task_created"
	EventSubTaskCreated    Event = "subtask_created"
	EventSpawned           Event = "spawned"
	EventSpawnFailed       Event = "spawn_failed"
	EventSessionBound      Event = "session_bound"
	EventStatusChanged     Event = "status_changed"
	EventReconciled        Event = "reconciled"
	EventAborted           Event = "aborted"
	EventAbortFailed       Event = "abort_failed"
	EventFrozen            Event = "frozen"
	EventMessageSent       Event = "message_sent"
	EventSessionEnded      Event = "session_ended"
	EventTimeoutDetected   Event = "timeout_detected"
	EventCleanup           Event = "cleanup"
	EventZombieDetected    Event = "zombie_detected"
	EventRegistryChanged   Event = "registry_changed"
	EventProgressCorrupted Event = "progress_corrupted"
)

// Entry is one line of the activity log.
type Entry struct {
	Timestamp  time.Time      `json:"timestamp"`
	Event      Event          `json:"event"`
	MainTaskID string         `json:"main_task_id,omitempty"`
	SubTaskID  string         `json:"subtask_id,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	Status     string         `json:"status,omitempty"`
	Message    string         `json:"message,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// Log appends entries to a JSON-lines file.
type Log struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
	diag *logging.Logger
}

// Open opens the activity log at path, creating its directory.
func Open(path string, diag *logging.Logger) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create activity log directory: %w", err)
	}
	return &Log{path: path, now: time.Now, diag: diag}, nil
}

// SetClock overrides the time source for entries without a timestamp.
func (l *Log) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Path returns the log file path.
func (l *Log) Path() string {
	return l.path
}

// Append writes e as one line. Each line is written with a single
// O_APPEND write so concurrent writers never interleave within a line.
func (l *Log) Append(e Entry) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal activity entry: %w", err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open activity log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("append activity entry: %w", err)
	}
	return nil
}

// Record appends e and logs a failure instead of returning it. The audit
// trail must never block the transition it describes.
func (l *Log) Record(e Entry) {
	if l == nil {
		return
	}
	if err := l.Append(e); err != nil {
		l.diag.Warn("activity log write failed", "event", string(e.Event), "error", err)
	}
}

// Tail returns up to n of the most recent entries, oldest first. Lines
// that fail to parse are skipped. n <= 0 returns every entry.
func (l *Log) Tail(n int) ([]Entry, error) {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open activity log: %w", err)
	}
	defer f.Close()

	var out []Entry
	skipped := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			skipped++
			continue
		}
		out = append(out, e)
		if n > 0 && len(out) > n {
			out = out[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("read activity log: %w", err)
	}
	if skipped > 0 {
		l.diag.Warn("skipped unparsable activity entries", "count", skipped)
	}
	return out, nil
}
