// Package progress implements the progress ledger: an out-of-band channel
// through which workers report step progress for their sub-task.
//
// Each sub-task has one JSON record named <subtask-id>.json in the ledger
// directory. Writes replace the record atomically; no history is kept.
// Records are written by untrusted workers, so every read tolerates and
// skips records that fail to parse.
package progress

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ShayCichocki/relay/internal/errors"
	"github.com/ShayCichocki/relay/internal/fileutil"
	"github.com/ShayCichocki/relay/internal/logging"
	"github.com/ShayCichocki/relay/pkg/models"
)

const recordExt = ".json"

// Ledger is a directory of progress records.
type Ledger struct {
	dir string
	now func() time.Time
	log *logging.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source used to stamp records.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLogger sets the diagnostic logger.
func WithLogger(log *logging.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

// Open opens the ledger rooted at dir, creating it if needed.
func Open(dir string, opts ...Option) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create progress directory: %w", err)
	}
	l := &Ledger{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Dir returns the ledger directory.
func (l *Ledger) Dir() string {
	return l.dir
}

// RecordPath returns where the record for subTaskID lives.
func (l *Ledger) RecordPath(subTaskID string) string {
	return filepath.Join(l.dir, subTaskID+recordExt)
}

func validID(id string) bool {
	return id != "" && id != "." && id != ".." &&
		!strings.ContainsAny(id, `/\`) && !strings.HasPrefix(id, ".")
}

// Write replaces the record for r.SubTaskID. The timestamp is set if zero
// and the percentage is always recomputed from the step counters.
func (l *Ledger) Write(r models.ProgressReport) (models.ProgressReport, error) {
	const op = "write progress"

	if !validID(r.SubTaskID) {
		return r, errors.Validation(op, "invalid sub-task id %q", r.SubTaskID)
	}
	if !r.Status.Valid() {
		return r, errors.Validation(op, "invalid status %q (want in_progress, completed, failed or aborted)", r.Status)
	}
	if r.TotalSteps < 0 || r.CurrentStep < 0 {
		return r, errors.Validation(op, "step counters must not be negative")
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = l.now().UTC()
	}
	r.Percentage = models.Percent(r.CurrentStep, r.TotalSteps)

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return r, fmt.Errorf("marshal progress: %w", err)
	}
	if err := fileutil.WriteAtomic(l.RecordPath(r.SubTaskID), data, 0644); err != nil {
		return r, errors.Persistence(op, err)
	}
	return r, nil
}

// Read returns the record for subTaskID. ok is false if none exists.
// An unparsable record is reported as a corruption error.
func (l *Ledger) Read(subTaskID string) (report models.ProgressReport, ok bool, err error) {
	if !validID(subTaskID) {
		return report, false, nil
	}
	data, err := os.ReadFile(l.RecordPath(subTaskID))
	if os.IsNotExist(err) {
		return report, false, nil
	}
	if err != nil {
		return report, false, fmt.Errorf("read progress %s: %w", subTaskID, err)
	}
	if err := json.Unmarshal(data, &report); err != nil {
		return report, false, errors.Corruption("read progress", subTaskID, err)
	}
	if report.SubTaskID == "" {
		report.SubTaskID = subTaskID
	}
	return report, true, nil
}

// Exists reports whether a record file exists for subTaskID, parsable or not.
func (l *Ledger) Exists(subTaskID string) bool {
	if !validID(subTaskID) {
		return false
	}
	_, err := os.Stat(l.RecordPath(subTaskID))
	return err == nil
}

// Remove deletes the record for subTaskID. Missing records are not an error.
func (l *Ledger) Remove(subTaskID string) error {
	if !validID(subTaskID) {
		return nil
	}
	if err := os.Remove(l.RecordPath(subTaskID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove progress %s: %w", subTaskID, err)
	}
	return nil
}

// ids returns the sub-task IDs with a record file, sorted.
func (l *Ledger) ids() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read progress directory: %w", err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, recordExt) {
			continue
		}
		out = append(out, strings.TrimSuffix(name, recordExt))
	}
	sort.Strings(out)
	return out, nil
}

// Listing is the result of List.
type Listing struct {
	Reports []models.ProgressReport
	// Corrupt holds the IDs of records that failed to parse.
	Corrupt []string
}

// List returns every parsable record. Corrupt records are logged and
// reported by ID; they never prevent listing the rest.
func (l *Ledger) List() (Listing, error) {
	var out Listing
	ids, err := l.ids()
	if err != nil {
		return out, err
	}
	for _, id := range ids {
		r, ok, err := l.Read(id)
		if err != nil {
			l.log.Warn("skipping unreadable progress record", "subtask_id", id, "error", err)
			out.Corrupt = append(out.Corrupt, id)
			continue
		}
		if ok {
			out.Reports = append(out.Reports, r)
		}
	}
	return out, nil
}

// CleanupResult counts what a ledger cleanup did or would do.
type CleanupResult struct {
	// Removed counts terminal records deleted, or that would be in report-only mode.
	Removed int `json:"removed"`
	// Corrupt counts unparsable records, which are skipped.
	Corrupt int `json:"corrupt"`
	// Preserved counts non-terminal records left in place.
	Preserved int `json:"preserved"`
	// MissingStatus counts records without a status. They are preserved and flagged.
	MissingStatus []string `json:"missing_status,omitempty"`
}

// CleanupCompleted removes every record whose status is terminal. With
// reportOnly it only counts. A failed removal is logged and the record is
// counted as preserved.
func (l *Ledger) CleanupCompleted(reportOnly bool) (CleanupResult, error) {
	var res CleanupResult
	ids, err := l.ids()
	if err != nil {
		return res, err
	}

	for _, id := range ids {
		r, ok, err := l.Read(id)
		if err != nil {
			l.log.Warn("skipping unreadable progress record", "subtask_id", id, "error", err)
			res.Corrupt++
			continue
		}
		if !ok {
			continue
		}

		switch {
		case r.Status == "":
			l.log.Warn("progress record has no status", "subtask_id", id)
			res.MissingStatus = append(res.MissingStatus, id)
			res.Preserved++
		case r.Status.IsTerminal():
			if reportOnly {
				res.Removed++
				continue
			}
			if err := l.Remove(id); err != nil {
				l.log.Warn("failed to remove progress record", "subtask_id", id, "error", err)
				res.Preserved++
				continue
			}
			res.Removed++
		default:
			res.Preserved++
		}
	}
	return res, nil
}
