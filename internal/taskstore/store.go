// Package taskstore is the authoritative, durably persisted record of every
// main task and its sub-tasks.
//
// The store is one JSON document. Every operation takes an in-process mutex
// and a cross-process flock, reloads the document, applies its change, and
// atomically replaces the document before returning. Readers therefore never
// observe a partial write and concurrent writers never lose updates.
package taskstore

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/relay/internal/errors"
	"github.com/ShayCichocki/relay/internal/fileutil"
	"github.com/ShayCichocki/relay/internal/logging"
	"github.com/ShayCichocki/relay/pkg/models"
)

// backupThreshold is the number of deletions in one pass above which the
// store is snapshotted first.
const backupThreshold = 10

// Archiver receives a copy of the persisted store before large deletions.
type Archiver interface {
	Snapshot(reason string, document []byte) error
}

// Store is the task store. It is safe for concurrent use.
type Store struct {
	dir     string
	mu      sync.Mutex
	now     func() time.Time
	archive Archiver
	log     *logging.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithArchiver sets where snapshots go before large deletions.
func WithArchiver(a Archiver) Option {
	return func(s *Store) { s.archive = a }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.log = l }
}

// Open opens the store rooted at dir, creating the directory if needed.
// A missing or unparsable document yields an empty store.
func Open(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create task store directory: %w", err)
	}

	s := &Store{
		dir: dir,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	// Surface quarantine of a corrupt document at startup rather than on first use.
	if err := s.read(func(*state) error { return nil }); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the path of the store document.
func (s *Store) Path() string {
	return filepath.Join(s.dir, storeFileName)
}

func (s *Store) clock() time.Time {
	return s.now().UTC()
}

// read runs fn against a freshly loaded copy of the store.
func (s *Store) read(fn func(*state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fl := fileutil.NewLock(filepath.Join(s.dir, lockFileName))
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("acquire store lock: %w", err)
	}
	defer func() { _ = fl.Unlock() }()

	st, err := s.load()
	if err != nil {
		return err
	}
	return fn(st)
}

// write runs fn against a freshly loaded copy of the store and persists the
// result if fn reports a change.
func (s *Store) write(op string, fn func(*state) (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fl := fileutil.NewLock(filepath.Join(s.dir, lockFileName))
	if err := fl.Lock(); err != nil {
		return errors.Persistence(op, fmt.Errorf("acquire store lock: %w", err))
	}
	defer func() { _ = fl.Unlock() }()

	st, err := s.load()
	if err != nil {
		return err
	}

	changed, err := fn(st)
	if err != nil || !changed {
		return err
	}

	if err := s.save(st); err != nil {
		return errors.Persistence(op, err)
	}
	return nil
}

// NewTaskID returns a time-ordered ID with a random suffix.
func NewTaskID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("task-%d-%s", now.UnixMilli(), suffix)
}

// SubTaskID returns the ID of the n-th (1-based) sub-task of a main task.
func SubTaskID(mainTaskID string, n int) string {
	return fmt.Sprintf("%s-sub-%d", mainTaskID, n)
}

var subTaskIDPattern = regexp.MustCompile(`^task-\d+-[0-9a-f]{8}-sub-\d+$`)

// IsSubTaskID reports whether ref has the form produced by SubTaskID.
func IsSubTaskID(ref string) bool {
	return subTaskIDPattern.MatchString(ref)
}

// CreateMainTask creates a pending main task with no sub-tasks.
// An invalid priority is recorded as medium.
func (s *Store) CreateMainTask(description string, priority models.Priority) (*models.MainTask, error) {
	if !priority.Valid() {
		priority = models.PriorityMedium
	}

	var created *models.MainTask
	err := s.write("create main task", func(st *state) (bool, error) {
		now := s.clock()
		created = &models.MainTask{
			ID:          NewTaskID(now),
			Description: description,
			Priority:    priority,
			Status:      models.TaskStatusPending,
			CreatedAt:   now,
			SubTasks:    []*models.SubTask{},
		}
		st.doc.Tasks = append(st.doc.Tasks, created)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// SubTaskSpec describes a sub-task to create.
type SubTaskSpec struct {
	Description       string
	RolePrompt        string
	Steps             []string
	ExpectedOutcome   string
	Model             string
	EstimatedDuration time.Duration
}

// CreateSubTask appends a pending sub-task to a main task.
// Returns a not-found error if the main task does not exist.
func (s *Store) CreateSubTask(mainTaskID string, spec SubTaskSpec) (*models.SubTask, error) {
	const op = "create sub-task"

	var created *models.SubTask
	err := s.write(op, func(st *state) (bool, error) {
		task := st.task(mainTaskID)
		if task == nil {
			return false, errors.NotFound(op, "main task", mainTaskID)
		}

		steps := append([]string(nil), spec.Steps...)
		if steps == nil {
			steps = []string{}
		}
		created = &models.SubTask{
			ID:                  SubTaskID(task.ID, len(task.SubTasks)+1),
			MainTaskID:          task.ID,
			Model:               spec.Model,
			Description:         spec.Description,
			RolePrompt:          spec.RolePrompt,
			Steps:               steps,
			Status:              models.TaskStatusPending,
			EstimatedDurationMs: spec.EstimatedDuration.Milliseconds(),
			ExpectedOutcome:     spec.ExpectedOutcome,
		}
		task.SubTasks = append(task.SubTasks, created)
		task.Refresh(s.clock())
		st.reindex()
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// SubTaskUpdate carries optional field changes merged alongside a status change.
type SubTaskUpdate struct {
	Model            *string
	CurrentStep      *int
	StartedAt        *time.Time
	EndedAt          *time.Time
	ActualDurationMs *int64
	Error            *string
	// IfStatus, when non-empty, applies the change only if the current
	// status is one of these.
	IfStatus []models.TaskStatus
}

// Change describes the outcome of a status update.
type Change struct {
	// Found is false if no sub-task has the requested ID.
	Found bool
	// Applied is true if the sub-task was mutated.
	Applied bool
	// Previous is the status before the update.
	Previous models.TaskStatus
	// SubTask is the sub-task after the update.
	SubTask *models.SubTask
	// MainStatus is the owning task's derived status after the update.
	MainStatus models.TaskStatus
}

// UpdateSubTaskStatus applies a status and merges field updates, then
// recomputes the owning task's derived status. Returns whether the sub-task
// was found. Updates to an already-terminal sub-task are no-ops.
func (s *Store) UpdateSubTaskStatus(subTaskID string, status models.TaskStatus, upd SubTaskUpdate) (bool, error) {
	ch, err := s.Transition(subTaskID, status, upd)
	return ch.Found, err
}

// Transition is UpdateSubTaskStatus with a detailed result.
func (s *Store) Transition(subTaskID string, status models.TaskStatus, upd SubTaskUpdate) (Change, error) {
	const op = "update sub-task status"

	if !status.Valid() {
		return Change{}, errors.Validation(op, "unknown status %q", status)
	}

	var ch Change
	err := s.write(op, func(st *state) (bool, error) {
		task, sub := st.subtask(subTaskID)
		if sub == nil {
			return false, nil
		}
		ch.Found = true
		ch.Previous = sub.Status
		ch.SubTask = sub
		ch.MainStatus = task.Status

		if sub.Status.IsTerminal() {
			return false, nil
		}
		if len(upd.IfStatus) > 0 && !containsStatus(upd.IfStatus, sub.Status) {
			return false, nil
		}
		if !models.CanTransition(sub.Status, status) {
			return false, errors.Validation(op, "cannot move sub-task %q from %s to %s", sub.ID, sub.Status, status)
		}

		now := s.clock()
		applyUpdate(sub, upd)
		sub.Status = status

		if status == models.TaskStatusRunning && sub.StartedAt == nil {
			t := now
			sub.StartedAt = &t
		}
		if status.IsTerminal() {
			if sub.EndedAt == nil {
				t := now
				sub.EndedAt = &t
			}
			if upd.ActualDurationMs == nil && sub.StartedAt != nil {
				sub.ActualDurationMs = sub.EndedAt.Sub(*sub.StartedAt).Milliseconds()
			}
		}

		task.Refresh(now)
		ch.Applied = true
		ch.MainStatus = task.Status
		return true, nil
	})
	return ch, err
}

func applyUpdate(sub *models.SubTask, upd SubTaskUpdate) {
	if upd.Model != nil {
		sub.Model = *upd.Model
	}
	if upd.CurrentStep != nil {
		sub.CurrentStep = *upd.CurrentStep
	}
	if upd.StartedAt != nil {
		t := upd.StartedAt.UTC()
		sub.StartedAt = &t
	}
	if upd.EndedAt != nil {
		t := upd.EndedAt.UTC()
		sub.EndedAt = &t
	}
	if upd.ActualDurationMs != nil {
		sub.ActualDurationMs = *upd.ActualDurationMs
	}
	if upd.Error != nil {
		sub.Error = *upd.Error
	}
}

func containsStatus(list []models.TaskStatus, s models.TaskStatus) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// BindSession binds an execution session to a pending or running sub-task
// and marks it running. The binding is set-once: a second attempt fails with
// an already-bound error and leaves the first binding untouched.
func (s *Store) BindSession(subTaskID, sessionID string) (*models.SubTask, error) {
	const op = "bind session"

	if strings.TrimSpace(sessionID) == "" {
		return nil, errors.Validation(op, "session id must not be empty")
	}

	var bound *models.SubTask
	err := s.write(op, func(st *state) (bool, error) {
		task, sub := st.subtask(subTaskID)
		if sub == nil {
			return false, errors.NotFound(op, "sub-task", subTaskID)
		}
		if sub.SessionID != "" {
			return false, errors.AlreadyBound(op, sub.ID, sub.SessionID)
		}
		if sub.Status.IsTerminal() {
			return false, errors.NotRunning(op, sub.ID, string(sub.Status))
		}

		now := s.clock()
		sub.SessionID = sessionID
		if sub.Status == models.TaskStatusPending {
			sub.Status = models.TaskStatusRunning
		}
		if sub.StartedAt == nil {
			t := now
			sub.StartedAt = &t
		}
		task.Refresh(now)
		bound = sub
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return bound, nil
}

// GetTask returns a main task by ID.
func (s *Store) GetTask(id string) (*models.MainTask, error) {
	var found *models.MainTask
	err := s.read(func(st *state) error {
		found = st.task(id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, errors.NotFound("get task", "main task", id)
	}
	return found, nil
}

// GetSubTask returns a sub-task and its owning main task.
func (s *Store) GetSubTask(id string) (*models.MainTask, *models.SubTask, error) {
	var task *models.MainTask
	var sub *models.SubTask
	err := s.read(func(st *state) error {
		task, sub = st.subtask(id)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if sub == nil {
		return nil, nil, errors.NotFound("get sub-task", "sub-task", id)
	}
	return task, sub, nil
}

// GetAllTasks returns every main task in creation order.
func (s *Store) GetAllTasks() ([]*models.MainTask, error) {
	var tasks []*models.MainTask
	err := s.read(func(st *state) error {
		tasks = st.doc.Tasks
		return nil
	})
	return tasks, err
}

// GetTaskBySessionID finds the sub-task bound to a session and its owning
// task. Exact matches win; otherwise a binding matches if either ID contains
// the other, since spawners report short and composite IDs inconsistently.
func (s *Store) GetTaskBySessionID(sessionID string) (*models.MainTask, *models.SubTask, error) {
	const op = "get task by session"

	if sessionID == "" {
		return nil, nil, errors.Validation(op, "session id must not be empty")
	}

	var task *models.MainTask
	var sub *models.SubTask
	err := s.read(func(st *state) error {
		task, sub = findBySession(st.doc.Tasks, sessionID)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if sub == nil {
		return nil, nil, errors.NotFound(op, "session", sessionID)
	}
	return task, sub, nil
}

func findBySession(tasks []*models.MainTask, sessionID string) (*models.MainTask, *models.SubTask) {
	for _, t := range tasks {
		for _, sub := range t.SubTasks {
			if sub.SessionID == sessionID {
				return t, sub
			}
		}
	}
	for _, t := range tasks {
		for _, sub := range t.SubTasks {
			if sub.SessionID == "" {
				continue
			}
			if strings.Contains(sub.SessionID, sessionID) || strings.Contains(sessionID, sub.SessionID) {
				return t, sub
			}
		}
	}
	return nil, nil
}

// OldTasks returns the main tasks created more than maxAge ago.
func (s *Store) OldTasks(maxAge time.Duration) ([]*models.MainTask, error) {
	var old []*models.MainTask
	err := s.read(func(st *state) error {
		cutoff := s.clock().Add(-maxAge)
		for _, t := range st.doc.Tasks {
			if t.CreatedAt.Before(cutoff) {
				old = append(old, t)
			}
		}
		return nil
	})
	return old, err
}

// DeleteOldTasks removes every main task created more than maxAge ago,
// whatever its status, and returns how many were removed. Before removing
// more than backupThreshold tasks the persisted document is snapshotted;
// a failed snapshot is logged and does not block deletion.
func (s *Store) DeleteOldTasks(maxAge time.Duration) (int, error) {
	const op = "delete old tasks"

	if maxAge <= 0 {
		return 0, errors.Validation(op, "max age must be positive, got %v", maxAge)
	}

	var removed int
	err := s.write(op, func(st *state) (bool, error) {
		cutoff := s.clock().Add(-maxAge)
		kept := make([]*models.MainTask, 0, len(st.doc.Tasks))
		for _, t := range st.doc.Tasks {
			if t.CreatedAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, t)
		}
		if removed == 0 {
			return false, nil
		}

		if removed > backupThreshold {
			s.snapshot(st, removed)
		}

		st.doc.Tasks = kept
		st.reindex()
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *Store) snapshot(st *state, removing int) {
	if s.archive == nil {
		s.log.Warn("no archive configured, skipping snapshot", "removing", removing)
		return
	}
	if len(st.raw) == 0 {
		return
	}
	reason := fmt.Sprintf("delete-old-tasks: removing %d of %d tasks", removing, len(st.doc.Tasks))
	if err := s.archive.Snapshot(reason, st.raw); err != nil {
		s.log.Warn("snapshot before deletion failed", "error", err)
	}
}

// TimedOut is a running sub-task that exceeded a threshold.
type TimedOut struct {
	MainTaskID string
	SubTask    *models.SubTask
	Elapsed    time.Duration
}

// GetTimeoutSubtasks returns every running sub-task that started more than
// timeout ago.
func (s *Store) GetTimeoutSubtasks(timeout time.Duration) ([]TimedOut, error) {
	var out []TimedOut
	err := s.read(func(st *state) error {
		now := s.clock()
		for _, t := range st.doc.Tasks {
			for _, sub := range t.SubTasks {
				if sub.Status != models.TaskStatusRunning || sub.StartedAt == nil {
					continue
				}
				if elapsed := now.Sub(*sub.StartedAt); elapsed > timeout {
					out = append(out, TimedOut{MainTaskID: t.ID, SubTask: sub, Elapsed: elapsed})
				}
			}
		}
		return nil
	})
	return out, err
}
