package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/relay/internal/activity"
	"github.com/ShayCichocki/relay/internal/capability"
	"github.com/ShayCichocki/relay/internal/errors"
	"github.com/ShayCichocki/relay/internal/taskstore"
	"github.com/ShayCichocki/relay/pkg/models"
)

// Bind binds a session to a sub-task and marks it running. A sub-task can
// be bound once; a second bind fails with an already-bound error.
func (s *Service) Bind(subTaskID, sessionID string) (*models.SubTask, error) {
	sub, err := s.store.BindSession(subTaskID, sessionID)
	if err != nil {
		return nil, err
	}
	s.metrics.Transition(string(sub.Status), "bind")
	s.activity.Record(activity.Entry{
		Event:      activity.EventSessionBound,
		MainTaskID: sub.MainTaskID,
		SubTaskID:  sub.ID,
		SessionID:  sessionID,
		Status:     string(sub.Status),
	})
	s.log.Info("session bound", "subtask_id", sub.ID, "session_id", sessionID)
	return sub, nil
}

// AbortResult describes what Abort did.
type AbortResult struct {
	SubTask *models.SubTask `json:"subtask"`
	// Applied is false if the sub-task was already terminal.
	Applied bool `json:"applied"`
}

// Abort terminates the session behind ref (a sub-task or session ID) and
// marks the sub-task aborted. The ledger is reconciled first, so a worker
// that already reported completion is not aborted. If termination fails the
// status is left unchanged so the caller can retry.
func (s *Service) Abort(ctx context.Context, ref, reason string) (*AbortResult, error) {
	const op = "abort"

	_, sub, err := s.resolve(op, ref)
	if err != nil {
		return nil, err
	}
	if s.reconcileSubTask(sub) {
		if _, sub, err = s.store.GetSubTask(sub.ID); err != nil {
			return nil, err
		}
	}
	if sub.Status.IsTerminal() {
		return &AbortResult{SubTask: sub}, nil
	}

	var term capability.Terminator
	if sub.SessionID != "" {
		if term, err = s.caps.RequireTerminator(op); err != nil {
			return nil, err
		}
	}

	ch, err := s.abortSubTask(ctx, term, sub, reason, "abort")
	if err != nil {
		return nil, err
	}
	return &AbortResult{SubTask: ch.SubTask, Applied: ch.Applied}, nil
}

// abortSubTask kills the session, if one is bound, and then moves sub to
// aborted. A sub-task without a session has nothing to terminate.
func (s *Service) abortSubTask(ctx context.Context, term capability.Terminator, sub *models.SubTask, reason, source string) (taskstore.Change, error) {
	if reason == "" {
		reason = "aborted"
	}

	if sub.SessionID != "" {
		if err := term.Kill(ctx, sub.SessionID); err != nil {
			s.log.Warn("terminate failed", "subtask_id", sub.ID, "session_id", sub.SessionID, "error", err)
			s.activity.Record(activity.Entry{
				Event:      activity.EventAbortFailed,
				MainTaskID: sub.MainTaskID,
				SubTaskID:  sub.ID,
				SessionID:  sub.SessionID,
				Status:     string(sub.Status),
				Message:    err.Error(),
			})
			return taskstore.Change{}, fmt.Errorf("terminate session %s: %w", sub.SessionID, err)
		}
	}

	return s.transition(source, activity.EventAborted, sub.ID, models.TaskStatusAborted, taskstore.SubTaskUpdate{
		Error:    ptr(reason),
		IfStatus: active,
	})
}

// Freeze marks a running sub-task as stalled. A later in_progress ledger
// record resumes it; it can still end in any terminal state.
func (s *Service) Freeze(ref, reason string) (*models.SubTask, error) {
	const op = "freeze"

	_, sub, err := s.resolve(op, ref)
	if err != nil {
		return nil, err
	}
	switch sub.Status {
	case models.TaskStatusFrozen:
		return sub, nil
	case models.TaskStatusRunning:
	default:
		if sub.Status.IsTerminal() {
			return nil, errors.NotRunning(op, sub.ID, string(sub.Status))
		}
		return nil, errors.Validation(op, "sub-task %q is %s; only running sub-tasks can be frozen", sub.ID, sub.Status)
	}

	upd := taskstore.SubTaskUpdate{IfStatus: []models.TaskStatus{models.TaskStatusRunning}}
	if reason != "" {
		upd.Error = ptr(reason)
	}
	ch, err := s.transition("freeze", activity.EventFrozen, sub.ID, models.TaskStatusFrozen, upd)
	if err != nil {
		return nil, err
	}
	return ch.SubTask, nil
}

// InjectMessage sends a message to the session bound to ref. The sub-task
// must be bound and not terminal.
func (s *Service) InjectMessage(ctx context.Context, ref, message string) error {
	const op = "inject message"

	if strings.TrimSpace(message) == "" {
		return errors.Validation(op, "message must not be empty")
	}
	messenger, err := s.caps.RequireMessenger(op)
	if err != nil {
		return err
	}
	_, sub, err := s.resolve(op, ref)
	if err != nil {
		return err
	}
	if sub.Status.IsTerminal() {
		return errors.NotRunning(op, sub.ID, string(sub.Status))
	}
	if sub.SessionID == "" {
		return errors.NotRunning(op, sub.ID, "unbound")
	}

	if err := messenger.Send(ctx, sub.SessionID, message); err != nil {
		return fmt.Errorf("send to session %s: %w", sub.SessionID, err)
	}
	s.activity.Record(activity.Entry{
		Event:      activity.EventMessageSent,
		MainTaskID: sub.MainTaskID,
		SubTaskID:  sub.ID,
		SessionID:  sub.SessionID,
		Status:     string(sub.Status),
		Details:    map[string]any{"length": len(message)},
	})
	return nil
}

// History returns the conversation of the session bound to ref.
func (s *Service) History(ctx context.Context, ref string, includeTools bool, limit int) ([]capability.HistoryEntry, error) {
	const op = "history"

	if limit < 0 {
		return nil, errors.Validation(op, "limit must not be negative")
	}
	reader, err := s.caps.RequireHistory(op)
	if err != nil {
		return nil, err
	}
	_, sub, err := s.resolve(op, ref)
	if err != nil {
		return nil, err
	}
	if sub.SessionID == "" {
		return nil, errors.Validation(op, "sub-task %q has no bound session", sub.ID)
	}
	return reader.History(ctx, sub.SessionID, includeTools, limit)
}

// OnSessionEnd handles a session-end notification. The ledger is reconciled
// first; if the sub-task is still not terminal it is marked completed, since
// a session that ended without reporting is assumed to have succeeded.
func (s *Service) OnSessionEnd(sessionID string, duration time.Duration) (*models.SubTask, error) {
	const op = "session end"

	_, sub, err := s.store.GetTaskBySessionID(sessionID)
	if err != nil {
		return nil, err
	}
	s.activity.Record(activity.Entry{
		Event:      activity.EventSessionEnded,
		MainTaskID: sub.MainTaskID,
		SubTaskID:  sub.ID,
		SessionID:  sub.SessionID,
		Status:     string(sub.Status),
		Details:    map[string]any{"duration_ms": duration.Milliseconds()},
	})

	if s.reconcileSubTask(sub) {
		_, sub, err = s.store.GetSubTask(sub.ID)
		return sub, err
	}
	if sub.Status.IsTerminal() {
		return sub, nil
	}

	upd := taskstore.SubTaskUpdate{IfStatus: active}
	if duration > 0 {
		upd.ActualDurationMs = ptr(duration.Milliseconds())
	}
	ch, err := s.transition("session_end", activity.EventStatusChanged, sub.ID, models.TaskStatusCompleted, upd)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ch.SubTask, nil
}
