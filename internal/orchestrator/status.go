package orchestrator

import (
	"github.com/ShayCichocki/relay/internal/activity"
	"github.com/ShayCichocki/relay/internal/errors"
	"github.com/ShayCichocki/relay/internal/taskstore"
	"github.com/ShayCichocki/relay/pkg/models"
)

// StatusQuery selects which tasks Status returns. At most one of MainTaskID
// and SessionID may be set; Status filters on the derived main-task status.
// The zero value returns every task.
type StatusQuery struct {
	MainTaskID string
	SessionID  string
	Status     models.TaskStatus
}

// Status returns reconciled snapshots of the tasks matching q. Reconciliation
// failures are logged and never fail the query.
func (s *Service) Status(q StatusQuery) ([]*models.MainTask, error) {
	const op = "status"

	if q.MainTaskID != "" && q.SessionID != "" {
		return nil, errors.Validation(op, "query by main task or by session, not both")
	}
	if q.Status != "" && !q.Status.Valid() {
		return nil, errors.Validation(op, "unknown status %q", q.Status)
	}

	switch {
	case q.MainTaskID != "":
		task, err := s.store.GetTask(q.MainTaskID)
		if err != nil {
			return nil, err
		}
		if s.reconcileTask(task) > 0 {
			if task, err = s.store.GetTask(q.MainTaskID); err != nil {
				return nil, err
			}
		}
		return filterStatus([]*models.MainTask{task}, q.Status), nil

	case q.SessionID != "":
		task, _, err := s.store.GetTaskBySessionID(q.SessionID)
		if err != nil {
			return nil, err
		}
		if s.reconcileTask(task) > 0 {
			if task, err = s.store.GetTask(task.ID); err != nil {
				return nil, err
			}
		}
		return filterStatus([]*models.MainTask{task}, q.Status), nil
	}

	tasks, err := s.store.GetAllTasks()
	if err != nil {
		return nil, err
	}
	changed := 0
	for _, t := range tasks {
		changed += s.reconcileTask(t)
	}
	if changed > 0 {
		if tasks, err = s.store.GetAllTasks(); err != nil {
			return nil, err
		}
	}
	return filterStatus(tasks, q.Status), nil
}

func filterStatus(tasks []*models.MainTask, status models.TaskStatus) []*models.MainTask {
	if status == "" {
		return tasks
	}
	out := make([]*models.MainTask, 0, len(tasks))
	for _, t := range tasks {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out
}

// Reconcile advances one sub-task from its ledger record and reports
// whether the task store changed.
func (s *Service) Reconcile(subTaskID string) (bool, error) {
	_, sub, err := s.store.GetSubTask(subTaskID)
	if err != nil {
		return false, err
	}
	return s.reconcileSubTask(sub), nil
}

func (s *Service) reconcileTask(task *models.MainTask) int {
	changed := 0
	for _, sub := range task.SubTasks {
		if s.reconcileSubTask(sub) {
			changed++
		}
	}
	return changed
}

// reconcileSubTask applies the ledger record for sub, if any, to the task
// store. The ledger only ever advances a sub-task:
//   - completed ends it as completed
//   - failed ends it as failed, with the ledger message as the error
//   - in_progress moves a pending or frozen sub-task to running and keeps
//     the current step in sync
//
// A terminal sub-task is never touched, and applying the same record twice
// changes nothing the second time. Corrupt records are logged and skipped.
func (s *Service) reconcileSubTask(sub *models.SubTask) bool {
	if sub.Status.IsTerminal() {
		return false
	}

	report, ok, err := s.ledger.Read(sub.ID)
	if err != nil {
		s.log.Warn("skipping unreadable progress record", "subtask_id", sub.ID, "error", err)
		if errors.Is(err, errors.ErrCorruption) {
			s.activity.Record(activity.Entry{
				Event:      activity.EventProgressCorrupted,
				MainTaskID: sub.MainTaskID,
				SubTaskID:  sub.ID,
				Message:    err.Error(),
			})
		}
		return false
	}
	if !ok {
		return false
	}

	var (
		status models.TaskStatus
		upd    = taskstore.SubTaskUpdate{IfStatus: active}
	)
	switch report.Status {
	case models.ProgressCompleted:
		status = models.TaskStatusCompleted
		upd.CurrentStep = ptr(report.CurrentStep)
	case models.ProgressFailed:
		status = models.TaskStatusFailed
		msg := report.Message
		if msg == "" {
			msg = "worker reported failure"
		}
		upd.Error = ptr(msg)
		upd.CurrentStep = ptr(report.CurrentStep)
	case models.ProgressInProgress:
		switch {
		case sub.Status == models.TaskStatusPending || sub.Status == models.TaskStatusFrozen:
			status = models.TaskStatusRunning
		case sub.Status == models.TaskStatusRunning && sub.CurrentStep != report.CurrentStep:
			status = models.TaskStatusRunning
		default:
			return false
		}
		upd.CurrentStep = ptr(report.CurrentStep)
		upd.IfStatus = []models.TaskStatus{sub.Status}
	default:
		// An aborted record is the worker's opinion; only an abort request
		// or the timeout detector ends a sub-task as aborted.
		return false
	}

	ch, err := s.transition("ledger", activity.EventReconciled, sub.ID, status, upd)
	if err != nil {
		s.log.Warn("reconciling sub-task", "subtask_id", sub.ID, "error", err)
		return false
	}
	return ch.Applied
}
