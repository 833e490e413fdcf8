package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/ShayCichocki/relay/internal/activity"
	"github.com/ShayCichocki/relay/internal/capability"
	"github.com/ShayCichocki/relay/internal/config"
	"github.com/ShayCichocki/relay/internal/errors"
	"github.com/ShayCichocki/relay/pkg/models"
)

// TimedOutSubTask is one sub-task found by CheckTimeouts.
type TimedOutSubTask struct {
	MainTaskID string        `json:"main_task_id"`
	SubTaskID  string        `json:"subtask_id"`
	SessionID  string        `json:"session_id,omitempty"`
	Model      string        `json:"model,omitempty"`
	Elapsed    time.Duration `json:"elapsed"`
	// Aborted is set in auto-abort mode when the sub-task was aborted.
	Aborted bool `json:"aborted,omitempty"`
	// Error holds the termination failure, if any.
	Error string `json:"error,omitempty"`
	// Settled is the terminal status the worker had already reported in the
	// ledger. Such a sub-task is reconciled instead of aborted.
	Settled models.TaskStatus `json:"settled,omitempty"`
}

// TimeoutReport is the result of CheckTimeouts.
type TimeoutReport struct {
	Threshold time.Duration     `json:"threshold"`
	AutoAbort bool              `json:"auto_abort"`
	SubTasks  []TimedOutSubTask `json:"subtasks"`
	Aborted   int               `json:"aborted"`
	Failed    int               `json:"failed"`
	// Settled counts sub-tasks the ledger had already finished.
	Settled int `json:"settled"`
}

// CheckTimeouts finds running sub-tasks that started more than threshold
// ago. A zero threshold uses the configured default; anything outside
// 5m..1440m is rejected. In report mode nothing is changed. With autoAbort
// each one is terminated and marked aborted; a failed termination is
// counted and leaves the sub-task as it was. Before aborting, the ledger is
// reconciled, so a worker that already reported its outcome keeps it.
func (s *Service) CheckTimeouts(ctx context.Context, threshold time.Duration, autoAbort bool) (*TimeoutReport, error) {
	const op = "check timeouts"

	if threshold == 0 {
		threshold = s.defaults.TimeoutThreshold
	}
	if threshold < config.MinTimeoutThreshold || threshold > config.MaxTimeoutThreshold {
		return nil, errors.Validation(op, "threshold must be between %v and %v, got %v",
			config.MinTimeoutThreshold, config.MaxTimeoutThreshold, threshold)
	}

	var term capability.Terminator
	if autoAbort {
		var err error
		if term, err = s.caps.RequireTerminator(op); err != nil {
			return nil, err
		}
	}

	found, err := s.store.GetTimeoutSubtasks(threshold)
	if err != nil {
		return nil, err
	}

	report := &TimeoutReport{
		Threshold: threshold,
		AutoAbort: autoAbort,
		SubTasks:  make([]TimedOutSubTask, 0, len(found)),
	}
	for _, t := range found {
		item := TimedOutSubTask{
			MainTaskID: t.MainTaskID,
			SubTaskID:  t.SubTask.ID,
			SessionID:  t.SubTask.SessionID,
			Model:      t.SubTask.Model,
			Elapsed:    t.Elapsed,
		}
		s.metrics.Timeout("detected")
		s.log.Warn("sub-task timed out", "subtask_id", item.SubTaskID, "elapsed", t.Elapsed.Round(time.Second).String())

		if autoAbort {
			sub := t.SubTask
			if s.reconcileSubTask(sub) {
				_, current, err := s.store.GetSubTask(sub.ID)
				if err != nil {
					item.Error = err.Error()
					report.Failed++
					report.SubTasks = append(report.SubTasks, item)
					continue
				}
				sub = current
			}
			if sub.Status.IsTerminal() {
				item.Settled = sub.Status
				report.Settled++
				s.metrics.Timeout("settled")
				report.SubTasks = append(report.SubTasks, item)
				continue
			}

			reason := fmt.Sprintf("timed out after %v (threshold %v)", t.Elapsed.Round(time.Minute), threshold)
			ch, err := s.abortSubTask(ctx, term, sub, reason, "timeout")
			switch {
			case err != nil:
				item.Error = err.Error()
				report.Failed++
				s.metrics.Timeout("abort_failed")
			case ch.Applied:
				item.Aborted = true
				report.Aborted++
				s.metrics.Timeout("aborted")
			}
		} else {
			s.activity.Record(activity.Entry{
				Event:      activity.EventTimeoutDetected,
				MainTaskID: item.MainTaskID,
				SubTaskID:  item.SubTaskID,
				SessionID:  item.SessionID,
				Status:     string(t.SubTask.Status),
				Details:    map[string]any{"elapsed_ms": t.Elapsed.Milliseconds(), "threshold_ms": threshold.Milliseconds()},
			})
		}
		report.SubTasks = append(report.SubTasks, item)
	}
	return report, nil
}
