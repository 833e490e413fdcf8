// Package models holds the domain types shared across relay packages.
package models

import (
	"fmt"
	"time"
)

// Priority is the caller-assigned urgency of a main task.
type Priority string

const (
	// PriorityHigh marks work that should be picked up first.
	PriorityHigh Priority = "high"
	// PriorityMedium is the default priority.
	PriorityMedium Priority = "medium"
	// PriorityLow marks background work.
	PriorityLow Priority = "low"
)

// Valid returns true if the priority is a known value.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

// TaskStatus represents the lifecycle state of a sub-task, and the derived
// state of a main task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusRunning indicates a session is bound and working.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusFrozen indicates the worker stalled and has not been resolved.
	TaskStatusFrozen TaskStatus = "frozen"
	// TaskStatusCompleted indicates the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusAborted indicates the task was terminated on request.
	TaskStatusAborted TaskStatus = "aborted"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusFrozen,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusAborted:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if no further transition may leave this status.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusAborted
}

// CanTransition reports whether a sub-task may move from one status to another.
// Terminal states are final. Frozen is only reachable from running.
func CanTransition(from, to TaskStatus) bool {
	if !from.Valid() || !to.Valid() || from.IsTerminal() {
		return false
	}
	switch to {
	case TaskStatusPending:
		return from == TaskStatusPending
	case TaskStatusFrozen:
		return from == TaskStatusRunning || from == TaskStatusFrozen
	default:
		return true
	}
}

// MainTask is the top-level unit of work requested by a caller.
type MainTask struct {
	// ID is time-ordered with a random suffix.
	ID string `json:"id"`
	// Description is the caller's description of the work.
	Description string `json:"description"`
	// Priority is the caller-assigned urgency.
	Priority Priority `json:"priority"`
	// Status is derived from SubTasks; see DeriveMainStatus.
	Status TaskStatus `json:"status"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is set once every sub-task is terminal.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// SubTasks are owned by this task, in creation order.
	SubTasks []*SubTask `json:"subtasks"`
	// Error summarizes sub-task failures, if any.
	Error string `json:"error,omitempty"`
}

// SubTask finds an owned sub-task by ID.
func (m *MainTask) SubTask(id string) *SubTask {
	for _, st := range m.SubTasks {
		if st.ID == id {
			return st
		}
	}
	return nil
}

// Refresh recomputes the derived status, completion timestamp and error
// summary from the sub-tasks. now is used when the task first becomes terminal.
func (m *MainTask) Refresh(now time.Time) {
	m.Status = DeriveMainStatus(m.SubTasks)
	if !m.Status.IsTerminal() {
		m.CompletedAt = nil
		m.Error = ""
		return
	}
	if m.CompletedAt == nil {
		t := now
		m.CompletedAt = &t
	}
	m.Error = ""
	var failed int
	for _, st := range m.SubTasks {
		if st.Status == TaskStatusFailed {
			failed++
		}
	}
	if failed > 0 {
		m.Error = pluralize(failed, "sub-task failed", "sub-tasks failed")
	}
}

// DeriveMainStatus computes a main task's status from its sub-tasks.
//
// No sub-tasks, or all pending: pending. All terminal: failed if any failed,
// else aborted if any aborted, else completed. Anything else: running.
func DeriveMainStatus(subtasks []*SubTask) TaskStatus {
	if len(subtasks) == 0 {
		return TaskStatusPending
	}

	var pending, terminal, failed, aborted int
	for _, st := range subtasks {
		switch {
		case st.Status == TaskStatusPending:
			pending++
		case st.Status.IsTerminal():
			terminal++
			if st.Status == TaskStatusFailed {
				failed++
			} else if st.Status == TaskStatusAborted {
				aborted++
			}
		}
	}

	switch {
	case pending == len(subtasks):
		return TaskStatusPending
	case terminal == len(subtasks):
		if failed > 0 {
			return TaskStatusFailed
		}
		if aborted > 0 {
			return TaskStatusAborted
		}
		return TaskStatusCompleted
	default:
		return TaskStatusRunning
	}
}

// SubTask is one independently executable slice of a main task.
type SubTask struct {
	// ID is namespaced under the owning main task ID.
	ID string `json:"id"`
	// MainTaskID is the owning main task.
	MainTaskID string `json:"main_task_id"`
	// SessionID is the bound execution session. Set at most once.
	SessionID string `json:"child_session_id,omitempty"`
	// Model is the assigned execution resource.
	Model string `json:"model,omitempty"`
	// Description is what this slice must accomplish.
	Description string `json:"description"`
	// RolePrompt is the behavioral prompt handed to the worker.
	RolePrompt string `json:"role_prompt"`
	// Steps is the declared plan.
	Steps []string `json:"steps"`
	// CurrentStep is the index of the step in progress.
	CurrentStep int `json:"current_step"`
	// Status is the lifecycle state.
	Status TaskStatus `json:"status"`
	// StartedAt is set when the sub-task starts running.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// EndedAt is set when the sub-task reaches a terminal state.
	EndedAt *time.Time `json:"ended_at,omitempty"`
	// EstimatedDurationMs is the planned duration in milliseconds.
	EstimatedDurationMs int64 `json:"estimated_duration_ms,omitempty"`
	// ActualDurationMs is the measured duration in milliseconds.
	ActualDurationMs int64 `json:"actual_duration_ms,omitempty"`
	// Error holds the failure message, if any.
	Error string `json:"error,omitempty"`
	// ExpectedOutcome describes what done looks like.
	ExpectedOutcome string `json:"expected_outcome,omitempty"`
}

// Elapsed returns how long the sub-task has been running as of now.
// Returns 0 if it has not started.
func (s *SubTask) Elapsed(now time.Time) time.Duration {
	if s.StartedAt == nil {
		return 0
	}
	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	return end.Sub(*s.StartedAt)
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return fmt.Sprintf("%d %s", n, many)
}
