package models

import (
	"math"
	"time"
)

// ProgressStatus is the status a worker reports for its own sub-task.
type ProgressStatus string

const (
	ProgressInProgress ProgressStatus = "in_progress"
	ProgressCompleted  ProgressStatus = "completed"
	ProgressFailed     ProgressStatus = "failed"
	ProgressAborted    ProgressStatus = "aborted"
)

// Valid returns true if the status is a known value.
func (s ProgressStatus) Valid() bool {
	switch s {
	case ProgressInProgress, ProgressCompleted, ProgressFailed, ProgressAborted:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for completed, failed and aborted.
func (s ProgressStatus) IsTerminal() bool {
	return s == ProgressCompleted || s == ProgressFailed || s == ProgressAborted
}

// ProgressReport is the last-write-wins progress record a worker keeps for
// its sub-task. Content is written by untrusted workers and is advisory only.
type ProgressReport struct {
	SubTaskID   string         `json:"subtask_id"`
	MainTaskID  string         `json:"main_task_id"`
	CurrentStep int            `json:"current_step"`
	TotalSteps  int            `json:"total_steps"`
	Status      ProgressStatus `json:"status"`
	Message     string         `json:"message,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Percentage  int            `json:"percentage"`
}

// Percent returns round(current/total*100), clamped to 0..100.
func Percent(current, total int) int {
	if total <= 0 {
		return 0
	}
	p := int(math.Round(float64(current) / float64(total) * 100))
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
