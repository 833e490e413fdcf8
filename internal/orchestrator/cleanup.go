package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/ShayCichocki/relay/internal/activity"
	"github.com/ShayCichocki/relay/internal/progress"
	"github.com/ShayCichocki/relay/internal/state"
	"github.com/ShayCichocki/relay/pkg/models"
)

// Trigger records what started a cleanup run.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
)

// Zombie is a running sub-task with no progress record past the grace period.
type Zombie struct {
	MainTaskID string        `json:"main_task_id"`
	SubTaskID  string        `json:"subtask_id"`
	SessionID  string        `json:"session_id,omitempty"`
	Elapsed    time.Duration `json:"elapsed"`
}

// CleanupReport is the result of one reclamation run.
type CleanupReport struct {
	Trigger    Trigger   `json:"trigger"`
	ReportOnly bool      `json:"report_only"`
	StartedAt  time.Time `json:"started_at"`
	// DeletedTasks counts main tasks removed, or that would be in report-only mode.
	DeletedTasks int                    `json:"deleted_tasks"`
	Ledger       progress.CleanupResult `json:"ledger"`
	Zombies      []Zombie               `json:"zombies"`
	// Errors holds one entry per failed step. Later steps still run.
	Errors []string `json:"errors,omitempty"`
}

// Cleanup runs one reclamation pass: delete aged-out main tasks, remove
// terminal ledger records, and flag zombies. In report-only mode the same
// figures are computed and nothing is deleted.
//
// Each step is isolated. A failure, or even a panic, in one step is logged
// and reported, and the remaining steps still run.
func (s *Service) Cleanup(ctx context.Context, reportOnly bool, trigger Trigger) *CleanupReport {
	start := s.clock()
	report := &CleanupReport{
		Trigger:    trigger,
		ReportOnly: reportOnly,
		StartedAt:  start,
		Zombies:    []Zombie{},
	}
	log := s.log.With("trigger", string(trigger), "report_only", reportOnly)

	step := func(name string, fn func() error) {
		if ctx.Err() != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", name, ctx.Err()))
			return
		}
		defer func() {
			if r := recover(); r != nil {
				log.Error("cleanup step panicked", "step", name, "panic", fmt.Sprint(r))
				report.Errors = append(report.Errors, fmt.Sprintf("%s: panic: %v", name, r))
			}
		}()
		if err := fn(); err != nil {
			log.Warn("cleanup step failed", "step", name, "error", err)
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", name, err))
		}
	}

	// Absorb terminal ledger records before the ledger sweep removes them.
	if !reportOnly {
		step("reconcile", func() error {
			tasks, err := s.store.GetAllTasks()
			if err != nil {
				return err
			}
			for _, t := range tasks {
				s.reconcileTask(t)
			}
			return nil
		})
	}

	step("delete old tasks", func() error {
		if reportOnly {
			old, err := s.store.OldTasks(s.defaults.MaxAge)
			report.DeletedTasks = len(old)
			return err
		}
		n, err := s.store.DeleteOldTasks(s.defaults.MaxAge)
		report.DeletedTasks = n
		return err
	})

	step("cleanup ledger", func() error {
		res, err := s.ledger.CleanupCompleted(reportOnly)
		report.Ledger = res
		return err
	})

	step("zombie scan", func() error {
		zombies, err := s.findZombies()
		report.Zombies = zombies
		return err
	})

	for _, z := range report.Zombies {
		log.Warn("zombie sub-task", "subtask_id", z.SubTaskID, "session_id", z.SessionID, "elapsed", z.Elapsed.Round(time.Second).String())
	}

	s.metrics.ObserveCleanup(string(trigger), s.clock().Sub(start))
	if reportOnly {
		return report
	}

	s.metrics.CleanupItems("tasks_deleted", report.DeletedTasks)
	s.metrics.CleanupItems("ledger_removed", report.Ledger.Removed)
	s.metrics.CleanupItems("ledger_corrupt", report.Ledger.Corrupt)
	s.metrics.CleanupItems("zombies", len(report.Zombies))
	s.recordCleanup(report)
	return report
}

// findZombies lists running sub-tasks with no ledger record that started
// more than the grace period ago. Detection only; nothing is changed.
func (s *Service) findZombies() ([]Zombie, error) {
	tasks, err := s.store.GetAllTasks()
	if err != nil {
		return nil, err
	}
	now := s.clock()
	zombies := []Zombie{}
	for _, t := range tasks {
		for _, sub := range t.SubTasks {
			if sub.Status != models.TaskStatusRunning || sub.StartedAt == nil {
				continue
			}
			elapsed := now.Sub(*sub.StartedAt)
			if elapsed <= s.defaults.ZombieGrace || s.ledger.Exists(sub.ID) {
				continue
			}
			zombies = append(zombies, Zombie{
				MainTaskID: t.ID,
				SubTaskID:  sub.ID,
				SessionID:  sub.SessionID,
				Elapsed:    elapsed,
			})
		}
	}
	return zombies, nil
}

// recordCleanup writes the audit entry and archive row for a real run.
func (s *Service) recordCleanup(report *CleanupReport) {
	zombieIDs := make([]string, 0, len(report.Zombies))
	for _, z := range report.Zombies {
		zombieIDs = append(zombieIDs, z.SubTaskID)
		s.activity.Record(activity.Entry{
			Event:      activity.EventZombieDetected,
			MainTaskID: z.MainTaskID,
			SubTaskID:  z.SubTaskID,
			SessionID:  z.SessionID,
			Status:     string(models.TaskStatusRunning),
			Details:    map[string]any{"elapsed_ms": z.Elapsed.Milliseconds()},
		})
	}

	s.activity.Record(activity.Entry{
		Event: activity.EventCleanup,
		Details: map[string]any{
			"trigger":        string(report.Trigger),
			"deleted_tasks":  report.DeletedTasks,
			"ledger_removed": report.Ledger.Removed,
			"ledger_corrupt": report.Ledger.Corrupt,
			"zombies":        zombieIDs,
			"errors":         report.Errors,
		},
	})

	if s.archive == nil {
		return
	}
	_, err := s.archive.RecordCleanupRun(state.CleanupRun{
		Trigger:       string(report.Trigger),
		ReportOnly:    report.ReportOnly,
		StartedAt:     report.StartedAt,
		FinishedAt:    s.clock(),
		TasksDeleted:  report.DeletedTasks,
		LedgerRemoved: report.Ledger.Removed,
		LedgerCorrupt: report.Ledger.Corrupt,
		Zombies:       len(report.Zombies),
		Errors:        report.Errors,
	})
	if err != nil {
		s.log.Warn("recording cleanup run", "error", err)
	}
}
