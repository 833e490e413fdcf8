package orchestrator

import (
	"context"
	"strings"

	"github.com/ShayCichocki/relay/internal/activity"
	"github.com/ShayCichocki/relay/internal/capability"
	"github.com/ShayCichocki/relay/internal/config"
	"github.com/ShayCichocki/relay/internal/errors"
	"github.com/ShayCichocki/relay/internal/registry"
	"github.com/ShayCichocki/relay/internal/taskstore"
	"github.com/ShayCichocki/relay/pkg/models"
)

// OrchestrateRequest asks for a main task to be decomposed and dispatched.
// Zero values take the service defaults.
type OrchestrateRequest struct {
	Description  string
	Priority     models.Priority
	SubtaskCount int
	// AllowList restricts model selection to these IDs.
	AllowList  []string
	Difficulty registry.Difficulty
	Cost       registry.CostPreference
	// Tags are capability tags the model must carry.
	Tags []string
}

// SpawnResult is the outcome of spawning one sub-task.
type SpawnResult struct {
	SubTaskID string `json:"subtask_id"`
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
	// SessionKilled reports that a session was spawned but could not be
	// bound, and was terminated.
	SessionKilled bool `json:"session_killed,omitempty"`
}

// ManualInstruction describes a spawn the caller must perform itself,
// followed by a bind with the resulting session ID.
type ManualInstruction struct {
	SubTaskID string `json:"subtask_id"`
	Model     string `json:"model"`
	Payload   string `json:"payload"`
	BindHint  string `json:"bind_hint"`
}

// OrchestrateResult is what Orchestrate created.
type OrchestrateResult struct {
	Task  *models.MainTask `json:"task"`
	Model string           `json:"model"`
	// Spawned is set when the spawn capability is available.
	Spawned []SpawnResult `json:"spawned,omitempty"`
	// Manual is set when it is not.
	Manual []ManualInstruction `json:"manual,omitempty"`
}

// Orchestrate creates a main task with N uniform sub-tasks, selects one
// model for all of them and dispatches them. Input is validated and the
// model selected before anything is written, so a rejected request leaves
// no trace.
//
// A spawn failure leaves that sub-task pending with the error recorded; the
// remaining sub-tasks are still spawned.
func (s *Service) Orchestrate(ctx context.Context, req OrchestrateRequest) (*OrchestrateResult, error) {
	const op = "orchestrate"

	desc := strings.TrimSpace(req.Description)
	if desc == "" {
		return nil, errors.Validation(op, "description must not be empty")
	}
	n := req.SubtaskCount
	if n == 0 {
		n = s.defaults.Subtasks
	}
	if n < config.MinSubtasks || n > config.MaxSubtasks {
		return nil, errors.Validation(op, "subtask count must be between %d and %d, got %d", config.MinSubtasks, config.MaxSubtasks, n)
	}
	priority := req.Priority
	if priority == "" {
		priority = s.defaults.Priority
	}
	if !priority.Valid() {
		return nil, errors.Validation(op, "priority %q is not high, medium or low", priority)
	}

	criteria := registry.Criteria{
		Difficulty: req.Difficulty,
		Cost:       req.Cost,
		Tags:       req.Tags,
		AllowList:  req.AllowList,
	}
	if criteria.Difficulty == "" {
		criteria.Difficulty = s.defaults.Difficulty
	}
	if criteria.Cost == "" {
		criteria.Cost = s.defaults.Cost
	}
	model, err := s.registry.Select(criteria)
	if err != nil {
		return nil, err
	}

	task, err := s.store.CreateMainTask(desc, priority)
	if err != nil {
		return nil, err
	}
	log := s.log.WithTask(task.ID)
	s.metrics.TaskCreated(string(priority))
	s.activity.Record(activity.Entry{
		Event:      activity.EventTaskCreated,
		MainTaskID: task.ID,
		Status:     string(models.TaskStatusPending),
		Message:    desc,
		Details:    map[string]any{"subtasks": n, "model": model.ID, "priority": string(priority)},
	})

	subs := make([]*models.SubTask, 0, n)
	for _, spec := range decompose(desc, n, model.ID, s.defaults.StepEstimate) {
		sub, err := s.store.CreateSubTask(task.ID, spec)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
		s.activity.Record(activity.Entry{
			Event:      activity.EventSubTaskCreated,
			MainTaskID: task.ID,
			SubTaskID:  sub.ID,
			Status:     string(sub.Status),
		})
	}
	log.Info("task orchestrated", "subtasks", n, "model", model.ID)

	res := &OrchestrateResult{Model: model.ID}
	if s.caps.Spawner == nil {
		for _, sub := range subs {
			res.Manual = append(res.Manual, ManualInstruction{
				SubTaskID: sub.ID,
				Model:     model.ID,
				Payload:   buildPayload(task, sub, s.ledger.RecordPath(sub.ID)),
				BindHint:  bindHint(sub.ID),
			})
			s.metrics.Spawn("manual")
		}
	} else {
		for _, sub := range subs {
			res.Spawned = append(res.Spawned, s.spawn(ctx, task, sub))
		}
	}

	if res.Task, err = s.store.GetTask(task.ID); err != nil {
		return nil, err
	}
	return res, nil
}

// spawn starts a worker for sub and binds its session.
func (s *Service) spawn(ctx context.Context, task *models.MainTask, sub *models.SubTask) SpawnResult {
	out := SpawnResult{SubTaskID: sub.ID}

	sessionID, err := s.caps.Spawner.Spawn(ctx, capability.SpawnRequest{
		MainTaskID: task.ID,
		SubTaskID:  sub.ID,
		Model:      sub.Model,
		Payload:    buildPayload(task, sub, s.ledger.RecordPath(sub.ID)),
	})
	if err != nil {
		return s.spawnFailed(out, err, nil)
	}

	if _, err := s.store.BindSession(sub.ID, sessionID); err != nil {
		out.SessionID = sessionID
		details := s.releaseSession(ctx, &out)
		return s.spawnFailed(out, err, details)
	}

	out.SessionID = sessionID
	s.metrics.Spawn("spawned")
	s.metrics.Transition(string(models.TaskStatusRunning), "spawn")
	s.activity.Record(activity.Entry{
		Event:      activity.EventSpawned,
		MainTaskID: task.ID,
		SubTaskID:  sub.ID,
		SessionID:  sessionID,
		Status:     string(models.TaskStatusRunning),
		Details:    map[string]any{"model": sub.Model},
	})
	return out
}

// releaseSession terminates a spawned session that no sub-task owns.
// Failure is logged and returned as activity details; the spawn is already
// being reported as failed.
func (s *Service) releaseSession(ctx context.Context, out *SpawnResult) map[string]any {
	if s.caps.Terminator == nil {
		s.log.Warn("spawned session left running: no terminator", "subtask_id", out.SubTaskID, "session_id", out.SessionID)
		return map[string]any{"session_killed": false, "kill_error": "no terminator configured"}
	}
	if err := s.caps.Terminator.Kill(ctx, out.SessionID); err != nil {
		s.log.Warn("terminating unbound session", "subtask_id", out.SubTaskID, "session_id", out.SessionID, "error", err)
		return map[string]any{"session_killed": false, "kill_error": err.Error()}
	}
	out.SessionKilled = true
	return map[string]any{"session_killed": true}
}

func (s *Service) spawnFailed(out SpawnResult, cause error, details map[string]any) SpawnResult {
	out.Error = cause.Error()
	s.metrics.Spawn("failed")
	s.log.Warn("spawn failed", "subtask_id", out.SubTaskID, "error", cause)

	_, err := s.store.Transition(out.SubTaskID, models.TaskStatusPending, taskstore.SubTaskUpdate{
		Error:    ptr(out.Error),
		IfStatus: []models.TaskStatus{models.TaskStatusPending},
	})
	if err != nil {
		s.log.Warn("recording spawn failure", "subtask_id", out.SubTaskID, "error", err)
	}
	s.activity.Record(activity.Entry{
		Event:     activity.EventSpawnFailed,
		SubTaskID: out.SubTaskID,
		SessionID: out.SessionID,
		Status:    string(models.TaskStatusPending),
		Message:   out.Error,
		Details:   details,
	})
	return out
}
