package orchestrator

import (
	"fmt"
	"time"

	"github.com/ShayCichocki/relay/internal/activity"
	"github.com/ShayCichocki/relay/internal/capability"
	"github.com/ShayCichocki/relay/internal/config"
	"github.com/ShayCichocki/relay/internal/errors"
	"github.com/ShayCichocki/relay/internal/logging"
	"github.com/ShayCichocki/relay/internal/metrics"
	"github.com/ShayCichocki/relay/internal/progress"
	"github.com/ShayCichocki/relay/internal/registry"
	"github.com/ShayCichocki/relay/internal/taskstore"
	"github.com/ShayCichocki/relay/pkg/models"
)

// Service is one orchestration instance.
type Service struct {
	store    *taskstore.Store
	registry *registry.Registry
	ledger   *progress.Ledger

	caps     capability.Set
	activity *activity.Log
	archive  CleanupRecorder
	metrics  *metrics.Metrics
	log      *logging.Logger
	now      func() time.Time
	defaults Defaults
}

// New creates a Service. All RequiredConfig fields must be set.
func New(req RequiredConfig, opts ...Option) (*Service, error) {
	if req.Store == nil || req.Registry == nil || req.Ledger == nil {
		return nil, fmt.Errorf("orchestrator: store, registry and ledger are required")
	}

	o := serviceOptions{
		now:      time.Now,
		defaults: DefaultsFromConfig(config.Default()),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Service{
		store:    req.Store,
		registry: req.Registry,
		ledger:   req.Ledger,
		caps:     o.caps,
		activity: o.activity,
		archive:  o.archive,
		metrics:  o.metrics,
		log:      o.logger.WithComponent("orchestrator"),
		now:      o.now,
		defaults: o.defaults,
	}, nil
}

// Capabilities returns the collaborators available to this service.
func (s *Service) Capabilities() capability.Set {
	return s.caps
}

// Defaults returns the request defaults in effect.
func (s *Service) Defaults() Defaults {
	return s.defaults
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// resolve finds a sub-task by its ID or, failing that, by a bound session ID.
// A ref shaped like a sub-task ID only matches a session exactly, so a
// deleted sub-task never resolves to some other session containing its ID.
func (s *Service) resolve(op, ref string) (*models.MainTask, *models.SubTask, error) {
	if ref == "" {
		return nil, nil, errors.Validation(op, "sub-task or session id must not be empty")
	}
	task, sub, err := s.store.GetSubTask(ref)
	if err == nil {
		return task, sub, nil
	}
	if !errors.Is(err, errors.ErrNotFound) {
		return nil, nil, err
	}
	task, sub, err = s.store.GetTaskBySessionID(ref)
	if errors.Is(err, errors.ErrNotFound) || (err == nil && taskstore.IsSubTaskID(ref) && sub.SessionID != ref) {
		return nil, nil, errors.NotFound(op, "sub-task or session", ref)
	}
	return task, sub, err
}

// transition applies a status change and, when it took effect, records it
// in the activity log and metrics under source.
func (s *Service) transition(source string, event activity.Event, subTaskID string, status models.TaskStatus, upd taskstore.SubTaskUpdate) (taskstore.Change, error) {
	ch, err := s.store.Transition(subTaskID, status, upd)
	if err != nil || !ch.Applied {
		return ch, err
	}

	s.metrics.Transition(string(status), source)
	entry := activity.Entry{
		Event:      event,
		MainTaskID: ch.SubTask.MainTaskID,
		SubTaskID:  ch.SubTask.ID,
		SessionID:  ch.SubTask.SessionID,
		Status:     string(status),
		Message:    ch.SubTask.Error,
		Details: map[string]any{
			"previous":    string(ch.Previous),
			"main_status": string(ch.MainStatus),
			"source":      source,
		},
	}
	s.activity.Record(entry)
	s.log.Info("sub-task transitioned",
		"subtask_id", ch.SubTask.ID,
		"from", string(ch.Previous),
		"to", string(status),
		"source", source,
	)
	return ch, nil
}

// active lists the statuses a sub-task can still leave.
var active = []models.TaskStatus{
	models.TaskStatusPending,
	models.TaskStatusRunning,
	models.TaskStatusFrozen,
}

func ptr[T any](v T) *T {
	return &v
}
