package orchestrator

import (
	"context"

	"github.com/ShayCichocki/relay/internal/errors"
)

// WatchLedger reconciles a sub-task as soon as its ledger record is written,
// until ctx is cancelled. Records for unknown sub-tasks are ignored.
func (s *Service) WatchLedger(ctx context.Context) error {
	log := s.log.With("ledger", s.ledger.Dir())
	log.Info("watching progress ledger")

	return s.ledger.Watch(ctx, func(subTaskID string) {
		changed, err := s.Reconcile(subTaskID)
		switch {
		case errors.Is(err, errors.ErrNotFound):
			log.Debug("progress record for unknown sub-task", "subtask_id", subTaskID)
		case err != nil:
			log.Warn("reconciling on ledger write", "subtask_id", subTaskID, "error", err)
		case changed:
			log.Debug("reconciled on ledger write", "subtask_id", subTaskID)
		}
	})
}
