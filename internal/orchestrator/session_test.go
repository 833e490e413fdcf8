package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/ShayCichocki/relay/internal/activity"
	"github.com/ShayCichocki/relay/internal/capability"
	"github.com/ShayCichocki/relay/internal/errors"
	"github.com/ShayCichocki/relay/pkg/models"
)

func TestAbort(t *testing.T) {
	term := &fakeTerminator{fail: map[string]bool{"stuck": true}}
	h := setupTestService(t, capability.Set{Terminator: term})
	task := h.orchestrate(t, 4)
	running, stuck, done, unbound := task.SubTasks[0], task.SubTasks[1], task.SubTasks[2], task.SubTasks[3]
	for sub, session := range map[*models.SubTask]string{running: "live", stuck: "stuck", done: "done"} {
		if _, err := h.svc.Bind(sub.ID, session); err != nil {
			t.Fatal(err)
		}
	}
	h.report(t, done, models.ProgressCompleted, 4, "")
	ctx := context.Background()

	t.Run("by session id", func(t *testing.T) {
		res, err := h.svc.Abort(ctx, "live", "operator")
		if err != nil {
			t.Fatalf("Abort() error = %v", err)
		}
		if !res.Applied || res.SubTask.Status != models.TaskStatusAborted || res.SubTask.Error != "operator" {
			t.Errorf("result = %+v / %+v", res, res.SubTask)
		}
		if len(term.killed) != 1 || term.killed[0] != "live" {
			t.Errorf("killed = %v, want [live]", term.killed)
		}
	})

	t.Run("terminate failure leaves status", func(t *testing.T) {
		if _, err := h.svc.Abort(ctx, stuck.ID, ""); err == nil {
			t.Fatal("Abort() should fail when termination fails")
		}
		if got := h.subtask(t, stuck.ID); got.Status != models.TaskStatusRunning {
			t.Errorf("status = %s, want running so the caller can retry", got.Status)
		}
		if !hasEvent(h.events(t), activity.EventAbortFailed) {
			t.Error("abort failure not recorded")
		}
	})

	t.Run("ledger completion reconciled first", func(t *testing.T) {
		res, err := h.svc.Abort(ctx, done.ID, "")
		if err != nil {
			t.Fatalf("Abort() error = %v", err)
		}
		if res.Applied || res.SubTask.Status != models.TaskStatusCompleted {
			t.Errorf("result = applied %v, status %s; want completed untouched", res.Applied, res.SubTask.Status)
		}
	})

	t.Run("already terminal is a no-op", func(t *testing.T) {
		res, err := h.svc.Abort(ctx, running.ID, "again")
		if err != nil {
			t.Fatalf("Abort() error = %v", err)
		}
		if res.Applied || res.SubTask.Error != "operator" {
			t.Errorf("second abort changed state: %+v", res.SubTask)
		}
	})

	t.Run("unbound needs no terminator", func(t *testing.T) {
		res, err := h.svc.Abort(ctx, unbound.ID, "")
		if err != nil {
			t.Fatalf("Abort() error = %v", err)
		}
		if res.SubTask.Status != models.TaskStatusAborted {
			t.Errorf("status = %s, want aborted", res.SubTask.Status)
		}
	})

	t.Run("unknown ref", func(t *testing.T) {
		if _, err := h.svc.Abort(ctx, "nope", ""); !errors.Is(err, errors.ErrNotFound) {
			t.Errorf("error = %v, want not found", err)
		}
	})
}

func TestAbort_TerminatorUnavailable(t *testing.T) {
	h := setupTestService(t, capability.Set{})
	sub := h.orchestrate(t, 1).SubTasks[0]
	if _, err := h.svc.Bind(sub.ID, "s1"); err != nil {
		t.Fatal(err)
	}

	_, err := h.svc.Abort(context.Background(), sub.ID, "")
	if !errors.Is(err, errors.ErrCapabilityUnavailable) {
		t.Fatalf("error = %v, want capability unavailable", err)
	}
	if got := h.subtask(t, sub.ID); got.Status != models.TaskStatusRunning {
		t.Errorf("status = %s, want running", got.Status)
	}
}

func TestFreeze(t *testing.T) {
	h := setupTestService(t, capability.Set{})
	task := h.orchestrate(t, 3)
	running, pending, finished := task.SubTasks[0], task.SubTasks[1], task.SubTasks[2]
	if _, err := h.svc.Bind(running.ID, "s1"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.svc.Abort(context.Background(), finished.ID, ""); err != nil {
		t.Fatal(err)
	}

	sub, err := h.svc.Freeze("s1", "no output for 20m")
	if err != nil {
		t.Fatalf("Freeze() error = %v", err)
	}
	if sub.Status != models.TaskStatusFrozen || sub.Error != "no output for 20m" {
		t.Errorf("frozen sub-task = %s/%q", sub.Status, sub.Error)
	}
	if _, err := h.svc.Freeze(running.ID, ""); err != nil {
		t.Errorf("freezing a frozen sub-task should be a no-op, got %v", err)
	}

	if _, err := h.svc.Freeze(pending.ID, ""); !errors.Is(err, errors.ErrValidation) {
		t.Errorf("Freeze(pending) error = %v, want validation", err)
	}
	if _, err := h.svc.Freeze(finished.ID, ""); !errors.Is(err, errors.ErrNotRunning) {
		t.Errorf("Freeze(aborted) error = %v, want not running", err)
	}
}

func TestFreeze_SubTaskShapedRefNeedsExactSession(t *testing.T) {
	h := setupTestService(t, capability.Set{})
	task := h.orchestrate(t, 1)
	sub := task.SubTasks[0]
	// A worker whose session name embeds a sub-task ID that does not exist.
	if _, err := h.svc.Bind(sub.ID, task.ID+"-sub-2-worker"); err != nil {
		t.Fatal(err)
	}

	if _, err := h.svc.Freeze(task.ID+"-sub-2", ""); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Freeze(missing sub-task) error = %v, want not found", err)
	}
	if got := h.subtask(t, sub.ID); got.Status != models.TaskStatusRunning {
		t.Fatalf("unrelated sub-task = %s, want running", got.Status)
	}

	// Partial session refs that are not sub-task IDs still resolve.
	got, err := h.svc.Freeze("sub-2-worker", "")
	if err != nil {
		t.Fatalf("Freeze(partial session) error = %v", err)
	}
	if got.ID != sub.ID || got.Status != models.TaskStatusFrozen {
		t.Errorf("frozen = %s/%s, want %s frozen", got.ID, got.Status, sub.ID)
	}
}

func TestInjectMessage(t *testing.T) {
	messenger := &fakeMessenger{}
	h := setupTestService(t, capability.Set{Messenger: messenger})
	task := h.orchestrate(t, 3)
	live, unbound, ended := task.SubTasks[0], task.SubTasks[1], task.SubTasks[2]
	for sub, session := range map[*models.SubTask]string{live: "s-live", ended: "s-ended"} {
		if _, err := h.svc.Bind(sub.ID, session); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := h.svc.OnSessionEnd("s-ended", time.Minute); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		ref  string
		msg  string
		kind errors.Kind
	}{
		{"by sub-task id", live.ID, "status please", ""},
		{"by session id", "s-live", "wrap up", ""},
		{"empty message", live.ID, " ", errors.KindValidation},
		{"unbound", unbound.ID, "hello", errors.KindNotRunning},
		{"terminal", ended.ID, "hello", errors.KindNotRunning},
		{"unknown", "nope", "hello", errors.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.svc.InjectMessage(context.Background(), tt.ref, tt.msg)
			if got := errors.KindOf(err); got != tt.kind {
				t.Errorf("error = %v, want kind %q", err, tt.kind)
			}
		})
	}

	if got := messenger.sent["s-live"]; len(got) != 2 || got[1] != "wrap up" {
		t.Errorf("sent = %v", got)
	}
	if len(messenger.sent["s-ended"]) != 0 {
		t.Error("message delivered to an ended session")
	}
}

func TestInjectMessage_Unavailable(t *testing.T) {
	h := setupTestService(t, capability.Set{})
	sub := h.orchestrate(t, 1).SubTasks[0]

	err := h.svc.InjectMessage(context.Background(), sub.ID, "hello")
	if !errors.Is(err, errors.ErrCapabilityUnavailable) {
		t.Errorf("error = %v, want capability unavailable", err)
	}
}

func TestHistory(t *testing.T) {
	reader := &fakeHistory{entries: []capability.HistoryEntry{
		{Role: "user", Content: "go"},
		{Role: "assistant", Content: "working"},
		{Role: "assistant", Content: "done"},
	}}
	h := setupTestService(t, capability.Set{History: reader})
	task := h.orchestrate(t, 2)
	if _, err := h.svc.Bind(task.SubTasks[0].ID, "s1"); err != nil {
		t.Fatal(err)
	}

	got, err := h.svc.History(context.Background(), "s1", false, 2)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(got) != 2 || got[1].Content != "done" {
		t.Errorf("History() = %+v", got)
	}

	if _, err := h.svc.History(context.Background(), task.SubTasks[1].ID, false, 0); !errors.Is(err, errors.ErrValidation) {
		t.Errorf("History(unbound) error = %v, want validation", err)
	}
	if _, err := h.svc.History(context.Background(), "s1", false, -1); !errors.Is(err, errors.ErrValidation) {
		t.Errorf("History(limit -1) error = %v, want validation", err)
	}

	bare := setupTestService(t, capability.Set{})
	if _, err := bare.svc.History(context.Background(), "s1", false, 0); !errors.Is(err, errors.ErrCapabilityUnavailable) {
		t.Errorf("History() without capability error = %v", err)
	}
}

func TestOnSessionEnd(t *testing.T) {
	h := setupTestService(t, capability.Set{})
	task := h.orchestrate(t, 2)
	quiet, failing := task.SubTasks[0], task.SubTasks[1]
	for sub, session := range map[*models.SubTask]string{quiet: "s-quiet", failing: "s-failing"} {
		if _, err := h.svc.Bind(sub.ID, session); err != nil {
			t.Fatal(err)
		}
	}
	h.report(t, failing, models.ProgressFailed, 2, "compile error")

	sub, err := h.svc.OnSessionEnd("s-quiet", 42*time.Second)
	if err != nil {
		t.Fatalf("OnSessionEnd() error = %v", err)
	}
	if sub.Status != models.TaskStatusCompleted || sub.ActualDurationMs != 42000 {
		t.Errorf("quiet session = %s/%dms, want completed/42000ms", sub.Status, sub.ActualDurationMs)
	}

	sub, err = h.svc.OnSessionEnd("s-failing", time.Minute)
	if err != nil {
		t.Fatalf("OnSessionEnd() error = %v", err)
	}
	if sub.Status != models.TaskStatusFailed || sub.Error != "compile error" {
		t.Errorf("failing session = %s/%q, want the ledger's failure", sub.Status, sub.Error)
	}

	// A repeated notification reports the existing state.
	sub, err = h.svc.OnSessionEnd("s-quiet", time.Hour)
	if err != nil || sub.ActualDurationMs != 42000 {
		t.Errorf("repeat OnSessionEnd() = %+v, %v", sub, err)
	}

	got, err := h.store.GetTask(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.TaskStatusFailed {
		t.Errorf("main status = %s, want failed", got.Status)
	}

	if _, err := h.svc.OnSessionEnd("unknown", 0); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("unknown session error = %v, want not found", err)
	}
}
