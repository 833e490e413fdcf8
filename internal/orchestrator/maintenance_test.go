package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ShayCichocki/relay/internal/activity"
	"github.com/ShayCichocki/relay/internal/capability"
	"github.com/ShayCichocki/relay/internal/errors"
	"github.com/ShayCichocki/relay/internal/state"
	"github.com/ShayCichocki/relay/pkg/models"
)

func TestCheckTimeouts_ReportOnly(t *testing.T) {
	h := setupTestService(t, capability.Set{})
	task := h.orchestrate(t, 2)
	slow, fresh := task.SubTasks[0], task.SubTasks[1]
	if _, err := h.svc.Bind(slow.ID, "s-slow"); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(60 * time.Minute)
	if _, err := h.svc.Bind(fresh.ID, "s-fresh"); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(30 * time.Minute)

	before, err := os.ReadFile(h.store.Path())
	if err != nil {
		t.Fatal(err)
	}

	report, err := h.svc.CheckTimeouts(context.Background(), 60*time.Minute, false)
	if err != nil {
		t.Fatalf("CheckTimeouts() error = %v", err)
	}
	if len(report.SubTasks) != 1 {
		t.Fatalf("timed out = %d, want 1", len(report.SubTasks))
	}
	got := report.SubTasks[0]
	if got.SubTaskID != slow.ID || got.Elapsed != 90*time.Minute || got.Aborted {
		t.Errorf("timed out = %+v, want %s after 90m, not aborted", got, slow.ID)
	}

	after, _ := os.ReadFile(h.store.Path())
	if string(before) != string(after) {
		t.Error("report-only timeout check changed the store")
	}
	if !hasEvent(h.events(t), activity.EventTimeoutDetected) {
		t.Error("timeout not recorded in activity log")
	}
}

func TestCheckTimeouts_Validation(t *testing.T) {
	h := setupTestService(t, capability.Set{})

	tests := []struct {
		name      string
		threshold time.Duration
		autoAbort bool
		kind      errors.Kind
	}{
		{"below range", 4 * time.Minute, false, errors.KindValidation},
		{"above range", 1441 * time.Minute, false, errors.KindValidation},
		{"lower bound", 5 * time.Minute, false, ""},
		{"upper bound", 1440 * time.Minute, false, ""},
		{"default", 0, false, ""},
		{"auto-abort without terminator", time.Hour, true, errors.KindCapabilityUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.CheckTimeouts(context.Background(), tt.threshold, tt.autoAbort)
			if got := errors.KindOf(err); got != tt.kind {
				t.Errorf("error = %v, want kind %q", err, tt.kind)
			}
		})
	}
}

func TestCheckTimeouts_AutoAbort(t *testing.T) {
	term := &fakeTerminator{fail: map[string]bool{"s-stuck": true}}
	h := setupTestService(t, capability.Set{Terminator: term})
	task := h.orchestrate(t, 2)
	ok, stuck := task.SubTasks[0], task.SubTasks[1]
	for sub, session := range map[*models.SubTask]string{ok: "s-ok", stuck: "s-stuck"} {
		if _, err := h.svc.Bind(sub.ID, session); err != nil {
			t.Fatal(err)
		}
	}
	h.clock.Advance(2 * time.Hour)

	report, err := h.svc.CheckTimeouts(context.Background(), time.Hour, true)
	if err != nil {
		t.Fatalf("CheckTimeouts() error = %v", err)
	}
	if report.Aborted != 1 || report.Failed != 1 || len(report.SubTasks) != 2 {
		t.Fatalf("report = %+v, want 1 aborted and 1 failed", report)
	}

	if got := h.subtask(t, ok.ID); got.Status != models.TaskStatusAborted {
		t.Errorf("terminated sub-task = %s, want aborted", got.Status)
	}
	if got := h.subtask(t, stuck.ID); got.Status != models.TaskStatusRunning {
		t.Errorf("unterminated sub-task = %s, want running", got.Status)
	}
}

func TestCheckTimeouts_AutoAbortKeepsReportedOutcome(t *testing.T) {
	term := &fakeTerminator{}
	h := setupTestService(t, capability.Set{Terminator: term})
	task := h.orchestrate(t, 2)
	done, hung := task.SubTasks[0], task.SubTasks[1]
	for sub, session := range map[*models.SubTask]string{done: "s-done", hung: "s-hung"} {
		if _, err := h.svc.Bind(sub.ID, session); err != nil {
			t.Fatal(err)
		}
	}
	h.clock.Advance(90 * time.Minute)
	h.report(t, done, models.ProgressCompleted, 4, "")

	report, err := h.svc.CheckTimeouts(context.Background(), time.Hour, true)
	if err != nil {
		t.Fatalf("CheckTimeouts() error = %v", err)
	}
	if report.Aborted != 1 || report.Settled != 1 || report.Failed != 0 {
		t.Fatalf("report = %+v, want 1 aborted and 1 settled", report)
	}
	for _, item := range report.SubTasks {
		switch item.SubTaskID {
		case done.ID:
			if item.Aborted || item.Settled != models.TaskStatusCompleted {
				t.Errorf("finished item = %+v, want settled as completed", item)
			}
		case hung.ID:
			if !item.Aborted || item.Settled != "" {
				t.Errorf("hung item = %+v, want aborted", item)
			}
		}
	}

	if got := h.subtask(t, done.ID); got.Status != models.TaskStatusCompleted {
		t.Errorf("finished sub-task = %s, want completed", got.Status)
	}
	if got := h.subtask(t, hung.ID); got.Status != models.TaskStatusAborted {
		t.Errorf("hung sub-task = %s, want aborted", got.Status)
	}
	if len(term.killed) != 1 || term.killed[0] != "s-hung" {
		t.Errorf("killed = %v, want only s-hung", term.killed)
	}
}

func TestCleanup_ReportOnlyThenExecute(t *testing.T) {
	archive, err := state.OpenArchive(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("OpenArchive() error = %v", err)
	}
	t.Cleanup(func() { archive.Close() })

	h := setupTestService(t, capability.Set{}, WithCleanupRecorder(archive))
	for i := 0; i < 15; i++ {
		h.orchestrate(t, 1)
	}
	h.clock.Advance(25 * time.Hour)
	recent := h.orchestrate(t, 1)

	report := h.svc.Cleanup(context.Background(), true, TriggerManual)
	if report.DeletedTasks != 15 || len(report.Errors) != 0 {
		t.Fatalf("report-only = %+v, want 15 candidates and no errors", report)
	}
	tasks, err := h.store.GetAllTasks()
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 16 {
		t.Errorf("tasks after report-only = %d, want 16", len(tasks))
	}
	if hasEvent(h.events(t), activity.EventCleanup) {
		t.Error("report-only run wrote a cleanup entry")
	}

	report = h.svc.Cleanup(context.Background(), false, TriggerManual)
	if report.DeletedTasks != 15 {
		t.Errorf("deleted = %d, want 15", report.DeletedTasks)
	}
	tasks, _ = h.store.GetAllTasks()
	if len(tasks) != 1 || tasks[0].ID != recent.ID {
		t.Errorf("remaining tasks = %d, want only the recent one", len(tasks))
	}
	if !hasEvent(h.events(t), activity.EventCleanup) {
		t.Error("cleanup run not recorded in activity log")
	}

	runs, err := archive.ListCleanupRuns(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].TasksDeleted != 15 || runs[0].Trigger != string(TriggerManual) {
		t.Errorf("cleanup runs = %+v", runs)
	}
}

func TestCleanup_LedgerAndZombies(t *testing.T) {
	h := setupTestService(t, capability.Set{})
	task := h.orchestrate(t, 4)
	finished, reporting, silent, young := task.SubTasks[0], task.SubTasks[1], task.SubTasks[2], task.SubTasks[3]
	for sub, session := range map[*models.SubTask]string{finished: "s-1", reporting: "s-2", silent: "s-3"} {
		if _, err := h.svc.Bind(sub.ID, session); err != nil {
			t.Fatal(err)
		}
	}
	h.clock.Advance(20 * time.Minute)
	if _, err := h.svc.Bind(young.ID, "s-4"); err != nil {
		t.Fatal(err)
	}
	h.report(t, finished, models.ProgressCompleted, 4, "")
	h.report(t, reporting, models.ProgressInProgress, 1, "")
	if err := os.WriteFile(h.ledger.RecordPath("orphan"), []byte("garbage"), 0644); err != nil {
		t.Fatal(err)
	}

	report := h.svc.Cleanup(context.Background(), false, TriggerScheduled)
	if len(report.Errors) != 0 {
		t.Fatalf("errors = %v", report.Errors)
	}
	if report.Ledger.Removed != 1 || report.Ledger.Corrupt != 1 || report.Ledger.Preserved != 1 {
		t.Errorf("ledger = %+v, want 1 removed, 1 corrupt, 1 preserved", report.Ledger)
	}
	if len(report.Zombies) != 1 || report.Zombies[0].SubTaskID != silent.ID {
		t.Errorf("zombies = %+v, want only %s", report.Zombies, silent.ID)
	}

	// The completed record was absorbed before it was swept.
	if got := h.subtask(t, finished.ID); got.Status != models.TaskStatusCompleted {
		t.Errorf("finished sub-task = %s, want completed", got.Status)
	}
	if h.ledger.Exists(finished.ID) {
		t.Error("terminal ledger record not removed")
	}
	// Zombie detection never mutates.
	if got := h.subtask(t, silent.ID); got.Status != models.TaskStatusRunning {
		t.Errorf("zombie sub-task = %s, want running", got.Status)
	}
	if !hasEvent(h.events(t), activity.EventZombieDetected) {
		t.Error("zombie not recorded in activity log")
	}
}

func TestCleanup_StepFailureIsolated(t *testing.T) {
	h := setupTestService(t, capability.Set{})
	h.orchestrate(t, 1)

	// Replace the ledger directory with a file so the ledger sweep fails.
	dir := h.ledger.Dir()
	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dir, []byte("not a directory"), 0644); err != nil {
		t.Fatal(err)
	}

	h.clock.Advance(48 * time.Hour)
	report := h.svc.Cleanup(context.Background(), false, TriggerManual)
	if len(report.Errors) != 1 {
		t.Fatalf("errors = %v, want exactly the ledger step", report.Errors)
	}
	if report.DeletedTasks != 1 {
		t.Errorf("deleted = %d, want 1 despite the ledger failure", report.DeletedTasks)
	}
}

func TestScheduler(t *testing.T) {
	h := setupTestService(t, capability.Set{})
	h.orchestrate(t, 1)
	h.clock.Advance(48 * time.Hour)

	reports := make(chan *CleanupReport, 16)
	sc := h.svc.NewScheduler(10*time.Millisecond, WithAfterRun(func(r *CleanupReport) {
		select {
		case reports <- r:
		default:
		}
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sc.Run(ctx) }()

	select {
	case r := <-reports:
		if r.Trigger != TriggerScheduled || r.DeletedTasks != 1 {
			t.Errorf("first scheduled report = %+v", r)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler never ran")
	}

	// Later ticks keep running against the now-empty store.
	select {
	case r := <-reports:
		if r.DeletedTasks != 0 || len(r.Errors) != 0 {
			t.Errorf("second scheduled report = %+v", r)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler stopped after one run")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestScheduler_ContextCancel(t *testing.T) {
	h := setupTestService(t, capability.Set{})
	sc := h.svc.NewScheduler(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sc.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	if err := h.svc.NewScheduler(0).Run(context.Background()); err == nil {
		t.Error("Run() with zero interval should fail")
	}
}
