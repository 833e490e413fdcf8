package activity

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func setupTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "logs", "activity.jsonl"), nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return l
}

func TestAppendTail(t *testing.T) {
	l := setupTestLog(t)
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	l.SetClock(func() time.Time { return fixed })

	entries := []Entry{
		{Event: EventTaskCreated, MainTaskID: "task-1"},
		{Event: EventSessionBound, MainTaskID: "task-1", SubTaskID: "task-1-sub-1", SessionID: "s1", Status: "running"},
		{Event: EventCleanup, Details: map[string]any{"deleted_tasks": 3, "trigger": "scheduled"}},
	}
	for _, e := range entries {
		if err := l.Append(e); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	got, err := l.Tail(0)
	if err != nil {
		t.Fatalf("Tail() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("entries = %d, want 3", len(got))
	}
	if !got[0].Timestamp.Equal(fixed) {
		t.Errorf("Timestamp = %v, want %v", got[0].Timestamp, fixed)
	}
	if got[1].SessionID != "s1" || got[1].Status != "running" {
		t.Errorf("entry = %+v", got[1])
	}
	if got[2].Details["trigger"] != "scheduled" {
		t.Errorf("Details = %v", got[2].Details)
	}

	data, _ := os.ReadFile(l.Path())
	if lines := strings.Count(string(data), "\n"); lines != 3 {
		t.Errorf("lines = %d, want one per entry", lines)
	}
}

func TestTail_LimitAndCorruptLines(t *testing.T) {
	l := setupTestLog(t)

	for i := 0; i < 5; i++ {
		if err := l.Append(Entry{Event: EventStatusChanged, SubTaskID: fmt.Sprintf("s%d", i)}); err != nil {
			t.Fatal(err)
		}
	}
	f, err := os.OpenFile(l.Path(), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("{truncated\n\n")
	f.Close()
	if err := l.Append(Entry{Event: EventAborted, SubTaskID: "s5"}); err != nil {
		t.Fatal(err)
	}

	got, err := l.Tail(2)
	if err != nil {
		t.Fatalf("Tail() error = %v", err)
	}
	if len(got) != 2 || got[0].SubTaskID != "s4" || got[1].SubTaskID != "s5" {
		t.Errorf("Tail(2) = %+v", got)
	}
}

func TestTail_Missing(t *testing.T) {
	l := setupTestLog(t)
	got, err := l.Tail(10)
	if err != nil || got != nil {
		t.Errorf("Tail() on missing log = %v, %v, want nil, nil", got, err)
	}
}

func TestAppend_Concurrent(t *testing.T) {
	l := setupTestLog(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l.Record(Entry{Event: EventStatusChanged, SubTaskID: fmt.Sprintf("s%d", i)})
		}(i)
	}
	wg.Wait()

	got, err := l.Tail(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 20 {
		t.Errorf("entries = %d, want 20", len(got))
	}
}

func TestNilLog(t *testing.T) {
	var l *Log
	l.Record(Entry{Event: EventCleanup})
	if err := l.Append(Entry{Event: EventCleanup}); err != nil {
		t.Errorf("Append() on nil log = %v", err)
	}
}
