package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNew(reg)

	m.TaskCreated("high")
	m.TaskCreated("high")
	m.Transition("completed", "ledger")
	m.Spawn("manual")
	m.Timeout("detected")
	m.Timeout("aborted")
	m.CleanupItems("tasks_deleted", 4)
	m.CleanupItems("zombies", 0)
	m.ObserveCleanup("manual", 10*time.Millisecond)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"tasks created", testutil.ToFloat64(m.tasksCreated.WithLabelValues("high")), 2},
		{"transitions", testutil.ToFloat64(m.transitions.WithLabelValues("completed", "ledger")), 1},
		{"spawns", testutil.ToFloat64(m.spawns.WithLabelValues("manual")), 1},
		{"timeouts detected", testutil.ToFloat64(m.timeouts.WithLabelValues("detected")), 1},
		{"cleanup deleted", testutil.ToFloat64(m.cleanupItems.WithLabelValues("tasks_deleted")), 4},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}

	if n := testutil.CollectAndCount(m.cleanupItems); n != 1 {
		t.Errorf("cleanup series = %d, want 1 (zero adds are skipped)", n)
	}
}

func TestMustNew_ReusesRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := MustNew(reg)
	b := MustNew(reg)

	a.TaskCreated("low")
	if got := testutil.ToFloat64(b.tasksCreated.WithLabelValues("low")); got != 1 {
		t.Errorf("second instance sees %v, want shared collector", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.TaskCreated("low")
	m.Transition("running", "bind")
	m.Spawn("failed")
	m.Timeout("abort_failed")
	m.CleanupItems("zombies", 3)
	m.ObserveCleanup("scheduled", time.Second)
}
