package capability

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/relay/internal/config"
	"github.com/ShayCichocki/relay/internal/errors"
	"github.com/ShayCichocki/relay/internal/exec"
)

// fakeRunner records shell requests and replays scripted results.
type fakeRunner struct {
	mu       sync.Mutex
	requests []exec.ShellRequest
	outputs  [][]byte
	errs     []error
}

func (f *fakeRunner) RunShell(_ context.Context, req exec.ShellRequest) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.requests)
	f.requests = append(f.requests, req)

	var out []byte
	var err error
	if i < len(f.outputs) {
		out = f.outputs[i]
	}
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return out, err
}

func fullConfig() config.CapabilitiesConfig {
	return config.CapabilitiesConfig{
		SpawnCommand:   "agentctl spawn --model {{quote .Model}} --task {{.SubTaskID}}",
		SendCommand:    "agentctl send {{quote .SessionID}}",
		HistoryCommand: "agentctl history {{quote .SessionID}}{{if .IncludeTools}} --tools{{end}} --limit {{.Limit}}",
		KillCommand:    "agentctl kill {{quote .SessionID}}",
		CommandTimeout: time.Second,
	}
}

func newTestSet(t *testing.T, cfg config.CapabilitiesConfig, runner exec.CommandRunner) Set {
	t.Helper()
	set, err := NewCommandSet(cfg, runner, WithRetry(3, time.Millisecond))
	if err != nil {
		t.Fatalf("NewCommandSet() error = %v", err)
	}
	return set
}

func TestNewCommandSet_Availability(t *testing.T) {
	set := newTestSet(t, config.CapabilitiesConfig{KillCommand: "kill {{.SessionID}}"}, &fakeRunner{})

	if got := strings.Join(set.Available(), ","); got != NameTerminate {
		t.Errorf("Available() = %q, want %q", got, NameTerminate)
	}

	if _, err := set.RequireSpawner("orchestrate"); !errors.Is(err, errors.ErrCapabilityUnavailable) {
		t.Errorf("RequireSpawner() error = %v, want capability unavailable", err)
	}
	if _, err := set.RequireMessenger("inject"); err == nil || !strings.Contains(err.Error(), NameSend) {
		t.Errorf("RequireMessenger() error = %v, want naming %q", err, NameSend)
	}
	if _, err := set.RequireHistory("history"); !errors.Is(err, errors.ErrCapabilityUnavailable) {
		t.Errorf("RequireHistory() error = %v", err)
	}
	if _, err := set.RequireTerminator("abort"); err != nil {
		t.Errorf("RequireTerminator() error = %v", err)
	}
}

func TestNewCommandSet_BadTemplate(t *testing.T) {
	_, err := NewCommandSet(config.CapabilitiesConfig{SpawnCommand: "spawn {{.Model"}, &fakeRunner{})
	if err == nil {
		t.Error("expected template parse error")
	}
}

func TestSpawn(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    string
		wantErr bool
	}{
		{"bare id", "sess-123\n", "sess-123", false},
		{"json object", `{"session_id":"abc","status":"started"}`, "abc", false},
		{"json camel case", `{"sessionId":"def"}`, "def", false},
		{"numeric id", "4242\n", "4242", false},
		{"leading blank lines", "\n\n  s-9  \nlog line", "s-9", false},
		{"empty output", "   ", "", true},
		{"json without id", `{"status":"ok"}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{outputs: [][]byte{[]byte(tt.output)}}
			set := newTestSet(t, fullConfig(), runner)

			got, err := set.Spawner.Spawn(context.Background(), SpawnRequest{
				MainTaskID: "task-1",
				SubTaskID:  "task-1-sub-1",
				Model:      "claude sonnet",
				Payload:    "do the work",
			})
			if tt.wantErr {
				if err == nil {
					t.Errorf("Spawn() = %q, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Spawn() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Spawn() = %q, want %q", got, tt.want)
			}

			req := runner.requests[0]
			if req.Command != "agentctl spawn --model 'claude sonnet' --task task-1-sub-1" {
				t.Errorf("Command = %q", req.Command)
			}
			if string(req.Stdin) != "do the work" {
				t.Errorf("Stdin = %q, want payload", req.Stdin)
			}
			if req.Env["RELAY_SUBTASK_ID"] != "task-1-sub-1" {
				t.Errorf("Env = %v", req.Env)
			}
		})
	}
}

func TestSpawn_NotRetried(t *testing.T) {
	runner := &fakeRunner{errs: []error{fmt.Errorf("exit status 1")}}
	set := newTestSet(t, fullConfig(), runner)

	if _, err := set.Spawner.Spawn(context.Background(), SpawnRequest{SubTaskID: "s"}); err == nil {
		t.Fatal("expected spawn error")
	}
	if len(runner.requests) != 1 {
		t.Errorf("spawn attempts = %d, want 1", len(runner.requests))
	}
}

func TestSend(t *testing.T) {
	runner := &fakeRunner{}
	set := newTestSet(t, fullConfig(), runner)

	if err := set.Messenger.Send(context.Background(), "sess 7", "please wrap up"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	req := runner.requests[0]
	if req.Command != "agentctl send 'sess 7'" {
		t.Errorf("Command = %q", req.Command)
	}
	if string(req.Stdin) != "please wrap up" {
		t.Errorf("Stdin = %q", req.Stdin)
	}
}

func TestKill_RetriesThenSucceeds(t *testing.T) {
	runner := &fakeRunner{errs: []error{fmt.Errorf("busy"), fmt.Errorf("busy"), nil}}
	set := newTestSet(t, fullConfig(), runner)

	if err := set.Terminator.Kill(context.Background(), "s1"); err != nil {
		t.Fatalf("Kill() error = %v", err)
	}
	if len(runner.requests) != 3 {
		t.Errorf("kill attempts = %d, want 3", len(runner.requests))
	}
}

func TestKill_GivesUp(t *testing.T) {
	runner := &fakeRunner{errs: []error{fmt.Errorf("a"), fmt.Errorf("b"), fmt.Errorf("c"), nil}}
	set := newTestSet(t, fullConfig(), runner)

	if err := set.Terminator.Kill(context.Background(), "s1"); err == nil {
		t.Fatal("expected kill error after exhausting retries")
	}
	if len(runner.requests) != 3 {
		t.Errorf("kill attempts = %d, want 3", len(runner.requests))
	}
}

func TestHistory(t *testing.T) {
	array := `[
		{"timestamp":"2025-01-01T10:00:00Z","role":"user","content":"start"},
		{"timestamp":1735725660000,"role":"tool","content":"ls"},
		{"timestamp":"2025-01-01T10:02:00Z","role":"assistant","content":"done"}
	]`
	lines := `{"role":"user","content":"a"}
not json
{"role":"assistant","content":"b"}
`

	tests := []struct {
		name         string
		output       string
		includeTools bool
		limit        int
		wantRoles    []string
	}{
		{"array without tools", array, false, 0, []string{"user", "assistant"}},
		{"array with tools", array, true, 0, []string{"user", "tool", "assistant"}},
		{"array limited", array, true, 2, []string{"tool", "assistant"}},
		{"json lines skip garbage", lines, false, 0, []string{"user", "assistant"}},
		{"empty", "", false, 10, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{outputs: [][]byte{[]byte(tt.output)}}
			set := newTestSet(t, fullConfig(), runner)

			got, err := set.History.History(context.Background(), "s1", tt.includeTools, tt.limit)
			if err != nil {
				t.Fatalf("History() error = %v", err)
			}
			roles := make([]string, len(got))
			for i, e := range got {
				roles[i] = e.Role
			}
			if strings.Join(roles, ",") != strings.Join(tt.wantRoles, ",") {
				t.Errorf("roles = %v, want %v", roles, tt.wantRoles)
			}
		})
	}
}

func TestHistory_Timestamps(t *testing.T) {
	out := `[{"timestamp":"2025-01-01T10:00:00Z","role":"user","content":"x"},{"timestamp":1735725660000,"role":"assistant","content":"y"}]`
	runner := &fakeRunner{outputs: [][]byte{[]byte(out)}}
	set := newTestSet(t, fullConfig(), runner)

	got, err := set.History.History(context.Background(), "s1", true, 0)
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC); !got[0].Timestamp.Equal(want) {
		t.Errorf("Timestamp[0] = %v, want %v", got[0].Timestamp, want)
	}
	if want := time.Date(2025, 1, 1, 10, 1, 0, 0, time.UTC); !got[1].Timestamp.Equal(want) {
		t.Errorf("Timestamp[1] = %v, want %v", got[1].Timestamp, want)
	}
	if !strings.Contains(runner.requests[0].Command, "--tools --limit 0") {
		t.Errorf("Command = %q", runner.requests[0].Command)
	}
}
