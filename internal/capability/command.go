package capability

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/kballard/go-shellquote"
	"github.com/tidwall/gjson"

	"github.com/ShayCichocki/relay/internal/config"
	"github.com/ShayCichocki/relay/internal/exec"
	"github.com/ShayCichocki/relay/internal/logging"
)

// templateData is what capability command templates can reference, e.g.
//
//	kill_command: "agentctl stop {{quote .SessionID}}"
//
// Payloads and messages are never interpolated; they arrive on stdin.
type templateData struct {
	SessionID    string
	SubTaskID    string
	MainTaskID   string
	Model        string
	IncludeTools bool
	Limit        int
}

var templateFuncs = template.FuncMap{
	"quote": func(s string) string { return shellquote.Join(s) },
}

// Commands runs configured shell command templates to reach the external
// collaborators. Kill and history are retried with exponential backoff;
// spawn and send are not, since a retry could duplicate their effect.
type Commands struct {
	runner   exec.CommandRunner
	timeout  time.Duration
	maxTries uint
	initial  time.Duration
	log      *logging.Logger

	spawn   *template.Template
	send    *template.Template
	history *template.Template
	kill    *template.Template
}

// CommandOption configures Commands.
type CommandOption func(*Commands)

// WithRetry sets how many attempts idempotent commands get and the first
// backoff interval.
func WithRetry(maxTries uint, initial time.Duration) CommandOption {
	return func(c *Commands) {
		c.maxTries = maxTries
		c.initial = initial
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *logging.Logger) CommandOption {
	return func(c *Commands) { c.log = l }
}

// NewCommands parses the configured templates. Empty templates leave the
// capability unavailable.
func NewCommands(cfg config.CapabilitiesConfig, runner exec.CommandRunner, opts ...CommandOption) (*Commands, error) {
	c := &Commands{
		runner:   runner,
		timeout:  cfg.CommandTimeout,
		maxTries: 3,
		initial:  500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}

	parse := func(name, text string) (*template.Template, error) {
		if strings.TrimSpace(text) == "" {
			return nil, nil
		}
		t, err := template.New(name).Funcs(templateFuncs).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse %s command template: %w", name, err)
		}
		return t, nil
	}

	var err error
	if c.spawn, err = parse(NameSpawn, cfg.SpawnCommand); err != nil {
		return nil, err
	}
	if c.send, err = parse(NameSend, cfg.SendCommand); err != nil {
		return nil, err
	}
	if c.history, err = parse(NameHistory, cfg.HistoryCommand); err != nil {
		return nil, err
	}
	if c.kill, err = parse(NameTerminate, cfg.KillCommand); err != nil {
		return nil, err
	}
	return c, nil
}

// Set returns a Set exposing only the configured capabilities.
func (c *Commands) Set() Set {
	var s Set
	if c.spawn != nil {
		s.Spawner = commandSpawner{c}
	}
	if c.send != nil {
		s.Messenger = commandMessenger{c}
	}
	if c.history != nil {
		s.History = commandHistory{c}
	}
	if c.kill != nil {
		s.Terminator = commandTerminator{c}
	}
	return s
}

// NewCommandSet is NewCommands followed by Set.
func NewCommandSet(cfg config.CapabilitiesConfig, runner exec.CommandRunner, opts ...CommandOption) (Set, error) {
	c, err := NewCommands(cfg, runner, opts...)
	if err != nil {
		return Set{}, err
	}
	return c.Set(), nil
}

func (c *Commands) run(ctx context.Context, t *template.Template, data templateData, stdin []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render %s command: %w", t.Name(), err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	out, err := c.runner.RunShell(ctx, exec.ShellRequest{
		Command: buf.String(),
		Stdin:   stdin,
		Env: map[string]string{
			"RELAY_SESSION_ID":   data.SessionID,
			"RELAY_SUBTASK_ID":   data.SubTaskID,
			"RELAY_MAIN_TASK_ID": data.MainTaskID,
			"RELAY_MODEL":        data.Model,
		},
	})
	if err != nil {
		return out, fmt.Errorf("%s command: %w", t.Name(), err)
	}
	return out, nil
}

// runRetry runs an idempotent command with exponential backoff.
func (c *Commands) runRetry(ctx context.Context, t *template.Template, data templateData) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initial

	attempt := 0
	return backoff.Retry(ctx, func() ([]byte, error) {
		attempt++
		out, err := c.run(ctx, t, data, nil)
		if err != nil {
			c.log.Debug("capability command failed", "capability", t.Name(), "attempt", attempt, "error", err)
		}
		return out, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(c.maxTries))
}

type commandSpawner struct{ c *Commands }

// Spawn runs the spawn command with the payload on stdin. The command
// prints the new session ID, either bare on the first line or as the
// session_id field of a JSON object.
func (s commandSpawner) Spawn(ctx context.Context, req SpawnRequest) (string, error) {
	out, err := s.c.run(ctx, s.c.spawn, templateData{
		SubTaskID:  req.SubTaskID,
		MainTaskID: req.MainTaskID,
		Model:      req.Model,
	}, []byte(req.Payload))
	if err != nil {
		return "", err
	}
	id := parseSessionID(out)
	if id == "" {
		return "", fmt.Errorf("spawn command printed no session id")
	}
	return id, nil
}

func parseSessionID(out []byte) string {
	trimmed := bytes.TrimSpace(out)
	if gjson.ValidBytes(trimmed) && gjson.ParseBytes(trimmed).IsObject() {
		for _, key := range []string{"session_id", "sessionId", "id"} {
			if v := gjson.GetBytes(trimmed, key); v.Exists() && v.String() != "" {
				return v.String()
			}
		}
		return ""
	}
	for _, line := range strings.Split(string(trimmed), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

type commandMessenger struct{ c *Commands }

// Send runs the send command with the message on stdin.
func (m commandMessenger) Send(ctx context.Context, sessionID, message string) error {
	_, err := m.c.run(ctx, m.c.send, templateData{SessionID: sessionID}, []byte(message))
	return err
}

type commandHistory struct{ c *Commands }

// History runs the history command. It prints either a JSON array of
// {timestamp, role, content} objects or one such object per line. Entries
// beyond limit are dropped from the front.
func (h commandHistory) History(ctx context.Context, sessionID string, includeTools bool, limit int) ([]HistoryEntry, error) {
	out, err := h.c.runRetry(ctx, h.c.history, templateData{
		SessionID:    sessionID,
		IncludeTools: includeTools,
		Limit:        limit,
	})
	if err != nil {
		return nil, err
	}

	entries := parseHistory(out)
	if !includeTools {
		kept := entries[:0]
		for _, e := range entries {
			if e.Role != "tool" {
				kept = append(kept, e)
			}
		}
		entries = kept
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

func parseHistory(out []byte) []HistoryEntry {
	trimmed := bytes.TrimSpace(out)
	var results []gjson.Result
	if parsed := gjson.ParseBytes(trimmed); parsed.IsArray() {
		results = parsed.Array()
	} else {
		for _, line := range bytes.Split(trimmed, []byte("\n")) {
			if line = bytes.TrimSpace(line); len(line) > 0 && gjson.ValidBytes(line) {
				results = append(results, gjson.ParseBytes(line))
			}
		}
	}

	entries := make([]HistoryEntry, 0, len(results))
	for _, r := range results {
		if !r.IsObject() {
			continue
		}
		e := HistoryEntry{
			Role:    r.Get("role").String(),
			Content: r.Get("content").String(),
		}
		ts := r.Get("timestamp")
		switch ts.Type {
		case gjson.Number:
			e.Timestamp = time.UnixMilli(ts.Int()).UTC()
		case gjson.String:
			if t, err := time.Parse(time.RFC3339Nano, ts.String()); err == nil {
				e.Timestamp = t
			}
		}
		entries = append(entries, e)
	}
	return entries
}

type commandTerminator struct{ c *Commands }

// Kill runs the kill command.
func (k commandTerminator) Kill(ctx context.Context, sessionID string) error {
	_, err := k.c.runRetry(ctx, k.c.kill, templateData{SessionID: sessionID})
	return err
}
