// Package capability defines the external collaborators relay depends on
// but does not control: spawning workers, messaging them, reading their
// history and terminating them.
//
// A nil collaborator in a Set means the capability is unavailable in this
// host. Callers check with the Set accessors, which return a
// capability-unavailable error naming the missing capability.
package capability

import (
	"context"
	"time"

	"github.com/ShayCichocki/relay/internal/errors"
)

// Capability names, used in capability-unavailable errors.
const (
	NameSpawn     = "spawn"
	NameSend      = "send"
	NameHistory   = "history"
	NameTerminate = "terminate"
)

// SpawnRequest is what a worker needs to start on a sub-task.
type SpawnRequest struct {
	MainTaskID string
	SubTaskID  string
	Model      string
	// Payload is the full prompt for the worker.
	Payload string
}

// HistoryEntry is one message in a session's conversation.
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
}

// Spawner starts a worker session.
type Spawner interface {
	Spawn(ctx context.Context, req SpawnRequest) (sessionID string, err error)
}

// Messenger delivers a message to a running session.
type Messenger interface {
	Send(ctx context.Context, sessionID, message string) error
}

// HistoryReader reads a session's conversation.
type HistoryReader interface {
	History(ctx context.Context, sessionID string, includeTools bool, limit int) ([]HistoryEntry, error)
}

// Terminator ends a session. It is best-effort.
type Terminator interface {
	Kill(ctx context.Context, sessionID string) error
}

// Set is the collaborators available in this host.
type Set struct {
	Spawner    Spawner
	Messenger  Messenger
	History    HistoryReader
	Terminator Terminator
}

// Available lists the names of the capabilities present.
func (s Set) Available() []string {
	var out []string
	if s.Spawner != nil {
		out = append(out, NameSpawn)
	}
	if s.Messenger != nil {
		out = append(out, NameSend)
	}
	if s.History != nil {
		out = append(out, NameHistory)
	}
	if s.Terminator != nil {
		out = append(out, NameTerminate)
	}
	return out
}

// RequireSpawner returns the spawner or a capability-unavailable error.
func (s Set) RequireSpawner(op string) (Spawner, error) {
	if s.Spawner == nil {
		return nil, errors.Unavailable(op, NameSpawn)
	}
	return s.Spawner, nil
}

// RequireMessenger returns the messenger or a capability-unavailable error.
func (s Set) RequireMessenger(op string) (Messenger, error) {
	if s.Messenger == nil {
		return nil, errors.Unavailable(op, NameSend)
	}
	return s.Messenger, nil
}

// RequireHistory returns the history reader or a capability-unavailable error.
func (s Set) RequireHistory(op string) (HistoryReader, error) {
	if s.History == nil {
		return nil, errors.Unavailable(op, NameHistory)
	}
	return s.History, nil
}

// RequireTerminator returns the terminator or a capability-unavailable error.
func (s Set) RequireTerminator(op string) (Terminator, error) {
	if s.Terminator == nil {
		return nil, errors.Unavailable(op, NameTerminate)
	}
	return s.Terminator, nil
}
