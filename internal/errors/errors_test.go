package errors

import (
	"fmt"
	"io"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"plain error", io.EOF, KindInternal},
		{"not found", NotFound("get task", "task", "t1"), KindNotFound},
		{"wrapped validation", fmt.Errorf("outer: %w", Validation("add model", "bad")), KindValidation},
		{"unavailable", Unavailable("abort", "terminate"), KindCapabilityUnavailable},
		{"already bound", AlreadyBound("bind", "s1", "x"), KindAlreadyBound},
		{"persistence", Persistence("save", io.ErrShortWrite), KindPersistence},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIs_MatchesSentinelByKind(t *testing.T) {
	err := fmt.Errorf("bind session: %w", AlreadyBound("bind", "sub-1", "s1"))

	if !Is(err, ErrAlreadyBound) {
		t.Error("expected error to match ErrAlreadyBound")
	}
	if Is(err, ErrNotFound) {
		t.Error("did not expect error to match ErrNotFound")
	}
}

func TestError_Message(t *testing.T) {
	err := Persistence("save store", io.ErrShortWrite)
	want := "save store: durable write failed: short write"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !Is(err, io.ErrShortWrite) {
		t.Error("expected cause to be reachable through Unwrap")
	}

	nf := NotFound("", "session", "abc")
	if nf.Error() != `session "abc" not found` {
		t.Errorf("Error() = %q", nf.Error())
	}
}

func TestCorruption(t *testing.T) {
	err := Corruption("list progress", "sub-1.json", io.ErrUnexpectedEOF)
	if KindOf(err) != KindCorruption {
		t.Errorf("KindOf = %q", KindOf(err))
	}
	if !Is(err, io.ErrUnexpectedEOF) {
		t.Error("cause not preserved")
	}
}
