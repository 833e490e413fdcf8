// Package exec provides an interface for running external commands, so the
// capability adapters can be exercised in tests without a shell.
package exec

import (
	"context"
)

// ShellRequest is one command line to run through "sh -c".
type ShellRequest struct {
	// Command is the shell command line.
	Command string
	// Dir is the working directory. Empty means the current directory.
	Dir string
	// Env is added to the inherited environment.
	Env map[string]string
	// Stdin is written to the command's standard input.
	Stdin []byte
}

// CommandRunner defines the interface for running external commands.
type CommandRunner interface {
	// RunShell runs req and returns its standard output. A non-zero exit
	// status is an error that includes the command's standard error.
	RunShell(ctx context.Context, req ShellRequest) (stdout []byte, err error)
}
