// Package exec runs host commands on the deployment target, either locally
// or over SSH. Everything the bootstrap and proxy phases do to a host goes
// through the Runner interface so the rest of the shell never cares where
// the host is.
package exec

import (
	"context"
	"fmt"
	"io/fs"
	"strings"
)

// =============================================================================
// Runner Interface
// =============================================================================

// Result holds the output of one command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes commands and transfers files on the deployment host.
//
// ReadFile returns an error satisfying errors.Is(err, fs.ErrNotExist) when
// the file is absent, so callers can treat "no config yet" uniformly across
// local and remote hosts. WriteFile creates parent directories as needed.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte, perm fs.FileMode) error
}

// =============================================================================
// Errors
// =============================================================================

// CommandError reports a command that ran but exited nonzero.
type CommandError struct {
	Cmd      string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q exited with status %d", e.Cmd, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// commandLine renders a command for logs and error messages.
func commandLine(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}
