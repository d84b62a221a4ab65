package exec

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	osexec "os/exec"
	"path/filepath"

	"github.com/artpar/berth/internal/core/redact"
)

// =============================================================================
// Local Runner
// =============================================================================

// LocalRunner executes commands on this machine.
type LocalRunner struct {
	logger *slog.Logger
}

// NewLocalRunner creates a runner for the local host.
func NewLocalRunner(logger *slog.Logger) *LocalRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalRunner{logger: logger}
}

// Run executes a command and captures its output. A nonzero exit returns
// both the populated Result and a *CommandError.
func (r *LocalRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmdLine := commandLine(name, args)
	r.logger.Debug("running command", "cmd", redact.Redact(cmdLine))

	cmd := osexec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *osexec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, &CommandError{
				Cmd:      cmdLine,
				ExitCode: result.ExitCode,
				Stderr:   result.Stderr,
			}
		}
		return result, err
	}

	return result, nil
}

// ReadFile reads a file from the local filesystem.
func (r *LocalRunner) ReadFile(_ context.Context, path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFile writes a file on the local filesystem, creating parent
// directories as needed.
func (r *LocalRunner) WriteFile(_ context.Context, path string, data []byte, perm fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, perm)
}
