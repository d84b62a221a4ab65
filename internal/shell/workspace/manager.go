// Package workspace manages the files a deployment owns on its host: the
// generated compose definitions, the nginx configuration, and the host-level
// files the external ingress modes touch. Every write goes through an
// exec.Runner so the same code serves local and SSH deployments.
//
// Writes are idempotent: content is compared before writing, an existing
// file that differs is first copied to <path>.bak, and an unchanged file is
// left alone so callers can use the "changed" result to decide whether a
// restart or reload is needed.
package workspace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/artpar/berth/internal/shell/exec"
)

// Manager reads and writes managed artifacts through a Runner.
type Manager struct {
	runner exec.Runner
	logger *slog.Logger
}

// NewManager creates a workspace manager on top of the given runner.
func NewManager(runner exec.Runner, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		runner: runner,
		logger: logger.With("component", "workspace"),
	}
}

// WriteIfChanged writes data to path unless the file already holds exactly
// that content. It reports whether a write happened. An existing file with
// different content is copied to path+".bak" before being overwritten.
func (m *Manager) WriteIfChanged(ctx context.Context, path string, data []byte, perm fs.FileMode) (bool, error) {
	current, err := m.runner.ReadFile(ctx, path)
	switch {
	case err == nil:
		if bytes.Equal(current, data) {
			m.logger.Debug("file unchanged", "path", path)
			return false, nil
		}
		backup := path + ".bak"
		if err := m.runner.WriteFile(ctx, backup, current, perm); err != nil {
			return false, fmt.Errorf("backing up %s: %w", path, err)
		}
		m.logger.Info("backed up previous file", "path", path, "backup", backup)
	case errors.Is(err, fs.ErrNotExist):
		// First write, nothing to back up.
	default:
		return false, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := m.runner.WriteFile(ctx, path, data, perm); err != nil {
		return false, fmt.Errorf("writing %s: %w", path, err)
	}
	m.logger.Info("wrote file", "path", path, "bytes", len(data))
	return true, nil
}

// EnsureDir creates path and any missing parents.
func (m *Manager) EnsureDir(ctx context.Context, path string) error {
	if _, err := m.runner.Run(ctx, "mkdir", "-p", path); err != nil {
		return fmt.Errorf("creating directory %s: %w", path, err)
	}
	return nil
}

// EnsureSymlink points link at target, replacing whatever link pointed to
// before. Used to enable host nginx sites under sites-enabled.
func (m *Manager) EnsureSymlink(ctx context.Context, target, link string) error {
	if _, err := m.runner.Run(ctx, "ln", "-sfn", target, link); err != nil {
		return fmt.Errorf("linking %s to %s: %w", link, target, err)
	}
	return nil
}
