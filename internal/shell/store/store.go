package store

import (
	"context"
	"time"

	"github.com/artpar/berth/internal/core/deploy"
)

// =============================================================================
// Run Record
// =============================================================================

// Run is one deployment invocation as recorded in history. A run is created
// with StatusRunning when the pipeline starts and finished exactly once with
// its terminal status.
type Run struct {
	// ID is the per-invocation UUID threaded through logs.
	ID string

	// Service and Project identify what was deployed. Project is the
	// normalized compose project name derived from Service.
	Service string
	Project string

	// Kind, Access, and Ingress record the request shape. Kind starts as
	// the requested kind and is concretized after source resolution.
	Kind    deploy.SourceKind
	Access  deploy.AccessMode
	Ingress deploy.IngressMode

	// Status is StatusRunning until FinishRun records the outcome.
	Status deploy.Status

	// Attempts counts project-apply attempts, including the successful
	// one. Zero until the execution stage runs.
	Attempts int

	// Services lists the compose services the run deployed. Empty until
	// source resolution.
	Services []string

	// Routes lists the ingress routes that were configured, if any.
	Routes []deploy.Route

	// Error holds the failure message for failed or degraded runs.
	Error string

	StartedAt  time.Time
	FinishedAt *time.Time
}

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for run history.
type Store interface {
	// CreateRun inserts a new run in StatusRunning.
	CreateRun(ctx context.Context, run *Run) error

	// FinishRun records the outcome of an existing run: status, the
	// concrete kind, attempts, deployed services, routes, error message,
	// and finish time.
	FinishRun(ctx context.Context, run *Run) error

	// ListRuns returns runs ordered most recent first.
	ListRuns(ctx context.Context, opts ListOptions) ([]Run, error)

	// ListRunsByService returns runs for one service, most recent first.
	ListRunsByService(ctx context.Context, service string, opts ListOptions) ([]Run, error)

	// Lifecycle
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination options.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  100,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
