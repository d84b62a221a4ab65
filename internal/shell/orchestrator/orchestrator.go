// Package orchestrator sequences one deployment run: resolve the source,
// plan ingress, bootstrap the host, converge containers, apply the ingress
// arrangement, and record the run in history. Stages run strictly in that
// order and the first failure stops the run, with one exception: failed
// certificate issuance degrades the result instead of failing it.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/artpar/berth/internal/core/compose"
	"github.com/artpar/berth/internal/core/deploy"
	"github.com/artpar/berth/internal/core/deployment"
	"github.com/artpar/berth/internal/core/health"
	"github.com/artpar/berth/internal/core/ingress"
	"github.com/artpar/berth/internal/core/redact"
	"github.com/artpar/berth/internal/core/retry"
	"github.com/artpar/berth/internal/core/source"
	"github.com/artpar/berth/internal/shell/exec"
	"github.com/artpar/berth/internal/shell/proxy"
	"github.com/artpar/berth/internal/shell/store"
	"github.com/artpar/berth/internal/shell/workspace"
)

var (
	// settleTimeout bounds the post-apply wait for containers to leave
	// their starting states.
	settleTimeout = 2 * time.Minute

	// backoffUnit converts the request's backoff setting into a duration.
	backoffUnit = time.Second
)

// =============================================================================
// Collaborators
// =============================================================================

// Resolver turns a request's source directory into the deployment unit.
type Resolver interface {
	Resolve(req deploy.Request) (*source.ResolvedSource, error)
}

// Bootstrapper prepares the host for the requested deployment.
type Bootstrapper interface {
	Prepare(ctx context.Context, req deploy.Request, plan ingress.Plan) error
}

// Executor converges the container runtime on a project plan.
type Executor interface {
	CheckPorts(ctx context.Context, project string, claims []deployment.PortClaim) error
	Apply(ctx context.Context, plan deployment.ProjectPlan, workDir string) error
	WaitSettled(ctx context.Context, plan deployment.ProjectPlan, timeout time.Duration) ([]health.ContainerState, error)
}

// IngressApplier puts the planned reverse proxy arrangement in place.
type IngressApplier interface {
	Apply(ctx context.Context, req deploy.Request, plan ingress.Plan, appNetworks []string) error
}

// RunRecorder persists run history. Recording failures are logged and never
// fail a deployment.
type RunRecorder interface {
	CreateRun(ctx context.Context, run *store.Run) error
	FinishRun(ctx context.Context, run *store.Run) error
}

// DirResolver resolves sources against the local filesystem.
type DirResolver struct{}

func (DirResolver) Resolve(req deploy.Request) (*source.ResolvedSource, error) {
	info, err := os.Stat(req.SourceDir)
	if err != nil || !info.IsDir() {
		return nil, source.NewSourceError(req.SourceDir, "source directory not found", source.ErrNoSourceFound)
	}
	return source.Resolve(os.DirFS(req.SourceDir), req, os.Environ())
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator runs the deployment pipeline.
type Orchestrator struct {
	resolver Resolver
	host     Bootstrapper
	executor Executor
	applier  IngressApplier
	files    *workspace.Manager
	history  RunRecorder
	logger   *slog.Logger
}

// NewOrchestrator wires the pipeline. history may be nil to disable run
// recording.
func NewOrchestrator(
	resolver Resolver,
	host Bootstrapper,
	executor Executor,
	applier IngressApplier,
	runner exec.Runner,
	history RunRecorder,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		resolver: resolver,
		host:     host,
		executor: executor,
		applier:  applier,
		files:    workspace.NewManager(runner, logger),
		history:  history,
		logger:   logger.With("component", "orchestrator"),
	}
}

// Result is what a finished run reports back to the caller.
type Result struct {
	// RunID is the per-invocation UUID, also the history record's key.
	RunID string

	// Request echoes the deployed request.
	Request deploy.Request

	// Status is the final outcome. StatusDeployedDegraded means everything
	// converged but certificate issuance failed; CertError holds why.
	Status deploy.Status

	// Kind is the concrete source kind after auto-detection.
	Kind deploy.SourceKind

	// Project is the compose project name all resources are keyed under.
	Project string

	// Services lists the deployed compose services.
	Services []string

	// ComposePath is the effective compose definition: the source's own
	// file, or the generated one for Dockerfile sources.
	ComposePath string

	// Generated reports whether ComposePath was synthesized this run.
	Generated bool

	// Paths is the managed artifact layout for the service.
	Paths deploy.ManagedPaths

	// Ingress is the applied ingress plan; zero when the run needs none.
	Ingress ingress.Plan

	// Attempts counts project-apply attempts, including the successful one.
	Attempts int

	// Health aggregates the settled container states in Containers.
	Health     health.Status
	Containers []health.ContainerState

	// CertError is set when certificate issuance failed and the service
	// keeps serving plain HTTP.
	CertError error
}

// Deploy runs the full pipeline for one request and records it in history.
// A degraded outcome (certificate issuance failed) returns a Result with
// StatusDeployedDegraded and a nil error; every other failure returns the
// stage's error.
func (o *Orchestrator) Deploy(ctx context.Context, req deploy.Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	res := &Result{
		RunID:   uuid.NewString(),
		Request: req,
		Project: req.ProjectName(),
		Paths:   req.Paths(),
	}
	logger := o.logger.With("run_id", res.RunID, "service", req.ServiceName)
	logger.Info("starting deployment",
		"source_dir", req.SourceDir,
		"kind", string(req.SourceKind),
		"access", string(req.AccessMode),
		"ingress", string(req.IngressMode))

	record := &store.Run{
		ID:        res.RunID,
		Service:   req.ServiceName,
		Project:   res.Project,
		Kind:      req.SourceKind,
		Access:    req.AccessMode,
		Ingress:   req.IngressMode,
		Status:    deploy.StatusRunning,
		StartedAt: time.Now().UTC(),
	}
	o.recordStart(ctx, logger, record)

	err := o.run(ctx, logger, req, res)
	switch {
	case err != nil:
		res.Status = deploy.StatusFailed
	case res.CertError != nil:
		res.Status = deploy.StatusDeployedDegraded
	default:
		res.Status = deploy.StatusDeployed
	}

	record.Status = res.Status
	if res.Kind != "" {
		record.Kind = res.Kind
	}
	record.Attempts = res.Attempts
	record.Services = res.Services
	record.Routes = res.Ingress.Routes
	switch {
	case err != nil:
		record.Error = redact.Redact(err.Error())
	case res.CertError != nil:
		record.Error = redact.Redact(res.CertError.Error())
	}
	finished := time.Now().UTC()
	record.FinishedAt = &finished
	o.recordFinish(ctx, logger, record)

	if err != nil {
		logger.Error("deployment failed", "error", redact.Redact(err.Error()))
		return nil, err
	}
	logger.Info("deployment finished", "status", string(res.Status), "attempts", res.Attempts)
	return res, nil
}

// run executes the stages in order, filling res as facts become known so a
// failed run still reports what it got through.
func (o *Orchestrator) run(ctx context.Context, logger *slog.Logger, req deploy.Request, res *Result) error {
	logger.Info("resolving source", "dir", req.SourceDir)
	src, err := o.resolver.Resolve(req)
	if err != nil {
		return err
	}
	res.Kind = src.Kind
	res.Services = src.Services
	res.Generated = src.Generated
	if src.Generated {
		res.ComposePath = src.ComposePath
	} else {
		res.ComposePath = filepath.Join(req.SourceDir, src.ComposePath)
	}
	logger.Info("source resolved", "kind", string(src.Kind), "services", strings.Join(src.Services, ","))
	if len(src.MissingVariables) > 0 {
		logger.Warn("compose variables unset, resolving to empty",
			"variables", strings.Join(variableNames(src.MissingVariables), ","))
	}

	// All access validation happens here, before the host is touched.
	plan, err := ingress.BuildPlan(req, src)
	if err != nil {
		return err
	}
	res.Ingress = plan

	logger.Info("bootstrapping host")
	if err := o.host.Prepare(ctx, req, plan); err != nil {
		return err
	}

	appPlan := deployment.BuildProjectPlan(res.Project, src.Spec, deployment.RoleApp)

	claims := append(deployment.RequiredPorts(appPlan.Containers), proxyClaims(plan)...)
	if err := o.executor.CheckPorts(ctx, res.Project, claims); err != nil {
		return err
	}

	if src.Generated {
		if err := o.files.EnsureDir(ctx, res.Paths.ServiceDir); err != nil {
			return fmt.Errorf("creating service directory: %w", err)
		}
		if _, err := o.files.WriteIfChanged(ctx, src.ComposePath, []byte(src.ComposeYAML), 0o644); err != nil {
			return fmt.Errorf("writing generated compose file: %w", err)
		}
	}

	logger.Info("converging containers", "project", res.Project, "containers", len(appPlan.Containers))
	workDir := executionDir(req, src)
	attempts := 0
	err = retry.Do(ctx, retryPolicy(req), applyTransient, func(ctx context.Context) error {
		attempts++
		return o.executor.Apply(ctx, appPlan, workDir)
	})
	res.Attempts = attempts
	if err != nil {
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			return &DeploymentError{TransientExhausted: true, Attempts: exhausted.Attempts, Err: exhausted.Err}
		}
		return &DeploymentError{Attempts: attempts, Err: err}
	}

	states, err := o.executor.WaitSettled(ctx, appPlan, settleTimeout)
	if err != nil {
		return fmt.Errorf("waiting for containers to settle: %w", err)
	}
	res.Containers = states
	res.Health = health.Aggregate(states)
	if res.Health == health.StatusUnhealthy {
		return &DeploymentError{Attempts: attempts, Err: fmt.Errorf("containers failed to stay running: %s", describeStates(states))}
	}
	if res.Health == health.StatusDegraded {
		logger.Warn("containers settled degraded", "containers", describeStates(states))
	}

	if plan.Active() {
		logger.Info("applying ingress", "mode", string(plan.Mode), "routes", len(plan.Routes))
		if err := o.applier.Apply(ctx, req, plan, networkNames(appPlan)); err != nil {
			var certErr *proxy.CertIssuanceError
			if errors.As(err, &certErr) {
				logger.Warn("certificate issuance failed, service stays on plain http",
					"domain", certErr.Domain, "error", redact.Redact(certErr.Error()))
				res.CertError = certErr
				return nil
			}
			return err
		}
	}

	return nil
}

// =============================================================================
// Stage Helpers
// =============================================================================

// applyTransient decides whether a failed project apply is worth another
// try. An ExhaustedError means the executor already spent the retry budget
// on a registry operation, so retrying here would square the budget.
func applyTransient(err error) bool {
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return false
	}
	return retry.IsTransient(err)
}

func retryPolicy(req deploy.Request) retry.Policy {
	return retry.Policy{
		Retries: req.RegistryRetries,
		Backoff: time.Duration(req.RetryBackoffSeconds) * backoffUnit,
	}
}

// executionDir is the directory relative paths in the effective compose
// definition resolve against: the source directory for compose sources, the
// managed service directory for generated definitions.
func executionDir(req deploy.Request, src *source.ResolvedSource) string {
	if src.Generated {
		return filepath.Dir(src.ComposePath)
	}
	return req.SourceDir
}

// proxyClaims lists the host ports the managed proxy will bind. The host
// nginx modes reuse listeners the host nginx already owns and claim nothing.
func proxyClaims(plan ingress.Plan) []deployment.PortClaim {
	if plan.Mode != ingress.ModeManaged {
		return nil
	}
	claims := []deployment.PortClaim{{HostIP: plan.BindHost, Port: int(plan.HTTPPort), Protocol: "tcp"}}
	if plan.TLS {
		claims = append(claims, deployment.PortClaim{HostIP: plan.BindHost, Port: int(plan.HTTPSPort), Protocol: "tcp"})
	}
	return claims
}

// networkNames lists the application project's networks for the managed
// proxy to join.
func networkNames(plan deployment.ProjectPlan) []string {
	names := make([]string, 0, len(plan.Networks))
	for _, n := range plan.Networks {
		names = append(names, n.Name)
	}
	return names
}

func variableNames(vars []compose.Variable) []string {
	names := make([]string, 0, len(vars))
	for _, v := range vars {
		names = append(names, v.Name)
	}
	return names
}

func describeStates(states []health.ContainerState) string {
	parts := make([]string, 0, len(states))
	for _, s := range states {
		status := s.Status
		if s.Health != "" {
			status += "/" + s.Health
		}
		parts = append(parts, s.Name+"="+status)
	}
	return strings.Join(parts, " ")
}

// =============================================================================
// Run Recording
// =============================================================================

// Recording must never break the deployment flow; failures are warnings.

func (o *Orchestrator) recordStart(ctx context.Context, logger *slog.Logger, run *store.Run) {
	if o.history == nil {
		return
	}
	if err := o.history.CreateRun(ctx, run); err != nil {
		logger.Warn("recording run start failed", "error", err)
	}
}

func (o *Orchestrator) recordFinish(ctx context.Context, logger *slog.Logger, run *store.Run) {
	if o.history == nil {
		return
	}
	// A canceled deploy still gets its outcome written.
	if err := o.history.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		logger.Warn("recording run outcome failed", "error", err)
	}
}
