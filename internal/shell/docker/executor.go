package docker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/artpar/berth/internal/core/deployment"
	"github.com/artpar/berth/internal/core/health"
	"github.com/artpar/berth/internal/core/retry"
)

// =============================================================================
// Project Executor
// =============================================================================

// stopTimeout is how long a container gets to exit cleanly before removal.
var stopTimeout = 10 * time.Second

// Executor converges the container runtime on a project plan: networks and
// volumes ensured, images pulled or built under the retry policy, containers
// reconciled against their recorded config hashes, and leftovers from
// earlier plans pruned.
type Executor struct {
	client Client
	logger *slog.Logger
	policy retry.Policy
	poll   time.Duration
}

// NewExecutor creates an executor. The policy bounds every registry-facing
// operation (pulls and builds); everything else talks to the local daemon
// and fails fast.
func NewExecutor(client Client, logger *slog.Logger, policy retry.Policy) *Executor {
	return &Executor{
		client: client,
		logger: logger.With("component", "executor"),
		policy: policy,
		poll:   time.Second,
	}
}

// observation pairs what deployment.Decide needs with the container ID the
// runtime wants for stop and remove calls.
type observation struct {
	ID string
	deployment.ObservedContainer
}

// Apply converges the host on the plan. workDir is the directory of the
// compose file the plan came from; relative bind mounts and build contexts
// resolve against it.
//
// Order matters: stale containers go first so their names and host ports
// are free before anything is created, then each planned container is
// created, recreated, started, or left alone per its config hash.
func (e *Executor) Apply(ctx context.Context, plan deployment.ProjectPlan, workDir string) error {
	e.logger.Info("applying project plan",
		"project", plan.Project,
		"role", plan.Role,
		"containers", len(plan.Containers))

	if err := e.ensureNetworks(ctx, plan.Networks); err != nil {
		return err
	}
	if err := e.ensureVolumes(ctx, plan.Volumes); err != nil {
		return err
	}
	if err := e.ensureImages(ctx, plan.Containers, workDir); err != nil {
		return err
	}

	observed, err := e.observe(ctx, plan.Project, plan.Role)
	if err != nil {
		return err
	}

	if err := e.prune(ctx, observed, plan.Containers); err != nil {
		return err
	}

	for _, c := range plan.Containers {
		if err := e.converge(ctx, c, workDir, observed[c.Name]); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Networks and Volumes
// =============================================================================

func (e *Executor) ensureNetworks(ctx context.Context, plans []deployment.NetworkPlan) error {
	for _, n := range plans {
		exists, err := e.client.NetworkExists(ctx, n.Name)
		if err != nil {
			return err
		}
		if n.External {
			if !exists {
				return NewDockerError("Apply", "network", n.Name,
					"external network does not exist", ErrNetworkNotFound)
			}
			continue
		}
		if exists {
			continue
		}
		e.logger.Info("creating network", "network", n.Name)
		if _, err := e.client.CreateNetwork(ctx, NetworkSpec{
			Name:   n.Name,
			Driver: n.Driver,
			Labels: n.Labels,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) ensureVolumes(ctx context.Context, plans []deployment.NamedVolumePlan) error {
	for _, v := range plans {
		exists, err := e.client.VolumeExists(ctx, v.Name)
		if err != nil {
			return err
		}
		if v.External {
			if !exists {
				return NewDockerError("Apply", "volume", v.Name,
					"external volume does not exist", ErrVolumeNotFound)
			}
			continue
		}
		if exists {
			continue
		}
		e.logger.Info("creating volume", "volume", v.Name)
		if _, err := e.client.CreateVolume(ctx, VolumeSpec{
			Name:   v.Name,
			Driver: v.Driver,
			Labels: v.Labels,
		}); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Images
// =============================================================================

// ensureImages gets every planned image onto the host: build plans run a
// local build, everything else pulls if missing. Both go through the retry
// policy since both can lose a registry connection mid-transfer.
func (e *Executor) ensureImages(ctx context.Context, plans []deployment.ContainerPlan, workDir string) error {
	built := make(map[string]bool)

	for _, plan := range plans {
		if plan.Build != nil {
			if built[plan.Image] {
				continue
			}
			if err := e.buildImage(ctx, *plan.Build, workDir); err != nil {
				return err
			}
			built[plan.Image] = true
			continue
		}
		if err := e.ensurePulled(ctx, plan.Image); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) buildImage(ctx context.Context, plan deployment.ImageBuildPlan, workDir string) error {
	contextDir := resolvePath(workDir, plan.Context)
	e.logger.Info("building image", "image", plan.Tag, "context", contextDir)

	return retry.Do(ctx, e.policy, retry.IsTransient, func(ctx context.Context) error {
		return e.client.BuildImage(ctx, BuildSpec{
			ContextDir: contextDir,
			Dockerfile: plan.Dockerfile,
			Tag:        plan.Tag,
		})
	})
}

func (e *Executor) ensurePulled(ctx context.Context, ref string) error {
	exists, err := e.client.ImageExists(ctx, ref)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	e.logger.Info("pulling image", "image", ref)
	return retry.Do(ctx, e.policy, retry.IsTransient, func(ctx context.Context) error {
		return e.client.PullImage(ctx, ref)
	})
}

// PullIfMissing pulls each image that is not already on the host, under the
// retry policy. Bootstrap uses it to surface registry problems before any
// deployment state has changed.
func (e *Executor) PullIfMissing(ctx context.Context, refs ...string) error {
	for _, ref := range refs {
		if err := e.ensurePulled(ctx, ref); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Container Reconciliation
// =============================================================================

// observe lists what the runtime currently holds for this project and role.
func (e *Executor) observe(ctx context.Context, project, role string) (map[string]observation, error) {
	infos, err := e.ProjectContainers(ctx, project, role)
	if err != nil {
		return nil, err
	}

	out := make(map[string]observation, len(infos))
	for _, info := range infos {
		out[info.Name] = observation{
			ID: info.ID,
			ObservedContainer: deployment.ObservedContainer{
				Exists:     true,
				Running:    info.State == "running",
				ConfigHash: info.Labels[deployment.LabelConfigHash],
			},
		}
	}
	return out, nil
}

// ProjectContainers lists every container, running or not, that this tool
// created for the given project and role.
func (e *Executor) ProjectContainers(ctx context.Context, project, role string) ([]ContainerInfo, error) {
	return e.client.ListContainers(ctx, ListOptions{
		All: true,
		Labels: map[string]string{
			deployment.LabelManaged: "true",
			deployment.LabelProject: project,
			deployment.LabelRole:    role,
		},
	})
}

// prune removes containers the current plan no longer wants. Only containers
// already matched to this project and role by label ever reach here, so
// nothing outside the isolation scope can be touched.
func (e *Executor) prune(ctx context.Context, observed map[string]observation, desired []deployment.ContainerPlan) error {
	names := make([]string, 0, len(observed))
	for name := range observed {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range deployment.StaleContainers(names, desired) {
		e.logger.Info("removing stale container", "container", name)
		if err := e.removeContainer(ctx, observed[name]); err != nil {
			return err
		}
		delete(observed, name)
	}
	return nil
}

// converge performs the action deployment.Decide picked for one container.
func (e *Executor) converge(ctx context.Context, plan deployment.ContainerPlan, workDir string, obs observation) error {
	switch deployment.Decide(plan.Labels[deployment.LabelConfigHash], obs.ObservedContainer) {
	case deployment.ActionNone:
		e.logger.Debug("container up to date", "container", plan.Name)
		return nil

	case deployment.ActionStart:
		e.logger.Info("starting container", "container", plan.Name)
		return e.client.StartContainer(ctx, obs.ID)

	case deployment.ActionRecreate:
		e.logger.Info("recreating container", "container", plan.Name)
		if err := e.removeContainer(ctx, obs); err != nil {
			return err
		}

	default:
		e.logger.Info("creating container", "container", plan.Name)
	}

	id, err := e.client.CreateContainer(ctx, containerSpec(plan, workDir))
	if err != nil {
		return err
	}
	return e.client.StartContainer(ctx, id)
}

// removeContainer stops a running container first so it can shut down
// cleanly, then removes it.
func (e *Executor) removeContainer(ctx context.Context, obs observation) error {
	if obs.Running {
		timeout := stopTimeout
		if err := e.client.StopContainer(ctx, obs.ID, &timeout); err != nil {
			return err
		}
	}
	err := e.client.RemoveContainer(ctx, obs.ID, RemoveOptions{RemoveVolumes: false})
	if err != nil && errors.Is(err, ErrContainerNotFound) {
		return nil
	}
	return err
}

// containerSpec maps a plan onto the runtime spec. The service name becomes
// a DNS alias on every attached network, which is what lets one container
// reach another by its compose service name.
func containerSpec(plan deployment.ContainerPlan, workDir string) ContainerSpec {
	spec := ContainerSpec{
		Name:       plan.Name,
		Image:      plan.Image,
		Command:    plan.Command,
		Entrypoint: plan.Entrypoint,
		Env:        plan.Env,
		Labels:     plan.Labels,
		Networks:   plan.Networks,
		RestartPolicy: RestartPolicy{
			Name:              plan.RestartPolicy.Name,
			MaximumRetryCount: plan.RestartPolicy.MaximumRetryCount,
		},
		Resources: ResourceLimits{
			CPULimit:    plan.Resources.CPULimit,
			MemoryLimit: plan.Resources.MemoryLimit,
		},
	}

	if len(plan.Networks) > 0 && plan.Service != "" {
		spec.NetworkAliases = make(map[string][]string, len(plan.Networks))
		for _, n := range plan.Networks {
			spec.NetworkAliases[n] = []string{plan.Service}
		}
	}

	for _, p := range plan.Ports {
		spec.Ports = append(spec.Ports, PortBinding{
			ContainerPort: p.ContainerPort,
			HostPort:      p.HostPort,
			Protocol:      p.Protocol,
			HostIP:        p.HostIP,
		})
	}

	for _, v := range plan.Volumes {
		m := Mount{
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		}
		switch {
		case v.Bind:
			m.Type = MountBind
			m.Source = resolvePath(workDir, v.Source)
		case v.Tmpfs:
			m.Type = MountTmpfs
			m.Source = ""
		default:
			m.Type = MountVolume
		}
		spec.Mounts = append(spec.Mounts, m)
	}

	if plan.HealthCheck != nil {
		spec.HealthCheck = &HealthCheck{
			Test:        plan.HealthCheck.Test,
			Interval:    plan.HealthCheck.Interval,
			Timeout:     plan.HealthCheck.Timeout,
			Retries:     plan.HealthCheck.Retries,
			StartPeriod: plan.HealthCheck.StartPeriod,
		}
	}

	return spec
}

// resolvePath anchors a relative compose path to the compose file's
// directory.
func resolvePath(workDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workDir, path)
}

// =============================================================================
// Health Settling
// =============================================================================

// WaitSettled polls the planned containers until each has either finished
// starting or already failed, then returns the final states for the caller
// to judge. Hitting the timeout is not an error; the states seen last are
// returned and scored as they are.
func (e *Executor) WaitSettled(ctx context.Context, plan deployment.ProjectPlan, timeout time.Duration) ([]health.ContainerState, error) {
	deadline := time.Now().Add(timeout)

	for {
		states, err := e.States(ctx, plan)
		if err != nil {
			return nil, err
		}
		if health.Settled(states) || time.Now().After(deadline) {
			return states, nil
		}

		select {
		case <-ctx.Done():
			return states, ctx.Err()
		case <-time.After(e.poll):
		}
	}
}

// States inspects each planned container and maps it to a health state.
// A container missing from the runtime counts as not running rather than
// failing the whole poll.
func (e *Executor) States(ctx context.Context, plan deployment.ProjectPlan) ([]health.ContainerState, error) {
	states := make([]health.ContainerState, 0, len(plan.Containers))
	for _, c := range plan.Containers {
		info, err := e.client.InspectContainer(ctx, c.Name)
		if err != nil {
			if errors.Is(err, ErrContainerNotFound) {
				states = append(states, health.ContainerState{Name: c.Name, Status: "missing"})
				continue
			}
			return nil, err
		}
		states = append(states, health.ContainerState{
			Name:     c.Name,
			Status:   info.State,
			Health:   info.Health,
			Restarts: info.Restarts,
		})
	}
	return states, nil
}

// =============================================================================
// Port Conflict Checks
// =============================================================================

// CheckPorts fails when a running container outside this project already
// binds a host port the plan needs. The project's own bindings pass, so an
// unchanged re-run stays idempotent instead of tripping over itself.
func (e *Executor) CheckPorts(ctx context.Context, project string, claims []deployment.PortClaim) error {
	if len(claims) == 0 {
		return nil
	}

	infos, err := e.client.ListContainers(ctx, ListOptions{})
	if err != nil {
		return err
	}

	for _, info := range infos {
		if info.Labels[deployment.LabelProject] == project {
			continue
		}
		for _, b := range info.Ports {
			if b.HostPort == 0 {
				continue
			}
			proto := b.Protocol
			if proto == "" {
				proto = "tcp"
			}
			for _, claim := range claims {
				if claim.Port != b.HostPort || claim.Protocol != proto {
					continue
				}
				if !hostIPOverlap(claim.HostIP, b.HostIP) {
					continue
				}
				return NewDockerError("CheckPorts", "container", info.Name,
					fmt.Sprintf("%s is already bound", claim), ErrPortAllocated)
			}
		}
	}
	return nil
}

// hostIPOverlap reports whether two bind addresses can collide. The
// wildcard address collides with everything.
func hostIPOverlap(a, b string) bool {
	if a == "" || a == "0.0.0.0" || b == "" || b == "0.0.0.0" {
		return true
	}
	return a == b
}

// =============================================================================
// One-off Containers
// =============================================================================

// OneOffSpec describes a container run to completion, like a certificate
// issuance.
type OneOffSpec struct {
	Name     string
	Image    string
	Command  []string
	Mounts   []Mount
	Networks []string
	Labels   map[string]string
}

// OneOffResult is the outcome of a one-off run.
type OneOffResult struct {
	ExitCode int64
	Output   string
}

// RunOneOff runs a container to completion and returns its exit code and
// combined output. The container is removed afterwards regardless of how
// the run went; a leftover with the same name from an interrupted earlier
// run is cleared first.
func (e *Executor) RunOneOff(ctx context.Context, spec OneOffSpec) (OneOffResult, error) {
	if err := e.ensurePulled(ctx, spec.Image); err != nil {
		return OneOffResult{}, err
	}

	if info, err := e.client.InspectContainer(ctx, spec.Name); err == nil {
		_ = e.client.RemoveContainer(ctx, info.ID, RemoveOptions{Force: true})
	}

	e.logger.Info("running one-off container", "container", spec.Name, "image", spec.Image)

	id, err := e.client.CreateContainer(ctx, ContainerSpec{
		Name:     spec.Name,
		Image:    spec.Image,
		Command:  spec.Command,
		Mounts:   spec.Mounts,
		Networks: spec.Networks,
		Labels:   spec.Labels,
	})
	if err != nil {
		return OneOffResult{}, err
	}
	defer func() {
		_ = e.client.RemoveContainer(context.WithoutCancel(ctx), id, RemoveOptions{Force: true})
	}()

	if err := e.client.StartContainer(ctx, id); err != nil {
		return OneOffResult{}, err
	}

	code, err := e.client.WaitContainer(ctx, id)
	if err != nil {
		return OneOffResult{}, err
	}

	output, err := e.client.ContainerLogs(ctx, id, LogOptions{Tail: "all"})
	if err != nil {
		e.logger.Debug("one-off logs unavailable", "container", spec.Name, "error", err)
		output = ""
	}

	return OneOffResult{ExitCode: code, Output: output}, nil
}
