package deployment

import (
	"fmt"
	"time"

	"github.com/artpar/berth/internal/core/compose"
)

// =============================================================================
// Container Plan Building Functions
// =============================================================================

// BuildContainerPlan builds a ContainerPlan from a compose service and project
// parameters.
//
// This is a pure function that transforms compose service definitions into a
// container plan that the shell can execute via Docker API.
//
// The function:
//   - Generates the container name using ContainerName(), honoring a
//     container_name override from the compose file
//   - Copies image, command, entrypoint, and environment from the service
//   - Turns a build section into an ImageBuildPlan, tagging untagged builds
//     as <project>_<service>:local
//   - Prefixes named volumes with the project name
//   - Maps service networks against the declared networks, defaulting to the
//     project network
//   - Parses health check durations
//   - Stamps com.berth.* labels on top of the service's own labels
//
// Example:
//
//	params := BuildContainerPlanParams{
//	    Project: "myapp",
//	    Service: compose.Service{Name: "web", Image: "nginx:latest"},
//	    Role:    RoleApp,
//	}
//	plan := BuildContainerPlan(params)
//	// plan.Name == "myapp_web"
func BuildContainerPlan(params BuildContainerPlanParams) ContainerPlan {
	svc := params.Service

	plan := ContainerPlan{
		Name:       ContainerName(params.Project, svc.Name, svc.ContainerName),
		Service:    svc.Name,
		Image:      svc.Image,
		Command:    svc.Command,
		Entrypoint: svc.Entrypoint,
		Env:        make(map[string]string),
		Labels:     make(map[string]string),
		Networks:   planNetworks(params.Project, svc.Networks, params.Networks),
	}

	// Build section. Untagged builds get a local tag so the created
	// container references the image we just built.
	if svc.Build != nil {
		dockerfile := svc.Build.Dockerfile
		if dockerfile == "" {
			dockerfile = "Dockerfile"
		}
		tag := svc.Image
		if tag == "" {
			tag = fmt.Sprintf("%s_%s:local", params.Project, svc.Name)
		}
		plan.Build = &ImageBuildPlan{
			Context:    svc.Build.Context,
			Dockerfile: dockerfile,
			Tag:        tag,
		}
		plan.Image = tag
	}

	// Environment is copied as-is: interpolation already happened at parse
	// time, and runtime values belong to the container, not the planner.
	for k, v := range svc.Environment {
		plan.Env[k] = v
	}

	// Port bindings
	for _, p := range svc.Ports {
		protocol := p.Protocol
		if protocol == "" {
			protocol = "tcp"
		}
		plan.Ports = append(plan.Ports, PortPlan{
			ContainerPort: int(p.Target),
			HostPort:      int(p.Published),
			Protocol:      protocol,
			HostIP:        p.HostIP,
		})
	}

	// Volume mounts. Named volumes get the project prefix; bind and tmpfs
	// mounts pass through.
	for _, v := range svc.Volumes {
		mount := VolumePlan{
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		}
		switch v.Type {
		case compose.VolumeMountTypeVolume:
			mount.Source = VolumeName(params.Project, v.Source)
		case compose.VolumeMountTypeBind:
			mount.Bind = true
		case compose.VolumeMountTypeTmpfs:
			mount.Source = ""
			mount.Tmpfs = true
		}
		plan.Volumes = append(plan.Volumes, mount)
	}

	// Health check
	if svc.HealthCheck != nil {
		plan.HealthCheck = &HealthCheckPlan{
			Test:    svc.HealthCheck.Test,
			Retries: svc.HealthCheck.Retries,
		}
		if svc.HealthCheck.Interval != "" {
			if d, err := time.ParseDuration(svc.HealthCheck.Interval); err == nil {
				plan.HealthCheck.Interval = d
			}
		}
		if svc.HealthCheck.Timeout != "" {
			if d, err := time.ParseDuration(svc.HealthCheck.Timeout); err == nil {
				plan.HealthCheck.Timeout = d
			}
		}
		if svc.HealthCheck.StartPeriod != "" {
			if d, err := time.ParseDuration(svc.HealthCheck.StartPeriod); err == nil {
				plan.HealthCheck.StartPeriod = d
			}
		}
	}

	// Resource limits
	if svc.Resources.CPULimit > 0 {
		plan.Resources.CPULimit = svc.Resources.CPULimit
	}
	if svc.Resources.MemoryLimit > 0 {
		plan.Resources.MemoryLimit = svc.Resources.MemoryLimit
	}

	// Restart policy
	plan.RestartPolicy = mapRestartPolicy(svc.Restart)

	// Labels: service labels first, then the managed labels on top so user
	// labels can never shadow the keys reconciliation depends on.
	for k, v := range svc.Labels {
		plan.Labels[k] = v
	}
	plan.Labels[LabelManaged] = "true"
	plan.Labels[LabelProject] = params.Project
	plan.Labels[LabelService] = svc.Name
	plan.Labels[LabelRole] = params.Role

	return plan
}

// planNetworks maps a service's network keys to concrete network names.
// Services without an explicit networks list join the project network.
// External networks keep their name verbatim; everything else is scoped to
// the project the way docker compose scopes it.
func planNetworks(project string, keys []string, declared []compose.Network) []string {
	if len(keys) == 0 {
		return []string{NetworkName(project)}
	}

	external := make(map[string]bool, len(declared))
	for _, n := range declared {
		if n.External {
			external[n.Name] = true
		}
	}

	names := make([]string, 0, len(keys))
	for _, key := range keys {
		if external[key] {
			names = append(names, key)
			continue
		}
		names = append(names, ScopedNetworkName(project, key))
	}
	return names
}

// mapRestartPolicy maps compose restart policy to Docker restart policy name.
func mapRestartPolicy(policy compose.RestartPolicy) RestartPolicyPlan {
	switch policy {
	case compose.RestartAlways:
		return RestartPolicyPlan{Name: "always"}
	case compose.RestartOnFailure:
		return RestartPolicyPlan{Name: "on-failure"}
	case compose.RestartUnlessStopped:
		return RestartPolicyPlan{Name: "unless-stopped"}
	default:
		return RestartPolicyPlan{Name: "no"}
	}
}
