package deployment

import (
	"time"

	"github.com/artpar/berth/internal/core/compose"
)

// =============================================================================
// Container Plan Types
// =============================================================================

// ContainerPlan represents a planned container configuration.
// This is the pure output of planning, ready for the shell to execute.
type ContainerPlan struct {
	Name          string
	Service       string
	Image         string
	Build         *ImageBuildPlan
	Command       []string
	Entrypoint    []string
	Env           map[string]string
	Labels        map[string]string
	Ports         []PortPlan
	Volumes       []VolumePlan
	Networks      []string
	RestartPolicy RestartPolicyPlan
	Resources     ResourcePlan
	HealthCheck   *HealthCheckPlan
}

// ImageBuildPlan tells the shell to build the image before creating the
// container. Context is the build directory as written in the compose file;
// relative paths resolve against the compose file's directory.
type ImageBuildPlan struct {
	Context    string
	Dockerfile string
	Tag        string
}

// PortPlan represents a planned port binding.
type PortPlan struct {
	ContainerPort int
	HostPort      int
	Protocol      string
	HostIP        string
}

// VolumePlan represents a planned volume mount. For bind mounts, relative
// sources resolve against the compose file's directory in the shell. Tmpfs
// mounts have no source.
type VolumePlan struct {
	Source   string
	Target   string
	Bind     bool
	Tmpfs    bool
	ReadOnly bool
}

// RestartPolicyPlan represents a restart policy.
type RestartPolicyPlan struct {
	Name              string
	MaximumRetryCount int
}

// ResourcePlan represents resource limits.
type ResourcePlan struct {
	CPULimit    float64
	MemoryLimit int64
}

// HealthCheckPlan represents a health check configuration.
type HealthCheckPlan struct {
	Test        []string
	Interval    time.Duration
	Timeout     time.Duration
	Retries     int
	StartPeriod time.Duration
}

// =============================================================================
// Project Plan Types
// =============================================================================

// NetworkPlan represents a network the project needs. External networks are
// never created or removed, only verified.
type NetworkPlan struct {
	Name     string
	Driver   string
	External bool
	Labels   map[string]string
}

// NamedVolumePlan represents a named volume the project needs.
type NamedVolumePlan struct {
	Name     string
	Driver   string
	External bool
	Labels   map[string]string
}

// ProjectPlan is the complete execution plan for one compose project:
// networks, volumes, and containers in dependency order.
type ProjectPlan struct {
	Project    string
	Role       string
	Networks   []NetworkPlan
	Volumes    []NamedVolumePlan
	Containers []ContainerPlan
}

// =============================================================================
// Builder Parameter Types
// =============================================================================

// BuildContainerPlanParams contains all inputs for building a container plan.
type BuildContainerPlanParams struct {
	Project  string
	Service  compose.Service
	Networks []compose.Network
	Role     string
}

// =============================================================================
// Container Labels
// =============================================================================

// Label keys stamped on every managed resource. The config hash label
// carries PlanHash of the container's plan so later runs can detect drift.
const (
	LabelManaged    = "com.berth.managed"
	LabelProject    = "com.berth.project"
	LabelService    = "com.berth.service"
	LabelRole       = "com.berth.role"
	LabelConfigHash = "com.berth.config-hash"
)

// Container roles distinguish the application's containers from the managed
// proxy's, so reconciliation never prunes across the boundary.
const (
	RoleApp   = "app"
	RoleProxy = "proxy"
)
