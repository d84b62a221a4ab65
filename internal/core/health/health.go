// Package health provides pure functions for judging container health
// after a deployment. The executor polls container state through the shell
// and feeds it here; this package contains NO I/O.
package health

// =============================================================================
// Health Types
// =============================================================================

// Status is the judged health of a container or a whole deployment.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// ContainerState is the observed runtime state of one container, as
// reported by the container runtime.
type ContainerState struct {
	// Name is the container name.
	Name string

	// Status is the runtime state: running, restarting, exited, dead,
	// paused, created.
	Status string

	// Health is the health check result when the container defines one:
	// healthy, unhealthy, starting. Empty means no health check.
	Health string

	// Restarts counts restarts since the container was created.
	Restarts int
}

// =============================================================================
// Health Classification (Pure Functions)
// =============================================================================

// Classify maps one container's state to a health status.
//
// Non-running containers are unhealthy. A failing health check is
// unhealthy; one still starting is degraded, as is a container that
// restarted more than three times. Everything else is healthy.
func Classify(c ContainerState) Status {
	if c.Status != "running" {
		return StatusUnhealthy
	}
	if c.Health == "unhealthy" {
		return StatusUnhealthy
	}
	if c.Restarts > 3 {
		return StatusDegraded
	}
	if c.Health == "starting" {
		return StatusDegraded
	}
	return StatusHealthy
}

// Aggregate determines overall deployment health from container states.
func Aggregate(containers []ContainerState) Status {
	if len(containers) == 0 {
		return StatusUnknown
	}

	unhealthy := 0
	degraded := 0

	for _, c := range containers {
		switch Classify(c) {
		case StatusUnhealthy:
			unhealthy++
		case StatusDegraded, StatusUnknown:
			degraded++
		}
	}

	if unhealthy == len(containers) {
		return StatusUnhealthy
	}
	if unhealthy > 0 || degraded > 0 {
		return StatusDegraded
	}
	return StatusHealthy
}

// Settled reports whether polling can stop: every container has either
// finished starting or already failed. A container whose health check is
// still in its start period keeps the poll loop going; so does one the
// runtime reports as created or restarting.
func Settled(containers []ContainerState) bool {
	for _, c := range containers {
		if c.Health == "starting" {
			return false
		}
		if c.Status == "created" || c.Status == "restarting" {
			return false
		}
	}
	return true
}
