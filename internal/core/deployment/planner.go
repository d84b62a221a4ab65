package deployment

// =============================================================================
// Container Reconciliation Planning
// =============================================================================

// Action is what the shell must do to converge one container on its plan.
type Action string

const (
	// ActionCreate creates and starts a container that does not exist.
	ActionCreate Action = "create"

	// ActionRecreate removes the existing container and creates it again
	// because its recorded config hash no longer matches the plan.
	ActionRecreate Action = "recreate"

	// ActionStart starts an existing, up-to-date container that is stopped.
	ActionStart Action = "start"

	// ActionNone leaves a running, up-to-date container alone.
	ActionNone Action = "none"
)

// ObservedContainer is what the shell found on the host for one planned
// container name. ConfigHash is the LabelConfigHash value recorded on the
// container at creation time; empty means the container predates this tool
// or was created by something else.
type ObservedContainer struct {
	Exists     bool
	Running    bool
	ConfigHash string
}

// Decide returns the action that converges one container on its plan.
//
// This is a pure function: the shell inspects the host, and the decision
// table lives here where it can be tested without Docker.
//
// Decision order:
//   - missing container: create
//   - config hash mismatch (including no hash at all): recreate
//   - stopped but up to date: start
//   - running and up to date: none
//
// Example:
//
//	obs := observed[plan.Name]
//	switch Decide(plan.Labels[LabelConfigHash], obs) {
//	case ActionCreate:
//	    ...
//	}
func Decide(desiredHash string, obs ObservedContainer) Action {
	if !obs.Exists {
		return ActionCreate
	}
	if obs.ConfigHash != desiredHash {
		return ActionRecreate
	}
	if !obs.Running {
		return ActionStart
	}
	return ActionNone
}

// StaleContainers returns the names of existing containers that no plan
// wants anymore. The caller passes only containers already matched to this
// project and role by label, so everything returned is safe to remove.
//
// Order of the input is preserved.
func StaleContainers(existing []string, desired []ContainerPlan) []string {
	wanted := make(map[string]bool, len(desired))
	for _, plan := range desired {
		wanted[plan.Name] = true
	}

	var stale []string
	for _, name := range existing {
		if !wanted[name] {
			stale = append(stale, name)
		}
	}
	return stale
}
