// Package deployment provides pure functions for deployment planning.
//
// This package contains the functional core logic for transforming parsed
// compose specifications into container execution plans. All functions are
// pure (no I/O, no side effects); the shell executes the plans via the
// Docker API.
//
// # Functions
//
//   - Naming: Generate compose-compatible resource names (NetworkName, VolumeName, ContainerName)
//   - Ordering: Sort services by dependencies (TopologicalSort)
//   - Container: Build container plans from compose services (BuildContainerPlan)
//   - Project: Assemble the full per-project plan (BuildProjectPlan)
//   - Hash: Fingerprint plans for drift detection (PlanHash)
//   - Reconcile: Decide per-container actions against observed state (Decide, StaleContainers)
//   - Ports: Collect the host ports a plan will bind (RequiredPorts)
//
// # Usage
//
// The imperative shell (internal/shell/docker) plans with these functions,
// then executes:
//
//	plan := deployment.BuildProjectPlan("myapp", spec, deployment.RoleApp)
//	for _, c := range plan.Containers {
//	    switch deployment.Decide(c.Labels[deployment.LabelConfigHash], observed[c.Name]) {
//	    ...
//	    }
//	}
package deployment
