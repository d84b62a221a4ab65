package deployment

import (
	"github.com/artpar/berth/internal/core/compose"
)

// =============================================================================
// Project Plan Assembly
// =============================================================================

// BuildProjectPlan assembles the complete execution plan for one compose
// project: the networks and named volumes to ensure, and the containers in
// dependency order, each stamped with its config hash.
//
// The default <project>_default network is planned only when at least one
// service relies on it. External networks and volumes appear in the plan
// with their names untouched so the shell can verify they exist without
// ever creating or removing them.
//
// Example:
//
//	spec, _ := compose.ParseComposeSpec(yaml)
//	plan := BuildProjectPlan("myapp", spec, RoleApp)
//	for _, c := range plan.Containers {
//	    // c.Labels[LabelConfigHash] is set
//	}
func BuildProjectPlan(project string, spec *compose.ParsedSpec, role string) ProjectPlan {
	plan := ProjectPlan{
		Project: project,
		Role:    role,
	}

	needsDefault := false
	for _, svc := range spec.Services {
		if len(svc.Networks) == 0 {
			needsDefault = true
			break
		}
	}
	if needsDefault {
		plan.Networks = append(plan.Networks, NetworkPlan{
			Name:   NetworkName(project),
			Driver: "bridge",
			Labels: resourceLabels(project, nil),
		})
	}

	for _, n := range spec.Networks {
		if n.External {
			plan.Networks = append(plan.Networks, NetworkPlan{
				Name:     n.Name,
				External: true,
			})
			continue
		}
		driver := n.Driver
		if driver == "" {
			driver = "bridge"
		}
		plan.Networks = append(plan.Networks, NetworkPlan{
			Name:   ScopedNetworkName(project, n.Name),
			Driver: driver,
			Labels: resourceLabels(project, n.Labels),
		})
	}

	for _, v := range spec.Volumes {
		if v.External {
			plan.Volumes = append(plan.Volumes, NamedVolumePlan{
				Name:     v.Name,
				External: true,
			})
			continue
		}
		plan.Volumes = append(plan.Volumes, NamedVolumePlan{
			Name:   VolumeName(project, v.Name),
			Driver: v.Driver,
			Labels: resourceLabels(project, v.Labels),
		})
	}

	for _, svc := range TopologicalSort(spec.Services) {
		c := BuildContainerPlan(BuildContainerPlanParams{
			Project:  project,
			Service:  svc,
			Networks: spec.Networks,
			Role:     role,
		})
		c.Labels[LabelConfigHash] = PlanHash(c)
		plan.Containers = append(plan.Containers, c)
	}

	return plan
}

// resourceLabels merges user labels with the managed markers, managed keys
// winning.
func resourceLabels(project string, user map[string]string) map[string]string {
	labels := make(map[string]string, len(user)+2)
	for k, v := range user {
		labels[k] = v
	}
	labels[LabelManaged] = "true"
	labels[LabelProject] = project
	return labels
}
