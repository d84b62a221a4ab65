package deployment

import (
	"github.com/artpar/berth/internal/core/compose"
)

// =============================================================================
// Service Ordering Functions
// =============================================================================

// TopologicalSort sorts services by their dependencies using Kahn's
// algorithm. Services with no dependencies come first; ties break by
// definition order, so the result is deterministic and repeat runs create
// containers in the same sequence.
//
// If a cycle exists (which is caught at parse time), remaining services are
// appended in definition order as a fallback.
//
// Example:
//
//	// Services: web → api → db
//	services := []compose.Service{
//	    {Name: "web", DependsOn: []string{"api"}},
//	    {Name: "api", DependsOn: []string{"db"}},
//	    {Name: "db"},
//	}
//	sorted := TopologicalSort(services)
//	// Result: [db, api, web]
func TopologicalSort(services []compose.Service) []compose.Service {
	if len(services) == 0 {
		return services
	}

	serviceMap := make(map[string]compose.Service)
	inDegree := make(map[string]int)
	dependents := make(map[string][]string)

	for _, svc := range services {
		serviceMap[svc.Name] = svc
		inDegree[svc.Name] = len(svc.DependsOn)
		for _, dep := range svc.DependsOn {
			dependents[dep] = append(dependents[dep], svc.Name)
		}
	}

	// Seed the queue in definition order, not map order, so independent
	// services keep a stable relative position.
	var queue []string
	for _, svc := range services {
		if inDegree[svc.Name] == 0 {
			queue = append(queue, svc.Name)
		}
	}

	var result []compose.Service
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		if svc, ok := serviceMap[name]; ok {
			result = append(result, svc)
		}

		for _, dep := range dependents[name] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	// A shorter result means a cycle; append the leftovers in definition
	// order rather than dropping them.
	if len(result) < len(services) {
		placed := make(map[string]bool, len(result))
		for _, r := range result {
			placed[r.Name] = true
		}
		for _, svc := range services {
			if !placed[svc.Name] {
				result = append(result, svc)
			}
		}
	}

	return result
}
