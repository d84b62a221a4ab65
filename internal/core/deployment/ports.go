package deployment

import (
	"fmt"
	"sort"
)

// =============================================================================
// Host Port Collection Functions
// =============================================================================

// PortClaim is one host port a project plan will bind. The bootstrap phase
// probes these before touching anything so a taken port fails the run
// up front instead of mid-apply.
type PortClaim struct {
	HostIP   string
	Port     int
	Protocol string
}

// String formats the claim the way docker ps shows bindings.
//
// Example:
//
//	PortClaim{Port: 80, Protocol: "tcp"}.String()
//	// "80/tcp"
//	PortClaim{HostIP: "127.0.0.1", Port: 8080, Protocol: "tcp"}.String()
//	// "127.0.0.1:8080/tcp"
func (c PortClaim) String() string {
	if c.HostIP != "" {
		return fmt.Sprintf("%s:%d/%s", c.HostIP, c.Port, c.Protocol)
	}
	return fmt.Sprintf("%d/%s", c.Port, c.Protocol)
}

// RequiredPorts collects the host ports the given container plans will bind.
// Container-only ports (published 0) are skipped, duplicates collapse, and
// the result is sorted so error messages and probes are deterministic.
func RequiredPorts(plans []ContainerPlan) []PortClaim {
	seen := make(map[PortClaim]bool)
	var claims []PortClaim

	for _, plan := range plans {
		for _, p := range plan.Ports {
			if p.HostPort <= 0 {
				continue
			}
			proto := p.Protocol
			if proto == "" {
				proto = "tcp"
			}
			claim := PortClaim{
				HostIP:   p.HostIP,
				Port:     p.HostPort,
				Protocol: proto,
			}
			if seen[claim] {
				continue
			}
			seen[claim] = true
			claims = append(claims, claim)
		}
	}

	sort.Slice(claims, func(i, j int) bool {
		if claims[i].Port != claims[j].Port {
			return claims[i].Port < claims[j].Port
		}
		if claims[i].Protocol != claims[j].Protocol {
			return claims[i].Protocol < claims[j].Protocol
		}
		return claims[i].HostIP < claims[j].HostIP
	})

	return claims
}
