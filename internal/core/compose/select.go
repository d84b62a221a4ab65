package compose

import (
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// Service Selection
// =============================================================================

// Select narrows a spec to the named services plus everything they depend on,
// transitively. Top-level networks and volumes are kept only when a selected
// service references them. An empty selection returns the spec unchanged.
//
// Selecting a name the spec does not define returns ErrUnknownService with a
// message listing the available services.
func (s *ParsedSpec) Select(names []string) (*ParsedSpec, error) {
	if len(names) == 0 {
		return s, nil
	}

	byName := make(map[string]*Service, len(s.Services))
	for i := range s.Services {
		byName[s.Services[i].Name] = &s.Services[i]
	}

	var unknown []string
	for _, name := range names {
		if _, ok := byName[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		available := s.ServiceNames()
		sort.Strings(unknown)
		return nil, NewParseError("services",
			fmt.Sprintf("unknown services: %s (available: %s)",
				strings.Join(unknown, ", "), strings.Join(available, ", ")),
			ErrUnknownService)
	}

	// Walk depends_on so a selection never drops a service it needs.
	keep := make(map[string]bool)
	var include func(name string)
	include = func(name string) {
		if keep[name] {
			return
		}
		keep[name] = true
		svc := byName[name]
		if svc == nil {
			return
		}
		for _, dep := range svc.DependsOn {
			include(dep)
		}
	}
	for _, name := range names {
		include(name)
	}

	out := &ParsedSpec{}
	usedNetworks := make(map[string]bool)
	usedVolumes := make(map[string]bool)
	for _, svc := range s.Services {
		if !keep[svc.Name] {
			continue
		}
		out.Services = append(out.Services, svc)
		for _, net := range svc.Networks {
			usedNetworks[net] = true
		}
		for _, mount := range svc.Volumes {
			if mount.Type == VolumeMountTypeVolume {
				usedVolumes[mount.Source] = true
			}
		}
	}
	for _, net := range s.Networks {
		if usedNetworks[net.Name] {
			out.Networks = append(out.Networks, net)
		}
	}
	for _, vol := range s.Volumes {
		if usedVolumes[vol.Name] {
			out.Volumes = append(out.Volumes, vol)
		}
	}

	return out, nil
}
