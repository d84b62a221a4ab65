package deployment

import "fmt"

// =============================================================================
// Resource Naming Functions
// =============================================================================

// NetworkName generates the default network name for a project.
// Pattern: {project}_default, matching docker compose conventions so
// operators can mix manual compose commands with deploy runs.
//
// Example:
//
//	NetworkName("myapp") // returns "myapp_default"
func NetworkName(project string) string {
	return fmt.Sprintf("%s_default", project)
}

// ScopedNetworkName generates the name for a network declared in the
// compose file.
// Pattern: {project}_{key}
//
// Example:
//
//	ScopedNetworkName("myapp", "backend") // returns "myapp_backend"
func ScopedNetworkName(project, key string) string {
	return fmt.Sprintf("%s_%s", project, key)
}

// VolumeName generates a named volume's name.
// Pattern: {project}_{volumeName}
//
// Example:
//
//	VolumeName("myapp", "pgdata") // returns "myapp_pgdata"
func VolumeName(project, volumeName string) string {
	return fmt.Sprintf("%s_%s", project, volumeName)
}

// ContainerName generates a container name for a service. An explicit
// container_name from the compose file wins; otherwise the name follows
// the {project}_{service} pattern.
//
// Example:
//
//	ContainerName("myapp", "web", "")       // returns "myapp_web"
//	ContainerName("myapp", "web", "frontA") // returns "frontA"
func ContainerName(project, service, override string) string {
	if override != "" {
		return override
	}
	return fmt.Sprintf("%s_%s", project, service)
}
