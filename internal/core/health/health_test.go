package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// Classify Tests
// =============================================================================

func TestClassify_Running(t *testing.T) {
	result := Classify(ContainerState{Name: "web", Status: "running"})

	assert.Equal(t, StatusHealthy, result)
}

func TestClassify_NotRunning(t *testing.T) {
	tests := []string{"exited", "paused", "dead", "created"}

	for _, status := range tests {
		t.Run(status, func(t *testing.T) {
			result := Classify(ContainerState{Name: "web", Status: status})
			assert.Equal(t, StatusUnhealthy, result)
		})
	}
}

func TestClassify_HealthCheckResults(t *testing.T) {
	tests := []struct {
		health   string
		expected Status
	}{
		{"healthy", StatusHealthy},
		{"unhealthy", StatusUnhealthy},
		{"starting", StatusDegraded},
		{"", StatusHealthy},
	}

	for _, tt := range tests {
		t.Run("health="+tt.health, func(t *testing.T) {
			result := Classify(ContainerState{Name: "web", Status: "running", Health: tt.health})
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestClassify_HighRestarts(t *testing.T) {
	tests := []struct {
		restarts int
		expected Status
	}{
		{0, StatusHealthy},
		{3, StatusHealthy},
		{4, StatusDegraded},
		{10, StatusDegraded},
	}

	for _, tt := range tests {
		result := Classify(ContainerState{Name: "web", Status: "running", Restarts: tt.restarts})
		assert.Equal(t, tt.expected, result)
	}
}

func TestClassify_Precedence(t *testing.T) {
	// Failing health check beats restart count.
	result := Classify(ContainerState{Name: "web", Status: "running", Health: "unhealthy", Restarts: 10})
	assert.Equal(t, StatusUnhealthy, result)

	// Non-running status beats everything.
	result = Classify(ContainerState{Name: "web", Status: "exited", Health: "healthy"})
	assert.Equal(t, StatusUnhealthy, result)

	// High restarts still count when the check passes.
	result = Classify(ContainerState{Name: "web", Status: "running", Health: "healthy", Restarts: 5})
	assert.Equal(t, StatusDegraded, result)
}

// =============================================================================
// Aggregate Tests
// =============================================================================

func TestAggregate_AllHealthy(t *testing.T) {
	containers := []ContainerState{
		{Name: "web", Status: "running"},
		{Name: "db", Status: "running", Health: "healthy"},
	}

	assert.Equal(t, StatusHealthy, Aggregate(containers))
}

func TestAggregate_OneUnhealthy(t *testing.T) {
	containers := []ContainerState{
		{Name: "web", Status: "running"},
		{Name: "db", Status: "exited"},
	}

	assert.Equal(t, StatusDegraded, Aggregate(containers))
}

func TestAggregate_AllUnhealthy(t *testing.T) {
	containers := []ContainerState{
		{Name: "web", Status: "exited"},
		{Name: "db", Status: "dead"},
	}

	assert.Equal(t, StatusUnhealthy, Aggregate(containers))
}

func TestAggregate_MixedStatus(t *testing.T) {
	tests := []struct {
		name       string
		containers []ContainerState
		expected   Status
	}{
		{
			name: "one starting",
			containers: []ContainerState{
				{Name: "web", Status: "running"},
				{Name: "db", Status: "running", Health: "starting"},
			},
			expected: StatusDegraded,
		},
		{
			name: "unhealthy and degraded",
			containers: []ContainerState{
				{Name: "web", Status: "exited"},
				{Name: "db", Status: "running", Restarts: 5},
				{Name: "cache", Status: "running"},
			},
			expected: StatusDegraded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Aggregate(tt.containers))
		})
	}
}

func TestAggregate_NoContainers(t *testing.T) {
	assert.Equal(t, StatusUnknown, Aggregate(nil))
}

// =============================================================================
// Settled Tests
// =============================================================================

func TestSettled_AllRunning(t *testing.T) {
	containers := []ContainerState{
		{Name: "web", Status: "running"},
		{Name: "db", Status: "running", Health: "healthy"},
	}

	assert.True(t, Settled(containers))
}

func TestSettled_StartingHealthCheck(t *testing.T) {
	containers := []ContainerState{
		{Name: "web", Status: "running", Health: "starting"},
	}

	assert.False(t, Settled(containers))
}

func TestSettled_RestartingContainer(t *testing.T) {
	containers := []ContainerState{
		{Name: "web", Status: "restarting"},
	}

	assert.False(t, Settled(containers))
}

func TestSettled_FailedContainerIsFinal(t *testing.T) {
	// An exited container is settled; it will not improve by itself.
	containers := []ContainerState{
		{Name: "web", Status: "exited"},
	}

	assert.True(t, Settled(containers))
}

func TestSettled_Empty(t *testing.T) {
	assert.True(t, Settled(nil))
}
