package deploy

// =============================================================================
// Run Status
// =============================================================================

// Status is the outcome of a deployment run.
type Status string

const (
	// StatusRunning marks a run still in progress. It is recorded in the
	// run history and never returned as a final outcome.
	StatusRunning Status = "running"

	// StatusDeployed means every stage succeeded.
	StatusDeployed Status = "deployed"

	// StatusDeployedDegraded means the service converged but certificate
	// issuance failed; the proxy keeps serving plain HTTP.
	StatusDeployedDegraded Status = "deployed_degraded"

	// StatusFailed means a stage failed and the run stopped.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status is a final outcome.
func (s Status) Terminal() bool {
	switch s {
	case StatusDeployed, StatusDeployedDegraded, StatusFailed:
		return true
	}
	return false
}

// IsValid reports whether the status is a known value.
func (s Status) IsValid() bool {
	switch s {
	case StatusRunning, StatusDeployed, StatusDeployedDegraded, StatusFailed:
		return true
	}
	return false
}
